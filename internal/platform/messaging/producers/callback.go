package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hongbao-ledger/internal/config"
	"github.com/segmentio/kafka-go"
)

// CallbackProducer publishes verified payment callbacks for the reconciler.
// Writes are synchronous: the webhook only acknowledges the provider once the
// broker has accepted the message.
type CallbackProducer struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
}

func NewCallbackProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*CallbackProducer, error) {
	if cfg.CallbackTopic == "" {
		return nil, fmt.Errorf("kafka callback topic is not configured")
	}

	conn, err := kafka.DialContext(ctx, "tcp", cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("failed to dial kafka for callback producer: %w", err)
	}
	defer conn.Close()

	if err := ensureTopic(conn, cfg.CallbackTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure callback topic %s exists: %w", cfg.CallbackTopic, err)
	}

	writer := &kafka.Writer{
		Addr: kafka.TCP(cfg.Brokers),
		// Callbacks for one order share a key and therefore a partition.
		Topic:        cfg.CallbackTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.MaxWait,
	}

	return &CallbackProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.CallbackTopic,
	}, nil
}

func (p *CallbackProducer) Publish(ctx context.Context, key string, value interface{}) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal callback message: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: jsonValue,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish payment callback",
			"topic", p.topic,
			"key", key,
			"error", err,
		)
		return fmt.Errorf("failed to publish message to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published payment callback", "topic", p.topic, "key", key)
	return nil
}

func (p *CallbackProducer) Close() error {
	p.logger.Info("Closing callback producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer for topic %s: %w", p.topic, err)
	}
	return nil
}
