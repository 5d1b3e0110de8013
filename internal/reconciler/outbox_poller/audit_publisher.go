package outbox_poller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hongbao-ledger/internal/domain/ledger"
	"github.com/hongbao-ledger/internal/domain/outbox"
	"github.com/hongbao-ledger/internal/domain/shared"
)

// AuditPublisher copies one outbox message into the audit mirror
type AuditPublisher interface {
	Publish(ctx context.Context, message *outbox.Message) error
}

// MongoAuditPublisher implements AuditPublisher on top of ledger.AuditRepository
type MongoAuditPublisher struct {
	outboxRepo outbox.Repository
	auditRepo  ledger.AuditRepository
	logger     *slog.Logger
}

func NewAuditPublisher(outboxRepo outbox.Repository, auditRepo ledger.AuditRepository, logger *slog.Logger) AuditPublisher {
	return &MongoAuditPublisher{
		outboxRepo: outboxRepo,
		auditRepo:  auditRepo,
		logger:     logger,
	}
}

// Publish upserts the entry and marks the message processed. An undecodable
// payload is parked as FAILED_TO_PUBLISH since retrying cannot fix it.
func (p *MongoAuditPublisher) Publish(ctx context.Context, message *outbox.Message) error {
	entry, err := message.GetLedgerEntry()
	if err != nil {
		p.logger.Error("Failed to unmarshal ledger entry from outbox payload", "outbox_id", message.ID, "error", err)
		if updateErr := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusFailedToPublish); updateErr != nil {
			p.logger.Error("Also failed to update outbox status after unmarshal error", "outbox_id", message.ID, "update_error", updateErr)
		}
		return fmt.Errorf("unmarshal payload for outbox %d failed: %w", message.ID, err)
	}

	if err := p.auditRepo.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("failed to mirror ledger entry %d: %w", entry.ID, err)
	}

	if err := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusProcessed); err != nil {
		return fmt.Errorf("entry %d mirrored, but failed to mark outbox %d as PROCESSED: %w", entry.ID, message.ID, err)
	}

	p.logger.Debug("Ledger entry mirrored", "outbox_id", message.ID, "entry_id", entry.ID, "user_id", entry.UserID)
	return nil
}
