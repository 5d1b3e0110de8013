package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

const (
	// LedgerAuditCollectionName is the name of the ledger mirror collection in MongoDB
	LedgerAuditCollectionName = "ledger_audit"
)

// auditDocument keeps amounts as strings; BSON has no lossless decimal.Decimal codec
type auditDocument struct {
	EntryID    int64     `bson:"entry_id"`
	UserID     int64     `bson:"user_id"`
	Kind       string    `bson:"kind"`
	Asset      string    `bson:"asset"`
	Amount     string    `bson:"amount"`
	RefType    string    `bson:"ref_type,omitempty"`
	RefID      string    `bson:"ref_id,omitempty"`
	Note       string    `bson:"note,omitempty"`
	OperatorID *int64    `bson:"operator_id,omitempty"`
	CreatedAt  time.Time `bson:"created_at"`
	MirroredAt time.Time `bson:"mirrored_at"`
}

func toDocument(e *ledger.Entry) auditDocument {
	return auditDocument{
		EntryID:    e.ID,
		UserID:     e.UserID,
		Kind:       string(e.Kind),
		Asset:      string(e.Asset),
		Amount:     e.Amount.String(),
		RefType:    string(e.RefType),
		RefID:      e.RefID,
		Note:       e.Note,
		OperatorID: e.OperatorID,
		CreatedAt:  e.CreatedAt,
		MirroredAt: time.Now().UTC(),
	}
}

func (d auditDocument) toEntry() (*ledger.Entry, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid mirrored amount %q: %w", d.Amount, err)
	}
	return &ledger.Entry{
		ID:         d.EntryID,
		UserID:     d.UserID,
		Kind:       ledger.Kind(d.Kind),
		Asset:      asset.Asset(d.Asset),
		Amount:     amount,
		RefType:    ledger.RefType(d.RefType),
		RefID:      d.RefID,
		Note:       d.Note,
		OperatorID: d.OperatorID,
		CreatedAt:  d.CreatedAt,
	}, nil
}

// LedgerAuditRepository implements the ledger.AuditRepository interface for MongoDB
type LedgerAuditRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewLedgerAuditRepository creates a new MongoDB ledger mirror repository
func NewLedgerAuditRepository(logger *slog.Logger, db *mongo.Database) ledger.AuditRepository {
	return &LedgerAuditRepository{
		db:     db,
		logger: logger,
	}
}

// IndexModels lists the indexes the audit collection relies on
func IndexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "entry_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}
}

// Upsert writes the entry keyed by its ledger id
func (r *LedgerAuditRepository) Upsert(ctx context.Context, entry *ledger.Entry) error {
	collection := r.db.Collection(LedgerAuditCollectionName)

	filter := bson.M{"entry_id": entry.ID}
	update := bson.M{"$set": toDocument(entry)}
	opts := options.Update().SetUpsert(true)

	if _, err := collection.UpdateOne(ctx, filter, update, opts); err != nil {
		r.logger.Error("Failed to mirror ledger entry",
			"entry_id", entry.ID,
			"error", err)
		return fmt.Errorf("failed to mirror ledger entry: %w", err)
	}

	return nil
}

// GetByEntryID returns ErrEntryNotFound when the entry has not been mirrored yet
func (r *LedgerAuditRepository) GetByEntryID(ctx context.Context, entryID int64) (*ledger.Entry, error) {
	collection := r.db.Collection(LedgerAuditCollectionName)

	var doc auditDocument
	err := collection.FindOne(ctx, bson.M{"entry_id": entryID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ledger.ErrEntryNotFound{ID: entryID}
		}
		r.logger.Error("Failed to get mirrored ledger entry",
			"entry_id", entryID,
			"error", err)
		return nil, fmt.Errorf("failed to get mirrored ledger entry: %w", err)
	}

	return doc.toEntry()
}

// FindByUser retrieves paginated mirrored entries for a user, newest first
func (r *LedgerAuditRepository) FindByUser(ctx context.Context, userID int64, limit, offset int) ([]*ledger.Entry, error) {
	collection := r.db.Collection(LedgerAuditCollectionName)

	filter := bson.M{"user_id": userID}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "entry_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to find mirrored ledger entries",
			"user_id", userID,
			"error", err)
		return nil, fmt.Errorf("failed to find mirrored ledger entries: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []auditDocument
	if err := cursor.All(ctx, &docs); err != nil {
		r.logger.Error("Failed to decode mirrored ledger entries",
			"user_id", userID,
			"error", err)
		return nil, fmt.Errorf("failed to decode mirrored ledger entries: %w", err)
	}

	entries := make([]*ledger.Entry, 0, len(docs))
	for _, d := range docs {
		e, err := d.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, nil
}

// CountByUser counts mirrored entries for a user
func (r *LedgerAuditRepository) CountByUser(ctx context.Context, userID int64) (int64, error) {
	collection := r.db.Collection(LedgerAuditCollectionName)

	count, err := collection.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		r.logger.Error("Failed to count mirrored ledger entries",
			"user_id", userID,
			"error", err)
		return 0, fmt.Errorf("failed to count mirrored ledger entries: %w", err)
	}

	return count, nil
}
