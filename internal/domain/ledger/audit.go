package ledger

import "context"

// AuditRepository is the read-optimised mirror of committed ledger entries
type AuditRepository interface {
	// Upsert is keyed by entry id so redelivered outbox messages do not duplicate documents
	Upsert(ctx context.Context, entry *Entry) error
	GetByEntryID(ctx context.Context, entryID int64) (*Entry, error)
	FindByUser(ctx context.Context, userID int64, limit, offset int) ([]*Entry, error)
	CountByUser(ctx context.Context, userID int64) (int64, error)
}
