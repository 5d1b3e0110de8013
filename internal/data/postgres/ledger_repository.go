package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/ledger"
	"github.com/hongbao-ledger/internal/platform/persistence"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// LedgerRepository implements the ledger.Repository interface for PostgreSQL
type LedgerRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewLedgerRepository creates a new PostgreSQL ledger repository
func NewLedgerRepository(logger *slog.Logger, db *persistence.PostgresDB) ledger.Repository {
	return &LedgerRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *LedgerRepository) WithTx(tx pgx.Tx) ledger.Repository {
	return &LedgerRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Append inserts the entry and fills its id and creation time
func (r *LedgerRepository) Append(ctx context.Context, entry *ledger.Entry) error {
	query := `
		INSERT INTO ledger_entries (user_id, kind, asset, amount, ref_type, ref_id, note, operator_id)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	err := r.querier.QueryRow(ctx, query,
		entry.UserID,
		string(entry.Kind),
		string(entry.Asset),
		entry.Amount.String(),
		string(entry.RefType),
		entry.RefID,
		entry.Note,
		entry.OperatorID,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to append ledger entry",
			"user_id", entry.UserID,
			"kind", string(entry.Kind),
			"error", err,
		)
		return wrapPgError("failed to append ledger entry", err)
	}

	return nil
}

// GetByID retrieves a single entry
func (r *LedgerRepository) GetByID(ctx context.Context, id int64) (*ledger.Entry, error) {
	query := `
		SELECT id, user_id, kind, asset, amount::text, ref_type, ref_id, note, operator_id, created_at
		FROM ledger_entries
		WHERE id = $1
	`

	entry, err := scanEntry(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrEntryNotFound{ID: id}
		}
		r.logger.Error("Failed to get ledger entry", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}

	return entry, nil
}

// Recent returns a user's entries newest first. (created_at, id) is the keyset so
// rows sharing a timestamp are neither skipped nor repeated across pages.
func (r *LedgerRepository) Recent(ctx context.Context, userID int64, limit int, before *ledger.Cursor) ([]*ledger.Entry, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if before == nil {
		query := `
			SELECT id, user_id, kind, asset, amount::text, ref_type, ref_id, note, operator_id, created_at
			FROM ledger_entries
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`
		rows, err = r.querier.Query(ctx, query, userID, limit)
	} else {
		query := `
			SELECT id, user_id, kind, asset, amount::text, ref_type, ref_id, note, operator_id, created_at
			FROM ledger_entries
			WHERE user_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`
		rows, err = r.querier.Query(ctx, query, userID, before.CreatedAt, before.ID, limit)
	}
	if err != nil {
		r.logger.Error("Failed to get recent ledger entries", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get recent ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			r.logger.Error("Failed to scan ledger entry", "error", err)
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over ledger entries", "error", err)
		return nil, fmt.Errorf("error iterating over ledger entries: %w", err)
	}

	return entries, nil
}

// Sum adds up the matching entries. Kinds are expanded to every stored alias.
func (r *LedgerRepository) Sum(ctx context.Context, filter ledger.SumFilter) (decimal.Decimal, error) {
	var (
		conds = []string{"user_id = $1", "asset = $2"}
		args  = []interface{}{filter.UserID, string(filter.Asset)}
	)
	if kinds := ledger.ExpandKinds(filter.Kinds); len(kinds) > 0 {
		args = append(args, kinds)
		conds = append(conds, fmt.Sprintf("kind = ANY($%d)", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := `SELECT COALESCE(SUM(amount), 0)::text FROM ledger_entries WHERE ` + strings.Join(conds, " AND ")

	var total string
	if err := r.querier.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to sum ledger entries", "user_id", filter.UserID, "error", err)
		return decimal.Zero, fmt.Errorf("failed to sum ledger entries: %w", err)
	}

	return parseAmount(total)
}

func scanEntry(row pgx.Row) (*ledger.Entry, error) {
	var (
		e        ledger.Entry
		kind     string
		assetTag string
		amount   string
		refType  string
	)
	if err := row.Scan(&e.ID, &e.UserID, &kind, &assetTag, &amount, &refType, &e.RefID, &e.Note, &e.OperatorID, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Kind = ledger.Kind(kind)
	e.Asset = asset.Asset(assetTag)
	e.RefType = ledger.RefType(refType)
	d, err := parseAmount(amount)
	if err != nil {
		return nil, err
	}
	e.Amount = d
	return &e, nil
}
