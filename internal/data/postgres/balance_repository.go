package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/balance"
	"github.com/hongbao-ledger/internal/platform/persistence"
	"github.com/jackc/pgx/v5"
)

// BalanceRepository implements the balance.Repository interface for PostgreSQL
type BalanceRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewBalanceRepository creates a new PostgreSQL balance repository
func NewBalanceRepository(logger *slog.Logger, db *persistence.PostgresDB) balance.Repository {
	return &BalanceRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository bound to tx so the row lock taken by LockForUpdate
// covers every later call in the same transaction.
func (r *BalanceRepository) WithTx(tx pgx.Tx) balance.Repository {
	return &BalanceRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Get reads the balance without locking and without creating a row
func (r *BalanceRepository) Get(ctx context.Context, userID int64, a asset.Asset) (*balance.Balance, error) {
	query := `
		SELECT user_id, asset, amount::text, version, updated_at
		FROM balances
		WHERE user_id = $1 AND asset = $2
	`

	b, err := r.scanBalance(r.querier.QueryRow(ctx, query, userID, string(a)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, balance.ErrBalanceNotFound{UserID: userID, Asset: a}
		}
		r.logger.Error("Failed to get balance", "user_id", userID, "asset", string(a), "error", err)
		return nil, wrapPgError("failed to get balance", err)
	}

	return b, nil
}

// LockForUpdate creates the balance row lazily and then takes a row lock on it.
// Must be called inside a transaction.
func (r *BalanceRepository) LockForUpdate(ctx context.Context, userID int64, a asset.Asset) (*balance.Balance, error) {
	insert := `
		INSERT INTO balances (user_id, asset, amount, version, updated_at)
		VALUES ($1, $2, 0, 0, NOW())
		ON CONFLICT (user_id, asset) DO NOTHING
	`
	if _, err := r.querier.Exec(ctx, insert, userID, string(a)); err != nil {
		r.logger.Error("Failed to ensure balance row", "user_id", userID, "asset", string(a), "error", err)
		return nil, wrapPgError("failed to ensure balance row", err)
	}

	query := `
		SELECT user_id, asset, amount::text, version, updated_at
		FROM balances
		WHERE user_id = $1 AND asset = $2
		FOR UPDATE
	`

	b, err := r.scanBalance(r.querier.QueryRow(ctx, query, userID, string(a)))
	if err != nil {
		r.logger.Error("Failed to lock balance for update", "user_id", userID, "asset", string(a), "error", err)
		return nil, wrapPgError("failed to lock balance for update", err)
	}

	return b, nil
}

// Update writes a new amount. The version check catches writers that skipped the row lock.
func (r *BalanceRepository) Update(ctx context.Context, b *balance.Balance) error {
	query := `
		UPDATE balances
		SET amount = $1::numeric, version = $2, updated_at = $3
		WHERE user_id = $4 AND asset = $5 AND version = $6
	`

	result, err := r.querier.Exec(ctx, query,
		b.Amount.String(),
		b.Version,
		b.UpdatedAt,
		b.UserID,
		string(b.Asset),
		b.Version-1,
	)
	if err != nil {
		r.logger.Error("Failed to update balance", "user_id", b.UserID, "asset", string(b.Asset), "error", err)
		return wrapPgError("failed to update balance", err)
	}

	if result.RowsAffected() == 0 {
		return balance.ErrConcurrentModification
	}

	return nil
}

// ListHolders returns the next page of nonzero balances for the asset after afterUserID
func (r *BalanceRepository) ListHolders(ctx context.Context, a asset.Asset, afterUserID int64, limit int) ([]*balance.Balance, error) {
	query := `
		SELECT user_id, asset, amount::text, version, updated_at
		FROM balances
		WHERE asset = $1 AND user_id > $2 AND amount <> 0
		ORDER BY user_id ASC
		LIMIT $3
	`

	rows, err := r.querier.Query(ctx, query, string(a), afterUserID, limit)
	if err != nil {
		r.logger.Error("Failed to list balance holders", "asset", string(a), "error", err)
		return nil, wrapPgError("failed to list balance holders", err)
	}
	defer rows.Close()

	var balances []*balance.Balance
	for rows.Next() {
		b, err := r.scanBalance(rows)
		if err != nil {
			r.logger.Error("Failed to scan balance", "error", err)
			return nil, wrapPgError("failed to scan balance", err)
		}
		balances = append(balances, b)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over balances", "error", err)
		return nil, wrapPgError("error iterating over balances", err)
	}

	return balances, nil
}

func (r *BalanceRepository) scanBalance(row pgx.Row) (*balance.Balance, error) {
	var (
		b        balance.Balance
		assetTag string
		amount   string
	)
	if err := row.Scan(&b.UserID, &assetTag, &amount, &b.Version, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Asset = asset.Asset(assetTag)
	d, err := parseAmount(amount)
	if err != nil {
		return nil, err
	}
	b.Amount = d
	return &b, nil
}
