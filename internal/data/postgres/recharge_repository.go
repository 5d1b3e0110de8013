package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/recharge"
	"github.com/hongbao-ledger/internal/platform/persistence"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, user_id, asset, amount, status, provider,
		COALESCE(invoice_id, ''), COALESCE(payment_id, ''), payment_url, pay_address, pay_amount,
		pay_currency, network, purchase_id, tx_hash, note,
		created_at, updated_at, expire_at, finished_at, refreshed_at`

// RechargeOrderRepository implements the recharge.Repository interface for PostgreSQL
type RechargeOrderRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewRechargeOrderRepository creates a new PostgreSQL recharge order repository
func NewRechargeOrderRepository(logger *slog.Logger, db *persistence.PostgresDB) recharge.Repository {
	return &RechargeOrderRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *RechargeOrderRepository) WithTx(tx pgx.Tx) recharge.Repository {
	return &RechargeOrderRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new PENDING order and fills its id and timestamps
func (r *RechargeOrderRepository) Create(ctx context.Context, o *recharge.Order) error {
	query := `
		INSERT INTO recharge_orders (user_id, asset, amount, status, provider, note, expire_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.querier.QueryRow(ctx, query,
		o.UserID,
		string(o.Asset),
		o.Amount,
		string(o.Status),
		o.Provider,
		o.Note,
		o.ExpireAt,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create recharge order", "user_id", o.UserID, "error", err)
		return fmt.Errorf("failed to create recharge order: %w", err)
	}

	return nil
}

// GetByID retrieves an order without locking
func (r *RechargeOrderRepository) GetByID(ctx context.Context, id int64) (*recharge.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM recharge_orders
		WHERE id = $1
	`

	o, err := scanOrder(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, recharge.ErrOrderNotFound{ID: id}
		}
		r.logger.Error("Failed to get recharge order", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get recharge order: %w", err)
	}

	return o, nil
}

// GetByPaymentID resolves an order from the provider's payment id
func (r *RechargeOrderRepository) GetByPaymentID(ctx context.Context, paymentID string) (*recharge.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM recharge_orders
		WHERE payment_id = $1
	`

	o, err := scanOrder(r.querier.QueryRow(ctx, query, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, recharge.ErrOrderNotFound{PaymentID: paymentID}
		}
		r.logger.Error("Failed to get recharge order by payment ID", "payment_id", paymentID, "error", err)
		return nil, fmt.Errorf("failed to get recharge order by payment ID: %w", err)
	}

	return o, nil
}

// LockForUpdate reads the order holding a row lock until the transaction ends
func (r *RechargeOrderRepository) LockForUpdate(ctx context.Context, id int64) (*recharge.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM recharge_orders
		WHERE id = $1
		FOR UPDATE
	`

	o, err := scanOrder(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, recharge.ErrOrderNotFound{ID: id}
		}
		r.logger.Error("Failed to lock recharge order", "id", id, "error", err)
		return nil, wrapPgError("failed to lock recharge order", err)
	}

	return o, nil
}

// ListByUser returns the user's most recent orders
func (r *RechargeOrderRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*recharge.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM recharge_orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.querier.Query(ctx, query, userID, limit)
	if err != nil {
		r.logger.Error("Failed to list recharge orders", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list recharge orders: %w", err)
	}
	defer rows.Close()

	return r.collectOrders(rows)
}

// SaveProviderFields writes back provider attributes; empty values keep what is stored
func (r *RechargeOrderRepository) SaveProviderFields(ctx context.Context, id int64, f recharge.ProviderFields) error {
	query := `
		UPDATE recharge_orders
		SET invoice_id   = COALESCE(NULLIF($1, ''), invoice_id),
		    payment_id   = COALESCE(NULLIF($2, ''), payment_id),
		    payment_url  = COALESCE(NULLIF($3, ''), payment_url),
		    pay_address  = COALESCE(NULLIF($4, ''), pay_address),
		    pay_amount   = COALESCE(NULLIF($5, ''), pay_amount),
		    pay_currency = COALESCE(NULLIF($6, ''), pay_currency),
		    network      = COALESCE(NULLIF($7, ''), network),
		    purchase_id  = COALESCE(NULLIF($8, ''), purchase_id),
		    expire_at    = COALESCE($9, expire_at),
		    updated_at   = NOW()
		WHERE id = $10
	`

	result, err := r.querier.Exec(ctx, query,
		f.InvoiceID,
		f.PaymentID,
		f.PaymentURL,
		f.PayAddress,
		f.PayAmount,
		f.PayCurrency,
		f.Network,
		f.PurchaseID,
		f.ExpireAt,
		id,
	)
	if err != nil {
		r.logger.Error("Failed to save provider fields", "id", id, "error", err)
		return fmt.Errorf("failed to save provider fields: %w", err)
	}

	if result.RowsAffected() == 0 {
		return recharge.ErrOrderNotFound{ID: id}
	}

	return nil
}

// ClaimProvisioning takes the provisioning lease when it is free or stale
func (r *RechargeOrderRepository) ClaimProvisioning(ctx context.Context, id int64, lease time.Duration) (bool, error) {
	query := `
		UPDATE recharge_orders
		SET provisioning_at = NOW()
		WHERE id = $1
		  AND status = 'PENDING'
		  AND (provisioning_at IS NULL OR provisioning_at < NOW() - make_interval(secs => $2))
	`

	result, err := r.querier.Exec(ctx, query, id, lease.Seconds())
	if err != nil {
		r.logger.Error("Failed to claim provisioning lease", "id", id, "error", err)
		return false, fmt.Errorf("failed to claim provisioning lease: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// ReleaseProvisioning frees the lease so a later call may retry the provider
func (r *RechargeOrderRepository) ReleaseProvisioning(ctx context.Context, id int64) error {
	query := `
		UPDATE recharge_orders
		SET provisioning_at = NULL
		WHERE id = $1
	`

	if _, err := r.querier.Exec(ctx, query, id); err != nil {
		r.logger.Error("Failed to release provisioning lease", "id", id, "error", err)
		return fmt.Errorf("failed to release provisioning lease: %w", err)
	}

	return nil
}

// Transition applies a terminal status only while the order is still PENDING
func (r *RechargeOrderRepository) Transition(ctx context.Context, id int64, to recharge.Status, txHash, note string) (bool, error) {
	query := `
		UPDATE recharge_orders
		SET status      = $1,
		    tx_hash     = COALESCE(NULLIF($2, ''), tx_hash),
		    note        = COALESCE(NULLIF($3, ''), note),
		    finished_at = NOW(),
		    updated_at  = NOW()
		WHERE id = $4 AND status = 'PENDING'
	`

	result, err := r.querier.Exec(ctx, query, string(to), txHash, note, id)
	if err != nil {
		r.logger.Error("Failed to transition recharge order", "id", id, "to", string(to), "error", err)
		return false, wrapPgError("failed to transition recharge order", err)
	}

	return result.RowsAffected() == 1, nil
}

// TouchRefreshed records that the provider was just polled for this order
func (r *RechargeOrderRepository) TouchRefreshed(ctx context.Context, id int64) error {
	query := `
		UPDATE recharge_orders
		SET refreshed_at = NOW()
		WHERE id = $1
	`

	if _, err := r.querier.Exec(ctx, query, id); err != nil {
		r.logger.Error("Failed to touch refreshed_at", "id", id, "error", err)
		return fmt.Errorf("failed to touch refreshed_at: %w", err)
	}

	return nil
}

// ExpireOverdue moves PENDING orders past expire_at to EXPIRED and returns their ids.
// SKIP LOCKED leaves orders another worker is settling alone.
func (r *RechargeOrderRepository) ExpireOverdue(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	query := `
		UPDATE recharge_orders
		SET status = 'EXPIRED', finished_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM recharge_orders
			WHERE status = 'PENDING' AND expire_at < $1
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`

	rows, err := r.querier.Query(ctx, query, now, limit)
	if err != nil {
		r.logger.Error("Failed to expire overdue orders", "error", err)
		return nil, fmt.Errorf("failed to expire overdue orders: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan expired order id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over expired orders: %w", err)
	}

	return ids, nil
}

// ListStalePending returns PENDING orders with a provider payment that were not polled since refreshedBefore
func (r *RechargeOrderRepository) ListStalePending(ctx context.Context, refreshedBefore time.Time, limit int) ([]*recharge.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM recharge_orders
		WHERE status = 'PENDING'
		  AND payment_id IS NOT NULL
		  AND (refreshed_at IS NULL OR refreshed_at < $1)
		ORDER BY id
		LIMIT $2
	`

	rows, err := r.querier.Query(ctx, query, refreshedBefore, limit)
	if err != nil {
		r.logger.Error("Failed to list stale pending orders", "error", err)
		return nil, fmt.Errorf("failed to list stale pending orders: %w", err)
	}
	defer rows.Close()

	return r.collectOrders(rows)
}

func (r *RechargeOrderRepository) collectOrders(rows pgx.Rows) ([]*recharge.Order, error) {
	var orders []*recharge.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			r.logger.Error("Failed to scan recharge order", "error", err)
			return nil, fmt.Errorf("failed to scan recharge order: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over recharge orders", "error", err)
		return nil, fmt.Errorf("error iterating over recharge orders: %w", err)
	}

	return orders, nil
}

func scanOrder(row pgx.Row) (*recharge.Order, error) {
	var (
		o        recharge.Order
		assetTag string
		status   string
	)
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&assetTag,
		&o.Amount,
		&status,
		&o.Provider,
		&o.InvoiceID,
		&o.PaymentID,
		&o.PaymentURL,
		&o.PayAddress,
		&o.PayAmount,
		&o.PayCurrency,
		&o.Network,
		&o.PurchaseID,
		&o.TxHash,
		&o.Note,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.ExpireAt,
		&o.FinishedAt,
		&o.RefreshedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Asset = asset.Asset(assetTag)
	o.Status = recharge.Status(status)
	return &o, nil
}

// PaymentDedupRepository implements recharge.DedupRepository on the processed_payments table
type PaymentDedupRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewPaymentDedupRepository creates a new PostgreSQL payment dedup repository
func NewPaymentDedupRepository(logger *slog.Logger, db *persistence.PostgresDB) recharge.DedupRepository {
	return &PaymentDedupRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *PaymentDedupRepository) WithTx(tx pgx.Tx) recharge.DedupRepository {
	return &PaymentDedupRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Record inserts the payment id; false means it had already been recorded.
// Two concurrent inserts of the same id serialize on the primary key.
func (r *PaymentDedupRepository) Record(ctx context.Context, paymentID string, orderID int64, provider string) (bool, error) {
	query := `
		INSERT INTO processed_payments (payment_id, order_id, provider)
		VALUES ($1, $2, $3)
		ON CONFLICT (payment_id) DO NOTHING
	`

	result, err := r.querier.Exec(ctx, query, paymentID, orderID, provider)
	if err != nil {
		r.logger.Error("Failed to record processed payment", "payment_id", paymentID, "error", err)
		return false, wrapPgError("failed to record processed payment", err)
	}

	return result.RowsAffected() == 1, nil
}

// Exists reports whether the payment id was already recorded
func (r *PaymentDedupRepository) Exists(ctx context.Context, paymentID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM processed_payments WHERE payment_id = $1)`

	var exists bool
	if err := r.querier.QueryRow(ctx, query, paymentID).Scan(&exists); err != nil {
		r.logger.Error("Failed to check processed payment", "payment_id", paymentID, "error", err)
		return false, fmt.Errorf("failed to check processed payment: %w", err)
	}

	return exists, nil
}
