package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hongbao-ledger/internal/domain/approval"
	"github.com/hongbao-ledger/internal/platform/persistence"
	"github.com/jackc/pgx/v5"
)

// ApprovalRepository implements the approval.Repository interface for PostgreSQL
type ApprovalRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewApprovalRepository creates a new PostgreSQL approval repository
func NewApprovalRepository(logger *slog.Logger, db *persistence.PostgresDB) approval.Repository {
	return &ApprovalRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *ApprovalRepository) WithTx(tx pgx.Tx) approval.Repository {
	return &ApprovalRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *ApprovalRepository) Create(ctx context.Context, a *approval.Approval) error {
	query := `
		INSERT INTO admin_approvals (op_type, payload, status, submitted_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.querier.QueryRow(ctx, query,
		string(a.OpType),
		a.Payload,
		string(a.Status),
		a.SubmittedBy,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create approval", "op_type", string(a.OpType), "error", err)
		return fmt.Errorf("failed to create approval: %w", err)
	}

	return nil
}

func (r *ApprovalRepository) GetByID(ctx context.Context, id int64) (*approval.Approval, error) {
	query := `
		SELECT id, op_type, payload, status, submitted_by, approved_by, result, created_at, decided_at
		FROM admin_approvals
		WHERE id = $1
	`

	a, err := scanApproval(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, approval.ErrApprovalNotFound{ID: id}
		}
		r.logger.Error("Failed to get approval", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}

	return a, nil
}

// LockForUpdate reads the approval holding a row lock, so two admins cannot decide it at once
func (r *ApprovalRepository) LockForUpdate(ctx context.Context, id int64) (*approval.Approval, error) {
	query := `
		SELECT id, op_type, payload, status, submitted_by, approved_by, result, created_at, decided_at
		FROM admin_approvals
		WHERE id = $1
		FOR UPDATE
	`

	a, err := scanApproval(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, approval.ErrApprovalNotFound{ID: id}
		}
		r.logger.Error("Failed to lock approval", "id", id, "error", err)
		return nil, fmt.Errorf("failed to lock approval: %w", err)
	}

	return a, nil
}

// Finalize stores the decision; it only applies to rows still PENDING
func (r *ApprovalRepository) Finalize(ctx context.Context, a *approval.Approval) error {
	query := `
		UPDATE admin_approvals
		SET status = $1, approved_by = $2, result = $3, decided_at = $4
		WHERE id = $5 AND status = 'PENDING'
	`

	result, err := r.querier.Exec(ctx, query,
		string(a.Status),
		a.ApprovedBy,
		a.Result,
		a.DecidedAt,
		a.ID,
	)
	if err != nil {
		r.logger.Error("Failed to finalize approval", "id", a.ID, "error", err)
		return fmt.Errorf("failed to finalize approval: %w", err)
	}

	if result.RowsAffected() == 0 {
		return approval.ErrNotPending{ID: a.ID, Status: a.Status}
	}

	return nil
}

// Complete records the outcome of a claimed approval. The claim left the row
// APPROVED with an empty result, and only such a row accepts an outcome.
func (r *ApprovalRepository) Complete(ctx context.Context, a *approval.Approval) error {
	query := `
		UPDATE admin_approvals
		SET status = $1, result = $2
		WHERE id = $3 AND status = 'APPROVED' AND result = ''
	`

	result, err := r.querier.Exec(ctx, query, string(a.Status), a.Result, a.ID)
	if err != nil {
		r.logger.Error("Failed to record approval outcome", "id", a.ID, "error", err)
		return fmt.Errorf("failed to record approval outcome: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", approval.ErrNotAwaitingOutcome, a.ID)
	}

	return nil
}

// List returns approvals newest first; an empty status lists all of them
func (r *ApprovalRepository) List(ctx context.Context, status approval.Status, limit, offset int) ([]*approval.Approval, error) {
	query := `
		SELECT id, op_type, payload, status, submitted_by, approved_by, result, created_at, decided_at
		FROM admin_approvals
		WHERE ($1::text = '' OR status = $1)
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.querier.Query(ctx, query, string(status), limit, offset)
	if err != nil {
		r.logger.Error("Failed to list approvals", "error", err)
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*approval.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			r.logger.Error("Failed to scan approval", "error", err)
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		approvals = append(approvals, a)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over approvals", "error", err)
		return nil, fmt.Errorf("error iterating over approvals: %w", err)
	}

	return approvals, nil
}

func (r *ApprovalRepository) Count(ctx context.Context, status approval.Status) (int64, error) {
	query := `SELECT COUNT(*) FROM admin_approvals WHERE ($1::text = '' OR status = $1)`

	var count int64
	if err := r.querier.QueryRow(ctx, query, string(status)).Scan(&count); err != nil {
		r.logger.Error("Failed to count approvals", "error", err)
		return 0, fmt.Errorf("failed to count approvals: %w", err)
	}

	return count, nil
}

func scanApproval(row pgx.Row) (*approval.Approval, error) {
	var (
		a      approval.Approval
		opType string
		status string
	)
	err := row.Scan(&a.ID, &opType, &a.Payload, &status, &a.SubmittedBy, &a.ApprovedBy, &a.Result, &a.CreatedAt, &a.DecidedAt)
	if err != nil {
		return nil, err
	}
	a.OpType = approval.OpType(opType)
	a.Status = approval.Status(status)
	return &a, nil
}
