package service

import (
	"context"
	"log/slog"

	"github.com/hongbao-ledger/internal/domain/ledger"
)

// AuditServiceImpl implements the AuditService interface
type AuditServiceImpl struct {
	auditRepo ledger.AuditRepository
	logger    *slog.Logger
}

// NewAuditService creates a new audit mirror reader
func NewAuditService(logger *slog.Logger, auditRepo ledger.AuditRepository) AuditService {
	return &AuditServiceImpl{
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// ListByUser retrieves a page of mirrored entries for a user.
// Returns entries, total count, and any error
func (s *AuditServiceImpl) ListByUser(ctx context.Context, userID int64, page, perPage int) ([]*ledger.Entry, int64, error) {
	offset := (page - 1) * perPage

	entries, err := s.auditRepo.FindByUser(ctx, userID, perPage, offset)
	if err != nil {
		s.logger.Error("Failed to read audit entries", "user_id", userID, "error", err)
		return nil, 0, err
	}

	total, err := s.auditRepo.CountByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}
