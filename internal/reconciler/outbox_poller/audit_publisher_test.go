package outbox_poller

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/ledger"
	"github.com/hongbao-ledger/internal/domain/outbox"
	"github.com/hongbao-ledger/internal/domain/shared"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOutboxRepo for testing
type MockOutboxRepo struct {
	mock.Mock
}

func (m *MockOutboxRepo) Create(ctx context.Context, message *outbox.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockOutboxRepo) GetPending(ctx context.Context, limit int) ([]*outbox.Message, error) {
	args := m.Called(ctx, limit)
	msgs, _ := args.Get(0).([]*outbox.Message)
	return msgs, args.Error(1)
}

func (m *MockOutboxRepo) UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockOutboxRepo) IncrementAttempts(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepo) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepo) GetByEntryID(ctx context.Context, entryID int64) (*outbox.Message, error) {
	args := m.Called(ctx, entryID)
	msg, _ := args.Get(0).(*outbox.Message)
	return msg, args.Error(1)
}

func (m *MockOutboxRepo) WithTx(tx pgx.Tx) outbox.Repository {
	return m
}

// MockAuditRepo for testing
type MockAuditRepo struct {
	mock.Mock
}

func (m *MockAuditRepo) Upsert(ctx context.Context, entry *ledger.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockAuditRepo) GetByEntryID(ctx context.Context, entryID int64) (*ledger.Entry, error) {
	args := m.Called(ctx, entryID)
	e, _ := args.Get(0).(*ledger.Entry)
	return e, args.Error(1)
}

func (m *MockAuditRepo) FindByUser(ctx context.Context, userID int64, limit, offset int) ([]*ledger.Entry, error) {
	args := m.Called(ctx, userID, limit, offset)
	e, _ := args.Get(0).([]*ledger.Entry)
	return e, args.Error(1)
}

func (m *MockAuditRepo) CountByUser(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func newMessage(t *testing.T, id int64) *outbox.Message {
	t.Helper()
	msg, err := outbox.NewMessage(&ledger.Entry{
		ID:        id * 10,
		UserID:    7,
		Kind:      ledger.KindRecharge,
		Asset:     asset.USDT,
		Amount:    decimal.RequireFromString("10"),
		RefType:   ledger.RefOrder,
		RefID:     "42",
		CreatedAt: time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	msg.ID = id
	return msg
}

func TestAuditPublisher_Publish(t *testing.T) {
	logger := slog.Default()
	ctx := context.Background()

	isEntry := mock.MatchedBy(func(e *ledger.Entry) bool {
		return e.ID == 10 && e.Kind == ledger.KindRecharge && e.Amount.Equal(decimal.RequireFromString("10"))
	})

	tests := []struct {
		name          string
		message       func(t *testing.T) *outbox.Message
		setupMocks    func(o *MockOutboxRepo, a *MockAuditRepo)
		expectedError string
	}{
		{
			name:    "mirrors and marks processed",
			message: func(t *testing.T) *outbox.Message { return newMessage(t, 1) },
			setupMocks: func(o *MockOutboxRepo, a *MockAuditRepo) {
				a.On("Upsert", mock.Anything, isEntry).Return(nil).Once()
				o.On("UpdateStatus", mock.Anything, int64(1), shared.OutboxStatusProcessed).Return(nil).Once()
			},
		},
		{
			name:    "mirror failure leaves message pending",
			message: func(t *testing.T) *outbox.Message { return newMessage(t, 1) },
			setupMocks: func(o *MockOutboxRepo, a *MockAuditRepo) {
				a.On("Upsert", mock.Anything, isEntry).Return(errors.New("mongo down")).Once()
			},
			expectedError: "failed to mirror ledger entry 10",
		},
		{
			name:    "status update failure",
			message: func(t *testing.T) *outbox.Message { return newMessage(t, 1) },
			setupMocks: func(o *MockOutboxRepo, a *MockAuditRepo) {
				a.On("Upsert", mock.Anything, isEntry).Return(nil).Once()
				o.On("UpdateStatus", mock.Anything, int64(1), shared.OutboxStatusProcessed).Return(errors.New("pg down")).Once()
			},
			expectedError: "failed to mark outbox 1 as PROCESSED",
		},
		{
			name: "undecodable payload is parked",
			message: func(t *testing.T) *outbox.Message {
				return &outbox.Message{ID: 2, Payload: json.RawMessage(`{"amount":`)}
			},
			setupMocks: func(o *MockOutboxRepo, a *MockAuditRepo) {
				o.On("UpdateStatus", mock.Anything, int64(2), shared.OutboxStatusFailedToPublish).Return(nil).Once()
			},
			expectedError: "unmarshal payload for outbox 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outboxRepo := &MockOutboxRepo{}
			auditRepo := &MockAuditRepo{}
			tt.setupMocks(outboxRepo, auditRepo)

			publisher := NewAuditPublisher(outboxRepo, auditRepo, logger)
			err := publisher.Publish(ctx, tt.message(t))

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
			outboxRepo.AssertExpectations(t)
			auditRepo.AssertExpectations(t)
		})
	}
}
