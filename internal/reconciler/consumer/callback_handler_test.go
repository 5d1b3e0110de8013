package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hongbao-ledger/internal/domain/recharge"
	"github.com/hongbao-ledger/internal/domain/shared"
	"github.com/hongbao-ledger/internal/ipn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockCallbackService for testing
type MockCallbackService struct {
	mock.Mock
}

func (m *MockCallbackService) Dispatch(ctx context.Context, callback *shared.PaymentCallback) (ipn.Outcome, error) {
	args := m.Called(ctx, callback)
	return args.Get(0).(ipn.Outcome), args.Error(1)
}

// MockDeadLetterPublisher for testing
type MockDeadLetterPublisher struct {
	mock.Mock
}

func (m *MockDeadLetterPublisher) PublishToDLQ(ctx context.Context, key string, value []byte, reason string) error {
	args := m.Called(ctx, key, value, reason)
	return args.Error(0)
}

func (m *MockDeadLetterPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestHandleMessage(t *testing.T) {
	logger := slog.Default()

	valid := &shared.PaymentCallback{
		Provider:      "nowpayments",
		OrderID:       42,
		PaymentID:     "5077125051",
		Status:        "finished",
		TxHash:        "0xabc",
		CorrelationID: "corr1",
		ReceivedAt:    time.Now().UTC(),
	}
	validJSON, err := json.Marshal(valid)
	require.NoError(t, err)

	var (
		mockCallbacks *MockCallbackService
		mockDLQ       *MockDeadLetterPublisher
	)

	tests := []struct {
		name          string
		value         []byte
		setupMocks    func()
		expectedError string
	}{
		{
			name:  "successful dispatch",
			value: validJSON,
			setupMocks: func() {
				mockCallbacks.On("Dispatch", mock.Anything, mock.MatchedBy(func(cb *shared.PaymentCallback) bool {
					return cb.PaymentID == valid.PaymentID && cb.OrderID == 42
				})).Return(ipn.OutcomeCredited, nil).Once()
			},
		},
		{
			name:  "transient error is retried",
			value: validJSON,
			setupMocks: func() {
				mockCallbacks.On("Dispatch", mock.Anything, mock.Anything).Return(ipn.Outcome(""), errors.New("connection reset")).Once()
			},
			expectedError: "applying callback 5077125051 failed",
		},
		{
			name:  "unknown order goes to DLQ",
			value: validJSON,
			setupMocks: func() {
				mockCallbacks.On("Dispatch", mock.Anything, mock.Anything).Return(ipn.Outcome(""), recharge.ErrOrderNotFound{ID: 42}).Once()
				mockDLQ.On("PublishToDLQ", mock.Anything, "5077125051", validJSON, mock.Anything).Return(nil).Once()
			},
		},
		{
			name:  "unmarshal error with successful DLQ publish",
			value: []byte("invalid json"),
			setupMocks: func() {
				mockDLQ.On("PublishToDLQ", mock.Anything, "5077125051", []byte("invalid json"), mock.Anything).Return(nil).Once()
			},
		},
		{
			name:  "unmarshal error with DLQ publish failure",
			value: []byte("invalid json"),
			setupMocks: func() {
				mockDLQ.On("PublishToDLQ", mock.Anything, "5077125051", []byte("invalid json"), mock.Anything).Return(errors.New("dlq error")).Once()
			},
			expectedError: "Failed to unmarshal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockCallbacks = &MockCallbackService{}
			mockDLQ = &MockDeadLetterPublisher{}
			mockDLQ.On("Close").Return(nil).Maybe()
			handler := NewCallbackHandler(logger, mockCallbacks, mockDLQ)

			tt.setupMocks()

			err := handler.HandleMessage(context.Background(), []byte("5077125051"), tt.value)

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				assert.NoError(t, err)
			}

			mockCallbacks.AssertExpectations(t)
			mockDLQ.AssertExpectations(t)
		})
	}
}

func TestHandleMessage_WithoutDLQ(t *testing.T) {
	handler := NewCallbackHandler(slog.Default(), &MockCallbackService{}, nil)

	err := handler.HandleMessage(context.Background(), []byte("k"), []byte("{"))
	assert.NoError(t, err, "an undecodable message is dropped so it cannot stall the partition")

	callbacks := &MockCallbackService{}
	callbacks.On("Dispatch", mock.Anything, mock.Anything).Return(ipn.Outcome(""), errors.New("connection reset")).Once()
	handler = NewCallbackHandler(slog.Default(), callbacks, nil)

	err = handler.HandleMessage(context.Background(), []byte("k"), []byte(`{"order_id":1,"payment_id":"p","status":"finished"}`))
	assert.Error(t, err, "transient failures are still returned for retry")
	callbacks.AssertExpectations(t)
}
