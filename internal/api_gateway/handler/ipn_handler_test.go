package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hongbao-ledger/internal/api_gateway/middleware"
	"github.com/hongbao-ledger/internal/api_gateway/service"
	"github.com/hongbao-ledger/internal/domain/shared"
	"github.com/hongbao-ledger/internal/ipn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func ipnRouter(svc *MockCallbackService) *gin.Engine {
	h := NewIPNHandler(testLogger(), svc)
	r := setupTestRouter()
	r.POST("/ipn/nowpayments", h.NowPayments)
	r.GET("/ipn/health", h.Health)
	return r
}

func TestIPNHandler_NowPayments(t *testing.T) {
	body := `{"payment_id":5077,"payment_status":"finished","order_id":"42"}`

	tests := []struct {
		name       string
		setupMocks func(m *MockCallbackService)
		wantStatus int
		wantCode   string
	}{
		{
			name: "Accepted",
			setupMocks: func(m *MockCallbackService) {
				m.On("Ingest", mock.Anything, "nowpayments", []byte(body), "deadbeef", "corr-9").
					Return(&shared.PaymentCallback{OrderID: 42, PaymentID: "5077", Status: "finished"}, nil).Once()
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "BadSignature",
			setupMocks: func(m *MockCallbackService) {
				m.On("Ingest", mock.Anything, "nowpayments", []byte(body), "deadbeef", "corr-9").Return(nil, service.ErrInvalidSignature).Once()
			},
			wantStatus: http.StatusForbidden,
			wantCode:   "FORBIDDEN",
		},
		{
			name: "MissingSignature",
			setupMocks: func(m *MockCallbackService) {
				m.On("Ingest", mock.Anything, "nowpayments", []byte(body), "deadbeef", "corr-9").Return(nil, service.ErrMissingSignature).Once()
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "BAD_REQUEST",
		},
		{
			name: "EmptyBody",
			setupMocks: func(m *MockCallbackService) {
				m.On("Ingest", mock.Anything, "nowpayments", []byte(body), "deadbeef", "corr-9").Return(nil, ipn.ErrEmptyBody).Once()
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "BAD_REQUEST",
		},
		{
			name: "MalformedNotification",
			setupMocks: func(m *MockCallbackService) {
				m.On("Ingest", mock.Anything, "nowpayments", []byte(body), "deadbeef", "corr-9").
					Return(nil, fmt.Errorf("%w: no payment_status", ipn.ErrInvalidNotification)).Once()
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "BAD_REQUEST",
		},
		{
			name: "QueueDown",
			setupMocks: func(m *MockCallbackService) {
				m.On("Ingest", mock.Anything, "nowpayments", []byte(body), "deadbeef", "corr-9").Return(nil, errors.New("kafka down")).Once()
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_SERVER_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockCallbackService)
			tt.setupMocks(svc)

			rr := doRequest(ipnRouter(svc), http.MethodPost, "/ipn/nowpayments", body, map[string]string{
				SignatureHeader:                "deadbeef",
				middleware.CorrelationIDHeader: "corr-9",
			})

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errorCode(t, rr))
			} else {
				var ack map[string]interface{}
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ack))
				assert.Equal(t, true, ack["ok"])
				assert.Equal(t, "5077", ack["payment_id"])
				assert.Equal(t, "corr-9", ack["correlation_id"])
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestIPNHandler_Health(t *testing.T) {
	rr := doRequest(ipnRouter(new(MockCallbackService)), http.MethodGet, "/ipn/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"ok":true`)
}
