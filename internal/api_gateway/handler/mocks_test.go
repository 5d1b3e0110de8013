package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hongbao-ledger/internal/accounting"
	"github.com/hongbao-ledger/internal/api_gateway/middleware"
	"github.com/hongbao-ledger/internal/approvals"
	"github.com/hongbao-ledger/internal/domain/approval"
	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/ledger"
	"github.com/hongbao-ledger/internal/domain/recharge"
	"github.com/hongbao-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAccountingService struct {
	mock.Mock
}

func (m *MockAccountingService) Adjust(ctx context.Context, adj accounting.Adjustment) (*accounting.Receipt, error) {
	args := m.Called(ctx, adj)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*accounting.Receipt), args.Error(1)
}

func (m *MockAccountingService) Balance(ctx context.Context, userID int64, a asset.Asset) (decimal.Decimal, error) {
	args := m.Called(ctx, userID, a)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockAccountingService) CanSpend(ctx context.Context, userID int64, a asset.Asset, amount decimal.Decimal) (bool, error) {
	args := m.Called(ctx, userID, a, amount)
	return args.Bool(0), args.Error(1)
}

type MockLedgerService struct {
	mock.Mock
}

func (m *MockLedgerService) Recent(ctx context.Context, userID int64, limit int, before *ledger.Cursor) (*accounting.Page, error) {
	args := m.Called(ctx, userID, limit, before)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*accounting.Page), args.Error(1)
}

func (m *MockLedgerService) Sum(ctx context.Context, filter ledger.SumFilter) (decimal.Decimal, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type MockAuditService struct {
	mock.Mock
}

func (m *MockAuditService) ListByUser(ctx context.Context, userID int64, page, perPage int) ([]*ledger.Entry, int64, error) {
	args := m.Called(ctx, userID, page, perPage)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*ledger.Entry), args.Get(1).(int64), args.Error(2)
}

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) Create(ctx context.Context, userID int64, token, amount string) (*recharge.Order, error) {
	args := m.Called(ctx, userID, token, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*recharge.Order), args.Error(1)
}

func (m *MockOrderService) Get(ctx context.Context, id int64) (*recharge.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*recharge.Order), args.Error(1)
}

func (m *MockOrderService) ListByUser(ctx context.Context, userID int64, limit int) ([]*recharge.Order, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*recharge.Order), args.Error(1)
}

func (m *MockOrderService) EnsurePayment(ctx context.Context, id int64) (*recharge.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*recharge.Order), args.Error(1)
}

func (m *MockOrderService) RefreshStatusIfNeeded(ctx context.Context, id int64) (*recharge.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*recharge.Order), args.Error(1)
}

func (m *MockOrderService) MarkExpired(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

type MockCallbackService struct {
	mock.Mock
}

func (m *MockCallbackService) Ingest(ctx context.Context, provider string, body []byte, signature, correlationID string) (*shared.PaymentCallback, error) {
	args := m.Called(ctx, provider, body, signature, correlationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shared.PaymentCallback), args.Error(1)
}

type MockApprovalService struct {
	mock.Mock
}

func (m *MockApprovalService) Enqueue(ctx context.Context, opType string, payload json.RawMessage, submitter int64) (*approval.Approval, error) {
	args := m.Called(ctx, opType, payload, submitter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*approval.Approval), args.Error(1)
}

func (m *MockApprovalService) Approve(ctx context.Context, id, approver int64) (*approval.Approval, error) {
	args := m.Called(ctx, id, approver)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*approval.Approval), args.Error(1)
}

func (m *MockApprovalService) Reject(ctx context.Context, id, approver int64, reason string) (*approval.Approval, error) {
	args := m.Called(ctx, id, approver, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*approval.Approval), args.Error(1)
}

func (m *MockApprovalService) Get(ctx context.Context, id int64) (*approval.Approval, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*approval.Approval), args.Error(1)
}

func (m *MockApprovalService) List(ctx context.Context, status string, page, perPage int) (*approvals.Page, error) {
	args := m.Called(ctx, status, page, perPage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*approvals.Page), args.Error(1)
}

const testAdminToken = "admin-token"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.CorrelationID())
	return r
}

// adminRouter mounts handlers behind AdminAuth, as the real router does
func adminRouter() (*gin.Engine, *gin.RouterGroup) {
	r := setupTestRouter()
	return r, r.Group("", middleware.AdminAuth(testAdminToken))
}

func doRequest(r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func adminHeaders(adminID string) map[string]string {
	return map[string]string{
		"Authorization":          "Bearer " + testAdminToken,
		middleware.AdminIDHeader: adminID,
	}
}

// decodeData unwraps the response envelope into out
func decodeData(t *testing.T, rr *httptest.ResponseRecorder, out interface{}) *Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	if out != nil {
		require.NotNil(t, resp.Data, "'data' field should not be nil")
		raw, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}
	return &resp
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	resp := decodeData(t, rr, nil)
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}
