package handler

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hongbao-ledger/internal/accounting"
	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func ledgerRouter(ls *MockLedgerService, as *MockAuditService) *gin.Engine {
	h := NewLedgerHandler(testLogger(), ls, as)
	r := setupTestRouter()
	r.GET("/users/:user_id/ledger", h.Recent)
	r.GET("/users/:user_id/ledger/sum", h.Sum)
	r.GET("/users/:user_id/ledger/audit", h.Audit)
	return r
}

func TestLedgerHandler_Recent(t *testing.T) {
	ts := time.Date(2026, 10, 16, 9, 30, 0, 123456000, time.UTC)
	entries := []*ledger.Entry{
		{ID: 9, UserID: 5, Kind: ledger.KindHongbaoGrab, Asset: asset.USDT, Amount: decimal.RequireFromString("0.25"), CreatedAt: ts},
		{ID: 8, UserID: 5, Kind: ledger.KindHongbaoSend, Asset: asset.USDT, Amount: decimal.RequireFromString("-1"), CreatedAt: ts},
	}

	t.Run("FirstPageReturnsCursor", func(t *testing.T) {
		ls := new(MockLedgerService)
		ls.On("Recent", mock.Anything, int64(5), 2, (*ledger.Cursor)(nil)).
			Return(&accounting.Page{Entries: entries, Next: ledger.CursorOf(entries[1])}, nil).Once()

		rr := doRequest(ledgerRouter(ls, nil), http.MethodGet, "/users/5/ledger?limit=2", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var body LedgerPageResponse
		decodeData(t, rr, &body)
		require.Len(t, body.Entries, 2)
		assert.Equal(t, "HONGBAO_GRAB", body.Entries[0].Kind)
		assert.Equal(t, "0.25", body.Entries[0].Amount)
		assert.Equal(t, int64(8), body.NextBeforeID)
		assert.Equal(t, "2026-10-16T09:30:00.123456Z", body.NextBeforeTS)
		ls.AssertExpectations(t)
	})

	t.Run("CursorRoundTrips", func(t *testing.T) {
		ls := new(MockLedgerService)
		ls.On("Recent", mock.Anything, int64(5), 0, mock.MatchedBy(func(c *ledger.Cursor) bool {
			return c != nil && c.ID == 8 && c.CreatedAt.Equal(ts)
		})).Return(&accounting.Page{Entries: []*ledger.Entry{}}, nil).Once()

		rr := doRequest(ledgerRouter(ls, nil), http.MethodGet, "/users/5/ledger?before_id=8&before_ts=2026-10-16T09:30:00.123456Z", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var body LedgerPageResponse
		decodeData(t, rr, &body)
		assert.Empty(t, body.Entries)
		assert.Zero(t, body.NextBeforeID)
		ls.AssertExpectations(t)
	})

	badRequests := map[string]string{
		"HalfCursor":   "/users/5/ledger?before_id=8",
		"BadTimestamp": "/users/5/ledger?before_id=8&before_ts=yesterday",
		"BadLimit":     "/users/5/ledger?limit=ten",
		"BadUser":      "/users/0/ledger",
	}
	for name, path := range badRequests {
		t.Run(name, func(t *testing.T) {
			ls := new(MockLedgerService)
			rr := doRequest(ledgerRouter(ls, nil), http.MethodGet, path, "", nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			ls.AssertNotCalled(t, "Recent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestLedgerHandler_Sum(t *testing.T) {
	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		path       string
		setupMocks func(m *MockLedgerService)
		wantStatus int
		wantTotal  string
	}{
		{
			name: "KindsAndRange",
			path: "/users/9/ledger/sum?asset=usdt&kinds=GRAB,%20HONGBAO_GRAB&from=2026-10-01T00:00:00Z&to=2026-10-02T00:00:00Z",
			setupMocks: func(m *MockLedgerService) {
				m.On("Sum", mock.Anything, mock.MatchedBy(func(f ledger.SumFilter) bool {
					return f.UserID == 9 && f.Asset == "usdt" && len(f.Kinds) == 2 &&
						f.Kinds[0] == "GRAB" && f.Kinds[1] == ledger.KindHongbaoGrab &&
						f.From.Equal(from) && f.To.Equal(to)
				})).Return(decimal.RequireFromString("2"), nil).Once()
			},
			wantStatus: http.StatusOK,
			wantTotal:  "2",
		},
		{
			name: "EmptyRangeRejected",
			path: "/users/9/ledger/sum?asset=USDT&from=2026-10-02T00:00:00Z&to=2026-10-02T00:00:00Z",
			setupMocks: func(m *MockLedgerService) {
				m.On("Sum", mock.Anything, mock.Anything).Return(decimal.Zero, asset.ValidationError{Field: "to", Reason: "must be after from"}).Once()
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "MalformedFrom",
			path:       "/users/9/ledger/sum?asset=USDT&from=2026-13-01",
			setupMocks: func(m *MockLedgerService) {},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ls := new(MockLedgerService)
			tt.setupMocks(ls)

			rr := doRequest(ledgerRouter(ls, nil), http.MethodGet, tt.path, "", nil)
			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantTotal != "" {
				var body LedgerSumResponse
				decodeData(t, rr, &body)
				assert.Equal(t, tt.wantTotal, body.Total)
				assert.Equal(t, "USDT", body.Asset)
			}
			ls.AssertExpectations(t)
		})
	}
}

func TestLedgerHandler_Audit(t *testing.T) {
	t.Run("Paginated", func(t *testing.T) {
		as := new(MockAuditService)
		as.On("ListByUser", mock.Anything, int64(4), 2, 10).
			Return([]*ledger.Entry{{ID: 1, UserID: 4, Kind: ledger.KindRecharge, Asset: asset.TON, Amount: decimal.RequireFromString("3")}}, int64(11), nil).Once()

		rr := doRequest(ledgerRouter(nil, as), http.MethodGet, "/users/4/ledger/audit?page=2&per_page=10", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var body []LedgerEntryResponse
		resp := decodeData(t, rr, &body)
		require.Len(t, body, 1)
		require.NotNil(t, resp.Meta)
		assert.Equal(t, 2, resp.Meta.TotalPages)
		assert.Equal(t, 11, resp.Meta.TotalItems)
		as.AssertExpectations(t)
	})

	t.Run("InvalidPagination", func(t *testing.T) {
		as := new(MockAuditService)
		rr := doRequest(ledgerRouter(nil, as), http.MethodGet, "/users/4/ledger/audit?per_page=500", "", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("MirrorDown", func(t *testing.T) {
		as := new(MockAuditService)
		as.On("ListByUser", mock.Anything, int64(4), 1, 20).Return(nil, int64(0), errors.New("mongo down")).Once()

		rr := doRequest(ledgerRouter(nil, as), http.MethodGet, "/users/4/ledger/audit", "", nil)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		as.AssertExpectations(t)
	})
}
