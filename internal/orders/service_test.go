package orders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hongbao-ledger/internal/accounting"
	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/ledger"
	"github.com/hongbao-ledger/internal/domain/recharge"
	"github.com/hongbao-ledger/internal/testutil/memdb"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Name() string { return "nowpayments" }

func (m *MockProvider) CreateInvoice(ctx context.Context, o *recharge.Order) (*recharge.Invoice, error) {
	args := m.Called(ctx, o)
	inv, _ := args.Get(0).(*recharge.Invoice)
	return inv, args.Error(1)
}

func (m *MockProvider) CreatePaymentByInvoice(ctx context.Context, o *recharge.Order, invoiceID string) (*recharge.Payment, error) {
	args := m.Called(ctx, o, invoiceID)
	p, _ := args.Get(0).(*recharge.Payment)
	return p, args.Error(1)
}

func (m *MockProvider) CreatePayment(ctx context.Context, o *recharge.Order) (*recharge.Payment, error) {
	args := m.Called(ctx, o)
	p, _ := args.Get(0).(*recharge.Payment)
	return p, args.Error(1)
}

func (m *MockProvider) GetPayment(ctx context.Context, paymentID string) (*recharge.Payment, error) {
	args := m.Called(ctx, paymentID)
	p, _ := args.Get(0).(*recharge.Payment)
	return p, args.Error(1)
}

type fixture struct {
	svc      *Service
	store    *memdb.Store
	acct     *accounting.Service
	provider *MockProvider
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memdb.New()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }
	repos := store.Repositories()

	acct := accounting.NewService(logger, store, repos.Balances, repos.Ledger, repos.Outbox)
	provider := new(MockProvider)
	svc := NewService(logger, store, repos.Orders, repos.Dedup, acct, provider, Config{
		TTL:             time.Hour,
		RefreshInterval: 15 * time.Second,
		ProvisionLease:  15 * time.Second,
		ProviderTimeout: time.Second,
		SweepBatch:      2,
	})
	svc.now = func() time.Time { return now }
	return &fixture{svc: svc, store: store, acct: acct, provider: provider, now: now}
}

func (f *fixture) balance(t *testing.T, userID int64, a asset.Asset) decimal.Decimal {
	t.Helper()
	b, err := f.acct.Balance(context.Background(), userID, a)
	require.NoError(t, err)
	return b
}

func (f *fixture) rechargeEntries() []ledger.Entry {
	var out []ledger.Entry
	for _, e := range f.store.Entries() {
		if e.Kind == ledger.KindRecharge {
			out = append(out, e)
		}
	}
	return out
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, 7, "usdt-trc20", "10.00")
	require.NoError(t, err)
	assert.Equal(t, asset.USDT, o.Asset)
	assert.Equal(t, "10", o.Amount)
	assert.Equal(t, recharge.StatusPending, o.Status)
	assert.Equal(t, "nowpayments", o.Provider)
	assert.Equal(t, f.now.Add(time.Hour), o.ExpireAt)
	f.provider.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything)

	points, err := f.svc.Create(ctx, 7, "points", "5")
	require.NoError(t, err)
	assert.Equal(t, asset.POINT, points.Asset)
	assert.Equal(t, internalProvider, points.Provider)

	tests := []struct {
		name   string
		user   int64
		token  string
		amount string
		target error
	}{
		{"energy cannot be recharged", 7, "ENERGY", "5", recharge.ErrUnsupportedAsset},
		{"unknown token", 7, "BTC", "1", asset.ErrUnknownAsset{}},
		{"zero amount", 7, "USDT", "0", asset.ValidationError{Field: "amount"}},
		{"negative amount", 7, "TON", "-1", asset.ValidationError{Field: "amount"}},
		{"garbage amount", 7, "TON", "ten", asset.ValidationError{Field: "amount"}},
		{"fractional points", 7, "POINT", "1.5", asset.ValidationError{Field: "amount"}},
		{"missing user", 0, "USDT", "1", asset.ValidationError{Field: "user_id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.user, tt.token, tt.amount)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestMarkSuccess_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, 1, "USDT", "10.00")
	require.NoError(t, err)

	credited, err := f.svc.MarkSuccess(ctx, o.ID, "abc")
	require.NoError(t, err)
	assert.True(t, credited)
	assert.True(t, decimal.RequireFromString("10").Equal(f.balance(t, 1, asset.USDT)))

	entries := f.rechargeEntries()
	require.Len(t, entries, 1)
	assert.True(t, decimal.RequireFromString("10").Equal(entries[0].Amount))
	assert.Equal(t, ledger.RefOrder, entries[0].RefType)

	credited, err = f.svc.MarkSuccess(ctx, o.ID, "xyz")
	require.NoError(t, err)
	assert.False(t, credited)
	assert.True(t, decimal.RequireFromString("10").Equal(f.balance(t, 1, asset.USDT)))
	assert.Len(t, f.rechargeEntries(), 1)

	stored, _ := f.store.Order(o.ID)
	assert.Equal(t, recharge.StatusSuccess, stored.Status)
	assert.Equal(t, "abc", stored.TxHash)
	assert.NotNil(t, stored.FinishedAt)
}

func TestMarkSuccess_ConcurrentCallsCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, 2, "TON", "3.5")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	credits := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			credited, err := f.svc.MarkSuccess(ctx, o.ID, "hash")
			assert.NoError(t, err)
			if credited {
				mu.Lock()
				credits++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, credits)
	assert.True(t, decimal.RequireFromString("3.5").Equal(f.balance(t, 2, asset.TON)))
}

func TestMarkSuccess_FinalizedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, 3, "USDT", "1")
	require.NoError(t, err)
	moved, err := f.svc.MarkExpired(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, moved)

	_, err = f.svc.MarkSuccess(ctx, o.ID, "late")
	assert.ErrorIs(t, err, recharge.ErrOrderFinalized{})
	assert.True(t, f.balance(t, 3, asset.USDT).IsZero())
	assert.Empty(t, f.store.Entries())

	_, err = f.svc.MarkSuccess(ctx, 999, "x")
	assert.ErrorIs(t, err, recharge.ErrOrderNotFound{})
}

func TestMarkFailedAndExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, 4, "USDT", "2")
	require.NoError(t, err)

	moved, err := f.svc.MarkFailed(ctx, o.ID, "chargeback")
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = f.svc.MarkExpired(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, moved, "terminal orders do not move again")

	stored, _ := f.store.Order(o.ID)
	assert.Equal(t, recharge.StatusFailed, stored.Status)
	assert.Equal(t, "chargeback", stored.Note)
	assert.True(t, f.balance(t, 4, asset.USDT).IsZero())

	_, err = f.svc.MarkFailed(ctx, 12345, "x")
	assert.ErrorIs(t, err, recharge.ErrOrderNotFound{})
}

func TestEnsurePayment(t *testing.T) {
	ctx := context.Background()
	validUntil := time.Date(2026, 10, 16, 12, 30, 0, 0, time.UTC)

	t.Run("invoice then payment by invoice", func(t *testing.T) {
		f := newFixture(t)
		o, err := f.svc.Create(ctx, 1, "USDT", "10")
		require.NoError(t, err)

		f.provider.On("CreateInvoice", mock.Anything, mock.Anything).
			Return(&recharge.Invoice{ID: "INV-1", URL: "https://pay/inv"}, nil).Once()
		f.provider.On("CreatePaymentByInvoice", mock.Anything, mock.Anything, "INV-1").
			Return(&recharge.Payment{
				PaymentID: "P-1", InvoiceID: "INV-1", PayAddress: "T-addr", PayAmount: "10.02",
				PayCurrency: "usdttrc20", Network: "TRON", PaymentURL: "https://pay/p", ValidUntil: &validUntil,
			}, nil).Once()

		got, err := f.svc.EnsurePayment(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, "INV-1", got.InvoiceID)
		assert.Equal(t, "P-1", got.PaymentID)
		assert.Equal(t, "T-addr", got.PayAddress)
		assert.Equal(t, "TRON", got.Network)
		assert.Equal(t, validUntil, got.ExpireAt)

		again, err := f.svc.EnsurePayment(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, "P-1", again.PaymentID)
		f.provider.AssertExpectations(t)
	})

	t.Run("falls back to a direct payment", func(t *testing.T) {
		f := newFixture(t)
		o, err := f.svc.Create(ctx, 1, "TON", "2")
		require.NoError(t, err)

		f.provider.On("CreateInvoice", mock.Anything, mock.Anything).
			Return(&recharge.Invoice{ID: "INV-2"}, nil).Once()
		f.provider.On("CreatePaymentByInvoice", mock.Anything, mock.Anything, "INV-2").
			Return(nil, errors.New("404 invoice not ready")).Once()
		f.provider.On("CreatePayment", mock.Anything, mock.Anything).
			Return(&recharge.Payment{PaymentID: "P-2", PayAddress: "UQ", PayAmount: "2", PayCurrency: "ton"}, nil).Once()

		got, err := f.svc.EnsurePayment(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, "INV-2", got.InvoiceID, "invoice id persisted before the fallback")
		assert.Equal(t, "P-2", got.PaymentID)
		f.provider.AssertExpectations(t)
	})

	t.Run("payment without address is kept and looked up later", func(t *testing.T) {
		f := newFixture(t)
		o, err := f.svc.Create(ctx, 1, "USDT", "10")
		require.NoError(t, err)

		f.provider.On("CreateInvoice", mock.Anything, mock.Anything).
			Return(&recharge.Invoice{ID: "INV-4"}, nil).Once()
		f.provider.On("CreatePaymentByInvoice", mock.Anything, mock.Anything, "INV-4").
			Return(&recharge.Payment{PaymentID: "P-4", InvoiceID: "INV-4"}, nil).Once()

		got, err := f.svc.EnsurePayment(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, "P-4", got.PaymentID)
		assert.Empty(t, got.PayAddress)
		f.provider.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)

		f.provider.On("GetPayment", mock.Anything, "P-4").
			Return(&recharge.Payment{PaymentID: "P-4", PayAddress: "T-late", PayAmount: "10.01", PayCurrency: "usdttrc20"}, nil).Once()

		got, err = f.svc.EnsurePayment(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, "P-4", got.PaymentID)
		assert.Equal(t, "T-late", got.PayAddress)
		f.provider.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
		f.provider.AssertExpectations(t)
	})

	t.Run("provider down leaves order pending", func(t *testing.T) {
		f := newFixture(t)
		o, err := f.svc.Create(ctx, 1, "USDT", "5")
		require.NoError(t, err)

		down := errors.New("connection refused")
		f.provider.On("CreateInvoice", mock.Anything, mock.Anything).Return(nil, down).Once()
		f.provider.On("CreatePayment", mock.Anything, mock.Anything).Return(nil, down).Once()

		_, err = f.svc.EnsurePayment(ctx, o.ID)
		assert.ErrorIs(t, err, ErrProviderUnavailable)
		assert.ErrorIs(t, err, down)

		stored, _ := f.store.Order(o.ID)
		assert.Equal(t, recharge.StatusPending, stored.Status)
		assert.Empty(t, stored.PaymentID)
	})

	t.Run("existing payment id is looked up", func(t *testing.T) {
		f := newFixture(t)
		f.store.PutOrder(recharge.Order{
			ID: 50, UserID: 1, Asset: asset.USDT, Amount: "1", Status: recharge.StatusPending,
			Provider: "nowpayments", PaymentID: "P-50", ExpireAt: f.now.Add(time.Hour),
		})

		f.provider.On("GetPayment", mock.Anything, "P-50").
			Return(&recharge.Payment{PaymentID: "P-50", PayAddress: "T", PayAmount: "1", PayCurrency: "usdttrc20"}, nil).Once()

		got, err := f.svc.EnsurePayment(ctx, 50)
		require.NoError(t, err)
		assert.Equal(t, "T", got.PayAddress)
		f.provider.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
	})

	t.Run("points need no provider", func(t *testing.T) {
		f := newFixture(t)
		o, err := f.svc.Create(ctx, 1, "POINT", "10")
		require.NoError(t, err)

		got, err := f.svc.EnsurePayment(ctx, o.ID)
		require.NoError(t, err)
		assert.Empty(t, got.PaymentID)
		f.provider.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything)
	})

	t.Run("forced direct skips the invoice", func(t *testing.T) {
		f := newFixture(t)
		f.svc.cfg.ForceDirect = true
		o, err := f.svc.Create(ctx, 1, "USDT", "3")
		require.NoError(t, err)

		f.provider.On("CreatePayment", mock.Anything, mock.Anything).
			Return(&recharge.Payment{PaymentID: "P-3", PayAddress: "T", PayAmount: "3", PayCurrency: "usdttrc20"}, nil).Once()

		_, err = f.svc.EnsurePayment(ctx, o.ID)
		require.NoError(t, err)
		f.provider.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything)
	})
}

func TestRefreshStatusIfNeeded(t *testing.T) {
	ctx := context.Background()

	pending := func(f *fixture, id int64) {
		f.store.PutOrder(recharge.Order{
			ID: id, UserID: 9, Asset: asset.USDT, Amount: "4", Status: recharge.StatusPending,
			Provider: "nowpayments", PaymentID: "P-9", ExpireAt: f.now.Add(time.Hour),
		})
	}

	t.Run("finished payment is credited once", func(t *testing.T) {
		f := newFixture(t)
		pending(f, 9)
		f.provider.On("GetPayment", mock.Anything, "P-9").
			Return(&recharge.Payment{PaymentID: "P-9", Status: "finished", TxHash: "0xfeed"}, nil).Once()

		got, err := f.svc.RefreshStatusIfNeeded(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, recharge.StatusSuccess, got.Status)
		assert.Equal(t, "0xfeed", got.TxHash)
		assert.True(t, decimal.RequireFromString("4").Equal(f.balance(t, 9, asset.USDT)))
		assert.Equal(t, 1, f.store.DedupCount())

		got, err = f.svc.RefreshStatusIfNeeded(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, recharge.StatusSuccess, got.Status)
		f.provider.AssertExpectations(t)
	})

	t.Run("recently refreshed is left alone", func(t *testing.T) {
		f := newFixture(t)
		pending(f, 9)
		require.NoError(t, f.store.Repositories().Orders.TouchRefreshed(ctx, 9))

		got, err := f.svc.RefreshStatusIfNeeded(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, recharge.StatusPending, got.Status)
		f.provider.AssertNotCalled(t, "GetPayment", mock.Anything, mock.Anything)
	})

	t.Run("past expiry expires without a provider call", func(t *testing.T) {
		f := newFixture(t)
		f.store.PutOrder(recharge.Order{
			ID: 9, UserID: 9, Asset: asset.USDT, Amount: "4", Status: recharge.StatusPending,
			PaymentID: "P-9", ExpireAt: f.now.Add(-time.Minute),
		})

		got, err := f.svc.RefreshStatusIfNeeded(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, recharge.StatusExpired, got.Status)
		f.provider.AssertNotCalled(t, "GetPayment", mock.Anything, mock.Anything)
	})

	t.Run("provider failure keeps the order", func(t *testing.T) {
		f := newFixture(t)
		pending(f, 9)
		f.provider.On("GetPayment", mock.Anything, "P-9").Return(nil, context.DeadlineExceeded).Once()

		got, err := f.svc.RefreshStatusIfNeeded(ctx, 9)
		assert.ErrorIs(t, err, ErrProviderUnavailable)
		require.NotNil(t, got)
		assert.Equal(t, recharge.StatusPending, got.Status)
		stored, _ := f.store.Order(9)
		assert.Nil(t, stored.RefreshedAt)
	})

	t.Run("provider failure status", func(t *testing.T) {
		f := newFixture(t)
		pending(f, 9)
		f.provider.On("GetPayment", mock.Anything, "P-9").
			Return(&recharge.Payment{PaymentID: "P-9", Status: "refunded"}, nil).Once()

		got, err := f.svc.RefreshStatusIfNeeded(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, recharge.StatusFailed, got.Status)
		assert.NotNil(t, got.RefreshedAt)
	})

	t.Run("still waiting only stamps the refresh", func(t *testing.T) {
		f := newFixture(t)
		pending(f, 9)
		f.provider.On("GetPayment", mock.Anything, "P-9").
			Return(&recharge.Payment{PaymentID: "P-9", Status: "waiting"}, nil).Once()

		got, err := f.svc.RefreshStatusIfNeeded(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, recharge.StatusPending, got.Status)
		require.NotNil(t, got.RefreshedAt)
		assert.Equal(t, f.now, *got.RefreshedAt)
	})
}

func TestSweeps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for id := int64(1); id <= 5; id++ {
		f.store.PutOrder(recharge.Order{
			ID: id, UserID: id, Asset: asset.USDT, Amount: "1", Status: recharge.StatusPending,
			ExpireAt: f.now.Add(-time.Minute),
		})
	}
	f.store.PutOrder(recharge.Order{
		ID: 6, UserID: 6, Asset: asset.USDT, Amount: "1", Status: recharge.StatusPending,
		PaymentID: "P-6", ExpireAt: f.now.Add(time.Hour),
	})

	expired, err := f.svc.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, expired, "batches of two until drained")

	f.provider.On("GetPayment", mock.Anything, "P-6").
		Return(&recharge.Payment{PaymentID: "P-6", Status: "confirmed"}, nil).Once()

	refreshed, err := f.svc.RefreshStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed)

	stored, _ := f.store.Order(6)
	assert.Equal(t, recharge.StatusSuccess, stored.Status)
}

func TestListByUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Create(ctx, 77, "USDT", "1")
		require.NoError(t, err)
	}
	_, err := f.svc.Create(ctx, 78, "USDT", "1")
	require.NoError(t, err)

	list, err := f.svc.ListByUser(ctx, 77, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Greater(t, list[0].ID, list[1].ID)

	list, err = f.svc.ListByUser(ctx, 77, 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
