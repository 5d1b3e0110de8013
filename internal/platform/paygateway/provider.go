package paygateway

import (
	"fmt"
	"log/slog"

	"github.com/hongbao-ledger/internal/config"
	"github.com/hongbao-ledger/internal/domain/recharge"
)

// New returns the provider selected by RECHARGE_PROVIDER.
func New(logger *slog.Logger, cfg *config.Config) (recharge.Provider, error) {
	switch cfg.Recharge.Provider {
	case NowPaymentsName:
		if cfg.NowPayments.APIKey == "" {
			return nil, fmt.Errorf("nowpayments selected but NOWPAYMENTS_API_KEY is empty")
		}
		return NewNowPaymentsClient(logger.With("provider", NowPaymentsName), &cfg.NowPayments), nil
	case MockName, "":
		logger.Warn("Using mock payment provider")
		return NewMockProvider(), nil
	}
	return nil, fmt.Errorf("unknown payment provider %q", cfg.Recharge.Provider)
}
