package paygateway

import (
	"strings"

	"github.com/hongbao-ledger/internal/domain/asset"
)

// CanonicalPayCurrency normalizes the provider coin codes operators put in config.
func CanonicalPayCurrency(s string) string {
	if s == "" {
		return ""
	}
	up := strings.NewReplacer("_", "", "-", "").Replace(strings.ToUpper(strings.TrimSpace(s)))
	switch up {
	case "USDTTRC20", "TRC20USDT":
		return "usdttrc20"
	case "TON":
		return "ton"
	case "TONCOIN":
		return "toncoin"
	case "TRX", "TRON":
		return "trx"
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// PayCurrency resolves the provider coin for an asset, preferring the configured override.
func PayCurrency(a asset.Asset, usdtOverride, tonOverride string) string {
	switch a {
	case asset.USDT:
		if c := CanonicalPayCurrency(usdtOverride); c != "" {
			return c
		}
		return "usdttrc20"
	case asset.TON:
		if c := CanonicalPayCurrency(tonOverride); c != "" {
			return c
		}
		return "ton"
	}
	return strings.ToLower(string(a))
}

// InferNetwork guesses the chain from the pay currency when the provider leaves it out.
func InferNetwork(payCurrency, reported string) string {
	if reported != "" {
		return strings.ToUpper(reported)
	}
	c := strings.ToLower(payCurrency)
	switch {
	case strings.Contains(c, "trc20"), c == "trx":
		return "TRON"
	case c == "ton", c == "toncoin":
		return "TON"
	case strings.Contains(c, "erc20"):
		return "ETH"
	case strings.Contains(c, "bsc"):
		return "BSC"
	}
	return ""
}
