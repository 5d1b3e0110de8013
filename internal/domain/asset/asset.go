package asset

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Asset identifies a balance bucket a user can hold
type Asset string

const (
	USDT   Asset = "USDT"
	TON    Asset = "TON"
	POINT  Asset = "POINT"
	ENERGY Asset = "ENERGY"
)

// FractionalPlaces is the number of decimal places kept for fractional assets
const FractionalPlaces int32 = 6

var all = []Asset{USDT, TON, POINT, ENERGY}

// legacy spellings accepted at the recharge boundary
var tokenAliases = map[string]Asset{
	"USDTTRC20":  USDT,
	"USDT-TRC20": USDT,
	"USDT_TRC20": USDT,
	"USDTTRON":   USDT,
	"TRC20USDT":  USDT,
	"TONCOIN":    TON,
	"TON-COIN":   TON,
	"TON_COIN":   TON,
	"POINTS":     POINT,
	"STAR":       POINT,
}

// All returns every supported asset in a stable order
func All() []Asset {
	out := make([]Asset, len(all))
	copy(out, all)
	return out
}

// Parse resolves an asset tag, ignoring case and surrounding whitespace
func Parse(s string) (Asset, error) {
	tag := Asset(strings.ToUpper(strings.TrimSpace(s)))
	for _, a := range all {
		if a == tag {
			return a, nil
		}
	}
	return "", ErrUnknownAsset{Tag: s}
}

// ParseToken is Parse plus the provider-side token spellings (USDTTRC20, TONCOIN, ...)
func ParseToken(s string) (Asset, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	if a, ok := tokenAliases[up]; ok {
		return a, nil
	}
	return Parse(up)
}

func (a Asset) String() string {
	return string(a)
}

// Integral reports whether the asset only holds whole units
func (a Asset) Integral() bool {
	return a == POINT || a == ENERGY
}

// Quantize brings an amount to the asset's precision.
// Fractional assets are truncated toward zero at six places;
// integral assets reject anything with a fractional part.
func (a Asset) Quantize(d decimal.Decimal) (decimal.Decimal, error) {
	if a.Integral() {
		if !d.Equal(d.Truncate(0)) {
			return decimal.Zero, ValidationError{Field: "amount", Reason: "must be a whole number for " + string(a)}
		}
		return d.Truncate(0), nil
	}
	return d.Truncate(FractionalPlaces), nil
}

// ParseAmount parses a decimal string and quantizes it for the asset
func ParseAmount(a Asset, raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, ValidationError{Field: "amount", Reason: "is required"}
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, ValidationError{Field: "amount", Reason: "is not a valid number"}
	}
	return a.Quantize(d)
}

// Quantum is the smallest representable unit of the asset
func (a Asset) Quantum() decimal.Decimal {
	if a.Integral() {
		return decimal.NewFromInt(1)
	}
	return decimal.New(1, -FractionalPlaces)
}

// Split divides a quantized total into n quantized shares that sum to total exactly.
// Remainder quanta go to the first shares.
func Split(a Asset, total decimal.Decimal, n int) ([]decimal.Decimal, error) {
	if n <= 0 {
		return nil, ValidationError{Field: "count", Reason: "must be positive"}
	}
	q, err := a.Quantize(total)
	if err != nil {
		return nil, err
	}
	if q.IsNegative() {
		return nil, ValidationError{Field: "amount", Reason: "must not be negative"}
	}

	quantum := a.Quantum()
	units := q.Div(quantum).IntPart()
	base := units / int64(n)
	rem := units % int64(n)

	shares := make([]decimal.Decimal, n)
	for i := range shares {
		u := base
		if int64(i) < rem {
			u++
		}
		shares[i] = decimal.NewFromInt(u).Mul(quantum)
	}
	return shares, nil
}
