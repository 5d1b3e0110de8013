package asset

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Asset
		wantErr bool
	}{
		{name: "Upper", input: "USDT", want: USDT},
		{name: "LowerWithSpaces", input: "  ton ", want: TON},
		{name: "Integral", input: "energy", want: ENERGY},
		{name: "Unknown", input: "BTC", wantErr: true},
		{name: "Empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnknownAsset{}))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseToken(t *testing.T) {
	for input, want := range map[string]Asset{
		"usdttrc20":  USDT,
		"USDT-TRC20": USDT,
		"toncoin":    TON,
		"points":     POINT,
		"TON":        TON,
	} {
		got, err := ParseToken(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseToken("DOGE")
	assert.ErrorIs(t, err, ErrUnknownAsset{Tag: "DOGE"})
}

func TestQuantize(t *testing.T) {
	t.Run("FractionalTruncatesTowardZero", func(t *testing.T) {
		got, err := USDT.Quantize(decimal.RequireFromString("1.9999995"))
		require.NoError(t, err)
		assert.Equal(t, "1.999999", got.String())

		got, err = TON.Quantize(decimal.RequireFromString("-0.0000019"))
		require.NoError(t, err)
		assert.Equal(t, "-0.000001", got.String())
	})

	t.Run("Idempotent", func(t *testing.T) {
		for _, raw := range []string{"0", "1.9999995", "123.456789123", "-5.5000001", "0.0000001"} {
			once, err := USDT.Quantize(decimal.RequireFromString(raw))
			require.NoError(t, err)
			twice, err := USDT.Quantize(once)
			require.NoError(t, err)
			assert.True(t, once.Equal(twice), raw)
		}
	})

	t.Run("IntegralAcceptsWholeNumbers", func(t *testing.T) {
		got, err := POINT.Quantize(decimal.RequireFromString("42.000"))
		require.NoError(t, err)
		assert.Equal(t, "42", got.String())
	})

	t.Run("IntegralRejectsFractions", func(t *testing.T) {
		_, err := ENERGY.Quantize(decimal.RequireFromString("1.5"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ValidationError{})
	})
}

func TestParseAmount(t *testing.T) {
	got, err := ParseAmount(USDT, " 10.1234567 ")
	require.NoError(t, err)
	assert.Equal(t, "10.123456", got.String())

	_, err = ParseAmount(USDT, "ten")
	assert.ErrorIs(t, err, ValidationError{Field: "amount"})

	_, err = ParseAmount(POINT, "")
	assert.ErrorIs(t, err, ValidationError{Field: "amount"})
}

func TestSplit(t *testing.T) {
	t.Run("SharesSumToTotal", func(t *testing.T) {
		shares, err := Split(USDT, decimal.RequireFromString("1.000000"), 3)
		require.NoError(t, err)
		require.Len(t, shares, 3)
		assert.Equal(t, "0.333334", shares[0].String())
		assert.Equal(t, "0.333333", shares[1].String())
		assert.Equal(t, "0.333333", shares[2].String())

		sum := decimal.Zero
		for _, s := range shares {
			sum = sum.Add(s)
		}
		assert.True(t, sum.Equal(decimal.NewFromInt(1)))
	})

	t.Run("IntegralAsset", func(t *testing.T) {
		shares, err := Split(POINT, decimal.NewFromInt(10), 4)
		require.NoError(t, err)
		assert.Equal(t, []string{"3", "3", "2", "2"}, []string{shares[0].String(), shares[1].String(), shares[2].String(), shares[3].String()})
	})

	t.Run("InvalidCount", func(t *testing.T) {
		_, err := Split(USDT, decimal.NewFromInt(1), 0)
		assert.ErrorIs(t, err, ValidationError{})
	})
}
