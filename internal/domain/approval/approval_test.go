package approval

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOpType(t *testing.T) {
	op, err := ParseOpType(" adjust_batch ")
	require.NoError(t, err)
	assert.Equal(t, OpAdjustBatch, op)

	op, err = ParseOpType("RESET_ALL")
	require.NoError(t, err)
	assert.Equal(t, OpResetAll, op)

	_, err = ParseOpType("DROP_TABLE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownOpType{}))
}

func TestResult(t *testing.T) {
	r := &Result{TotalDeduct: decimal.Zero}
	r.Succeeded(decimal.RequireFromString("-2.5"))
	r.Succeeded(decimal.NewFromInt(4))
	r.Failed(3, errors.New("insufficient"))
	r.Skip()

	assert.Equal(t, 2, r.OK)
	assert.Equal(t, 1, r.Fail)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, 4, r.Count)
	assert.Equal(t, "2.5", r.TotalDeduct.String())
	require.Len(t, r.Failures, 1)
	assert.Equal(t, int64(3), r.Failures[0].UserID)
}
