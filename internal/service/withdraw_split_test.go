package service

import (
	"testing"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkAmounts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Amount.String()
	}
	return out
}

func TestSplit(t *testing.T) {
	policy := SplitPolicy{
		MaxAmount: decimal.NewFromInt(50_000_000),
		MinChunk:  decimal.NewFromInt(150_000),
		FeeCap:    decimal.NewFromInt(40_000),
	}

	tests := []struct {
		name   string
		policy SplitPolicy
		amount string
		want   []string
	}{
		{"below limit", policy, "1000000", []string{"1000000"}},
		{"exact limit", policy, "50000000", []string{"50000000"}},
		{"multiple of limit", policy, "100000000", []string{"50000000", "50000000"}},
		{"large remainder", policy, "120000000", []string{"50000000", "50000000", "20000000"}},
		{"remainder below minimum", DefaultSplitPolicy(), "2000123456",
			[]string{"499973456", "500000000", "500000000", "500000000", "150000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total := amount(tt.amount)
			chunks, err := tt.policy.Split(total)
			require.NoError(t, err)
			assert.Equal(t, tt.want, chunkAmounts(chunks))

			sum := decimal.Zero
			for _, c := range chunks {
				sum = sum.Add(c.Amount)
				assert.True(t, c.Amount.LessThanOrEqual(tt.policy.MaxAmount))
				assert.True(t, c.Amount.GreaterThanOrEqual(tt.policy.MinChunk) || len(chunks) == 1)
			}
			assert.True(t, sum.Equal(total))
		})
	}
}

func TestSplitFees(t *testing.T) {
	chunks, err := DefaultSplitPolicy().Split(amount("501000000"))
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	// 1% capped at the policy fee cap.
	assert.Equal(t, "40000", chunks[0].Fee.String())
	assert.Equal(t, "10000", chunks[1].Fee.String())
}

func TestSplitRejectsInvalidInput(t *testing.T) {
	_, err := DefaultSplitPolicy().Split(decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = SplitPolicy{}.Split(amount("10"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = SplitPolicy{MaxAmount: amount("10"), MinChunk: amount("20")}.Split(amount("30"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}
