package service

import (
	"fmt"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// SplitPolicy bounds the size of a single fiat settlement.
type SplitPolicy struct {
	MaxAmount decimal.Decimal
	MinChunk  decimal.Decimal
	FeeCap    decimal.Decimal
}

// DefaultSplitPolicy caps bank transfers at 50M toman.
func DefaultSplitPolicy() SplitPolicy {
	return SplitPolicy{
		MaxAmount: decimal.NewFromInt(500_000_000),
		MinChunk:  decimal.NewFromInt(150_000),
		FeeCap:    decimal.NewFromInt(40_000),
	}
}

// DefaultVandarSplitPolicy is the larger limit of Vandar transfers.
func DefaultVandarSplitPolicy() SplitPolicy {
	return SplitPolicy{
		MaxAmount: decimal.NewFromInt(1_000_000_000),
		MinChunk:  decimal.NewFromInt(150_000),
		FeeCap:    decimal.NewFromInt(50_000),
	}
}

// Chunk is one settlement-sized part of a withdrawal.
type Chunk struct {
	Amount decimal.Decimal
	Fee    decimal.Decimal
}

// Split divides amount into chunks of at most MaxAmount. A remainder below
// MinChunk borrows the difference from the first chunk, so the sum is
// unchanged.
func (p SplitPolicy) Split(amount decimal.Decimal) ([]Chunk, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: split amount must be positive", domain.ErrInvalidAmount)
	}
	if !p.MaxAmount.IsPositive() || p.MinChunk.GreaterThan(p.MaxAmount) {
		return nil, fmt.Errorf("%w: invalid split policy", domain.ErrInvalidAmount)
	}
	if amount.LessThanOrEqual(p.MaxAmount) {
		return []Chunk{p.chunk(amount)}, nil
	}

	count := amount.Div(p.MaxAmount).Ceil().IntPart()
	remaining := amount.Mod(p.MaxAmount)
	adjust := decimal.Zero
	if remaining.IsPositive() && remaining.LessThan(p.MinChunk) {
		adjust = p.MinChunk.Sub(remaining)
		remaining = remaining.Add(adjust)
	}

	chunks := make([]Chunk, 0, count)
	chunks = append(chunks, p.chunk(p.MaxAmount.Sub(adjust)))
	for i := int64(1); i < count; i++ {
		size := p.MaxAmount
		if i == count-1 && remaining.IsPositive() {
			size = remaining
		}
		chunks = append(chunks, p.chunk(size))
	}
	return chunks, nil
}

func (p SplitPolicy) chunk(amount decimal.Decimal) Chunk {
	return Chunk{Amount: amount, Fee: domain.PercentFee(amount, p.FeeCap)}
}
