// Package price estimates the fiat value of crypto amounts for reporting.
package price

import (
	"context"
	"strings"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Estimator returns the fiat value of amount units of currency.
type Estimator interface {
	EstimateFiatValue(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error)
}

// RateTable is a static Estimator keyed by lowercase currency code.
// Rates are in fiat units per coin.
type RateTable struct {
	rates map[string]decimal.Decimal
}

func NewRateTable(rates map[string]decimal.Decimal) *RateTable {
	normalized := make(map[string]decimal.Decimal, len(rates))
	for code, rate := range rates {
		normalized[strings.ToLower(code)] = rate
	}
	return &RateTable{rates: normalized}
}

// DefaultRates is used when no rates are configured.
func DefaultRates() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"rls":  decimal.NewFromInt(1),
		"usdt": decimal.NewFromInt(600_000),
		"btc":  decimal.NewFromInt(40_000_000_000),
		"eth":  decimal.NewFromInt(2_000_000_000),
		"trx":  decimal.NewFromInt(80_000),
		"xrp":  decimal.NewFromInt(350_000),
		"bnb":  decimal.NewFromInt(300_000_000),
		"ton":  decimal.NewFromInt(3_000_000),
	}
}

// EstimateFiatValue returns zero for currencies without a rate.
func (t *RateTable) EstimateFiatValue(_ context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	rate, ok := t.rates[strings.ToLower(currency)]
	if !ok {
		return decimal.Zero, nil
	}
	fiat := domain.NewMoney(amount, currency).Convert(string(domain.RLS), rate)
	return fiat.Amount.Round(0), nil
}
