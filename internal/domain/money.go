package domain

import "github.com/shopspring/decimal"

// MonetaryPlaces is the number of decimal places stored for every amount.
const MonetaryPlaces = 10

var hundred = decimal.NewFromInt(100)

// Money is an amount in a specific currency.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney creates a Money value quantized to the storage precision.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{
		Amount:   Quantize(amount),
		Currency: currency,
	}
}

// Quantize truncates amount to the storage precision, so a credited value
// never exceeds the observed one.
func Quantize(amount decimal.Decimal) decimal.Decimal {
	return amount.Truncate(MonetaryPlaces)
}

// PercentFee returns min(floor(amount/100), cap).
func PercentFee(amount, cap decimal.Decimal) decimal.Decimal {
	fee := amount.Div(hundred).Floor()
	if fee.GreaterThan(cap) {
		return cap
	}
	return fee
}

// Convert scales the money by rate into the target currency, rounding down.
func (m Money) Convert(targetCurrency string, rate decimal.Decimal) Money {
	return Money{
		Amount:   m.Amount.Mul(rate).Truncate(MonetaryPlaces),
		Currency: targetCurrency,
	}
}
