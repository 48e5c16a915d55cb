package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_NetworkDefaults(t *testing.T) {
	c := DefaultCatalog()

	np, err := c.Network(BTC, "")
	require.NoError(t, err)
	assert.Equal(t, "BTC", np.Name)

	np, err = c.Network(BTC, "btcln")
	require.NoError(t, err)
	assert.True(t, np.InvoiceBased)

	_, err = c.Network(BTC, "DOGE")
	assert.ErrorIs(t, err, ErrUnknownNetwork)

	_, err = c.Currency("zzz")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}

func TestCatalog_Apply(t *testing.T) {
	c := DefaultCatalog()
	confirmations := 6
	fee := decimal.RequireFromString("0.0005")

	require.NoError(t, c.Apply([]NetworkOverride{
		{Currency: BTC, Network: "btc", MinConfirmations: &confirmations, DepositFee: &fee},
		{Currency: TRX, Network: "BSC"},
	}))

	np, err := c.Network(BTC, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 6, np.MinConfirmations)
	assert.True(t, np.DepositFee.Equal(fee))

	np, err = c.Network(TRX, "BSC")
	require.NoError(t, err)
	assert.True(t, np.DepositEnabled)

	// The shipped catalog is left untouched.
	np, err = DefaultCatalog().Network(BTC, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 2, np.MinConfirmations)
}

func TestCatalog_RetentionCutoff(t *testing.T) {
	c := DefaultCatalog()
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	tests := []struct {
		name     string
		currency CurrencyID
		disabled bool
		tagged   bool
		want     time.Duration
	}{
		{name: "base", currency: BTC, want: 3 * day},
		{name: "disabled address", currency: BTC, disabled: true, want: 10 * day},
		{name: "etc", currency: ETC, want: 14 * day},
		{name: "xmr disabled", currency: XMR, disabled: true, want: 70 * day},
		{name: "tagged", currency: XRP, tagged: true, want: 5 * day},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := c.RetentionCutoff(now, tc.currency, tc.disabled, tc.tagged)
			assert.Equal(t, now.Add(-tc.want), got)
		})
	}
}

func TestIsInternalHop(t *testing.T) {
	assert.True(t, IsInternalHop(ETH, "ARB"))
	assert.True(t, IsInternalHop(BNB, "bsc"))
	assert.False(t, IsInternalHop(USDT, "ETH"))
	assert.False(t, IsInternalHop(BTC, "BTC"))
}

func TestWithdrawStatus_Rank(t *testing.T) {
	assert.Equal(t, WithdrawAccepted.Rank(), WithdrawManualAccepted.Rank())
	assert.Less(t, WithdrawWaiting.Rank(), WithdrawAccepted.Rank())
	assert.Less(t, WithdrawProcessing.Rank(), WithdrawSent.Rank())
	assert.False(t, WithdrawStatus(42).Valid())

	s, ok := ParseWithdrawStatus("manual_accepted")
	require.True(t, ok)
	assert.Equal(t, WithdrawManualAccepted, s)
	assert.Equal(t, "manual_accepted", s.String())
}
