package service

import (
	"testing"
	"time"

	"github.com/ayo6706/custody-ledger/internal/chain"
	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func btcInput(t *testing.T) ValidationInput {
	t.Helper()
	np, err := domain.DefaultCatalog().Network(domain.BTC, "BTC")
	require.NoError(t, err)
	return ValidationInput{
		Currency:          domain.BTC,
		Network:           np,
		Cutoff:            time.Now().Add(-domain.BaseRetention),
		DepositMinEnabled: true,
		DepositFeeEnabled: true,
	}
}

func TestValidateRawTxRejections(t *testing.T) {
	old := time.Now().Add(-30 * 24 * time.Hour)

	tests := []struct {
		name   string
		mutate func(*chain.RawTx, *ValidationInput)
		reason string
	}{
		{"empty hash", func(tx *chain.RawTx, _ *ValidationInput) { tx.Hash = "" }, RejectEmptyHash},
		{"missing timestamp", func(tx *chain.RawTx, _ *ValidationInput) { tx.Timestamp = nil }, RejectBadTimestamp},
		{"older than retention", func(tx *chain.RawTx, _ *ValidationInput) { tx.Timestamp = &old }, RejectTooOld},
		{"outgoing", func(tx *chain.RawTx, _ *ValidationInput) { tx.Value = amount("-0.5") }, RejectWithdrawal},
		{"zero value", func(tx *chain.RawTx, _ *ValidationInput) { tx.Value = amount("0") }, RejectZeroValue},
		{"dust", func(tx *chain.RawTx, _ *ValidationInput) { tx.Value = amount("0.00001") }, RejectDust},
		{"fee exceeds value", func(tx *chain.RawTx, in *ValidationInput) {
			in.Network.DepositFee = amount("1")
		}, RejectFeeExceedsNet},
		{"tag missing", func(tx *chain.RawTx, in *ValidationInput) { in.Tagged = true }, RejectMissingTag},
		{"tag not numeric", func(tx *chain.RawTx, in *ValidationInput) {
			in.Tagged = true
			tx.Tag = "memo"
		}, RejectBadTag},
		{"invoice missing", func(tx *chain.RawTx, in *ValidationInput) { in.Invoice = true }, RejectMissingInvoice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := rawTx("abc123", "0.5", 1)
			in := btcInput(t)
			tt.mutate(&tx, &in)

			_, err := ValidateRawTx(tx, in)
			require.ErrorIs(t, err, domain.ErrValidationRejected)
			assert.Equal(t, tt.reason, domain.RejectionReason(err))
		})
	}
}

func TestValidateRawTxAcceptsDeposit(t *testing.T) {
	tx := rawTx("abc123", "0.5", 3)
	tx.FromAddresses = []string{"bc1qa", "bc1qb", "bc1qa"}

	got, err := ValidateRawTx(tx, btcInput(t))
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.Hash)
	assert.True(t, got.Value.Equal(amount("0.5")))
	assert.Equal(t, 3, got.Confirmations)
	assert.Equal(t, []string{"bc1qa", "bc1qb"}, got.SourceAddresses)
}

func TestValidateRawTxStripsHexPrefix(t *testing.T) {
	hash := "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	tx := rawTx(hash, "1", 12)
	in := btcInput(t)
	in.StripHexPrefix = true

	got, err := ValidateRawTx(tx, in)
	require.NoError(t, err)
	assert.Equal(t, hash[2:], got.Hash)
}

func TestValidateRawTxContractFee(t *testing.T) {
	np, err := domain.DefaultCatalog().Network(domain.USDT, "TON")
	require.NoError(t, err)
	contract := "EQCxE6mUtQJKFnGfaROTKOt1lZbDiiX1kCixRv7Nw2Id_sDs"
	tx := rawTx("tonhash", "10", 1)
	tx.ContractAddress = contract

	got, err := ValidateRawTx(tx, ValidationInput{
		Currency:          domain.USDT,
		Network:           np,
		DepositMinEnabled: true,
		DepositFeeEnabled: true,
	})
	require.NoError(t, err)
	assert.True(t, got.Value.Equal(amount("9.9")), got.Value.String())
	assert.Equal(t, contract, got.ContractAddress)
}

func TestValidateRawTxParsesTag(t *testing.T) {
	tx := rawTx("xrphash", "5", 1)
	tx.Tag = " 100234 "
	in := btcInput(t)
	in.Tagged = true

	got, err := ValidateRawTx(tx, in)
	require.NoError(t, err)
	assert.Equal(t, int64(100234), got.Tag)
}

func TestValidateRawTxNeverCreditsAboveObserved(t *testing.T) {
	in := btcInput(t)
	in.DepositFeeEnabled = false
	tx := rawTx("abc123", "1.00000000001", 3)

	got, err := ValidateRawTx(tx, in)
	require.NoError(t, err)
	assert.True(t, got.Value.LessThanOrEqual(tx.Value))
	assert.True(t, got.Value.Equal(amount("1")))
}

func TestValidateRawTxRejectsValueBelowPrecision(t *testing.T) {
	in := btcInput(t)
	in.DepositFeeEnabled = false
	in.DepositMinEnabled = false
	tx := rawTx("abc123", "0.00000000001", 3)

	_, err := ValidateRawTx(tx, in)
	require.ErrorIs(t, err, domain.ErrValidationRejected)
	assert.Equal(t, RejectFeeExceedsNet, domain.RejectionReason(err))
}

func TestHandlerForMixedNetworks(t *testing.T) {
	catalog := domain.NewCatalog(domain.CurrencyPolicy{
		Code:           domain.TON,
		DefaultNetwork: "TON",
		Networks: map[string]domain.NetworkPolicy{
			"TON": {Name: "TON", MinConfirmations: 1, DepositEnabled: true, TagRequired: true},
			"BSC": {Name: "BSC", MinConfirmations: 15, DepositEnabled: true},
		},
	})
	p := NewDepositPipeline(DepositDeps{Catalog: catalog})

	tagged, err := catalog.Network(domain.TON, "TON")
	require.NoError(t, err)
	plain, err := catalog.Network(domain.TON, "BSC")
	require.NoError(t, err)

	assert.Equal(t, "tagged", p.handlerFor(domain.TON, tagged).Name())
	assert.Equal(t, "standard", p.handlerFor(domain.TON, plain).Name())
	assert.Equal(t, "invoice", p.handlerFor(domain.TON, domain.NetworkPolicy{InvoiceBased: true}).Name())
}
