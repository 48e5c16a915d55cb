package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/ayo6706/custody-ledger/internal/repository"
	"github.com/ayo6706/custody-ledger/internal/settlement"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const externalBTC = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"

func coinRequest(w models.Wallet, value string) CreateWithdrawRequest {
	return CreateWithdrawRequest{WalletID: w.ID, Amount: amount(value), TargetAddress: externalBTC}
}

func TestWithdrawCreateValidation(t *testing.T) {
	env := newWithdrawEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	btc := seedWallet(t, env.store, owner, domain.BTC)
	eth := seedWallet(t, env.store, owner, domain.ETH)
	xrp := seedWallet(t, env.store, owner, domain.XRP)
	rls := seedWallet(t, env.store, owner, domain.RLS)

	tests := []struct {
		name string
		in   CreateWithdrawRequest
		want error
	}{
		{"zero amount", CreateWithdrawRequest{WalletID: btc.ID, Amount: decimal.Zero, TargetAddress: externalBTC}, domain.ErrInvalidAmount},
		{"missing address", CreateWithdrawRequest{WalletID: btc.ID, Amount: amount("1")}, domain.ErrInvalidDestination},
		{"bad evm address", CreateWithdrawRequest{WalletID: eth.ID, Amount: amount("1"), TargetAddress: "0x1234"}, domain.ErrInvalidDestination},
		{"tag required", CreateWithdrawRequest{WalletID: xrp.ID, Amount: amount("1"), TargetAddress: "rDestination"}, domain.ErrInvalidDestination},
		{"bank account required", CreateWithdrawRequest{WalletID: rls.ID, Amount: amount("1000000")}, domain.ErrInvalidDestination},
		{"unknown network", CreateWithdrawRequest{WalletID: btc.ID, Amount: amount("1"), Network: "SOL", TargetAddress: externalBTC}, domain.ErrUnknownNetwork},
		{"unknown wallet", CreateWithdrawRequest{WalletID: uuid.New(), Amount: amount("1"), TargetAddress: externalBTC}, domain.ErrWalletNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Create(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestWithdrawCreateIsIdempotentOnUID(t *testing.T) {
	env := newWithdrawEnv(t)
	ctx := context.Background()
	w := seedWallet(t, env.store, uuid.New(), domain.BTC)

	in := coinRequest(w, "0.1")
	in.UID = uuidPtr(uuid.New())
	first, err := env.svc.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawNew, first.Status)
	assert.Len(t, first.OTP, domain.VerificationCodeDigits)
	assert.Equal(t, string(settlement.HotWallet), first.SettlementMethod)
	assert.Equal(t, "BTC", first.Network)

	second, err := env.svc.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestWithdrawCreateEnforcesRequestLimit(t *testing.T) {
	env := newWithdrawEnv(t)
	env.svc.maxNewRequests = 2
	ctx := context.Background()
	w := seedWallet(t, env.store, uuid.New(), domain.BTC)

	for i := 0; i < 2; i++ {
		_, err := env.svc.Create(ctx, coinRequest(w, "0.1"))
		require.NoError(t, err)
	}
	_, err := env.svc.Create(ctx, coinRequest(w, "0.1"))
	assert.ErrorIs(t, err, domain.ErrRequestLimitExceeded)
}

func TestWithdrawVerify(t *testing.T) {
	env := newWithdrawEnv(t)
	ctx := context.Background()
	w := seedWallet(t, env.store, uuid.New(), domain.BTC)
	fund(t, env.ledger, w, "1")

	req, err := env.svc.Create(ctx, coinRequest(w, "0.4"))
	require.NoError(t, err)

	wrong := "000000"
	if req.OTP == wrong {
		wrong = "111111"
	}
	_, err = env.svc.Verify(ctx, req.ID, wrong)
	require.ErrorIs(t, err, domain.ErrInvalidVerificationCode)

	got, err := env.svc.Verify(ctx, req.ID, req.OTP)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawVerified, got.Status)
	require.NotNil(t, got.TransactionID)
	assert.True(t, walletBalance(t, env.store, w.ID).Equal(amount("0.6")))

	debit, err := env.store.Queries().GetLedgerTransactionByRef(ctx, domain.RefWithdrawRequest, req.ID)
	require.NoError(t, err)
	assert.Equal(t, *got.TransactionID, debit.ID)
	assert.True(t, debit.Amount.Equal(amount("-0.4")))

	_, err = env.svc.Verify(ctx, req.ID, req.OTP)
	assert.ErrorIs(t, err, domain.ErrInvalidVerificationCode)
}

func TestWithdrawVerifyExpiredCode(t *testing.T) {
	env := newWithdrawEnv(t)
	ctx := context.Background()
	w := seedWallet(t, env.store, uuid.New(), domain.BTC)
	fund(t, env.ledger, w, "1")

	req, err := env.svc.Create(ctx, coinRequest(w, "0.4"))
	require.NoError(t, err)
	env.svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	_, err = env.svc.Verify(ctx, req.ID, req.OTP)
	assert.ErrorIs(t, err, domain.ErrInvalidVerificationCode)
}

func TestWithdrawVerifyRejectsWithoutFunds(t *testing.T) {
	env := newWithdrawEnv(t)
	w := seedWallet(t, env.store, uuid.New(), domain.BTC)
	fund(t, env.ledger, w, "0.1")

	got := env.verified(t, coinRequest(w, "0.4"))
	assert.Equal(t, domain.WithdrawRejected, got.Status)
	assert.Nil(t, got.TransactionID)
	assert.True(t, walletBalance(t, env.store, w.ID).Equal(amount("0.1")))
}

func TestWithdrawVerifyRejectsForeignBankAccount(t *testing.T) {
	env := newWithdrawEnv(t)
	ctx := context.Background()
	w := seedWallet(t, env.store, uuid.New(), domain.RLS)
	fund(t, env.ledger, w, "10000000")
	account := seedBankAccount(t, env.store, uuid.New(), true)

	req, err := env.svc.Create(ctx, CreateWithdrawRequest{WalletID: w.ID, Amount: amount("5000000"), TargetAccountID: &account.ID})
	require.NoError(t, err)
	got, err := env.svc.Verify(ctx, req.ID, req.OTP)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawRejected, got.Status)
	assert.True(t, walletBalance(t, env.store, w.ID).Equal(amount("10000000")))
}

func TestWithdrawCoinDispatch(t *testing.T) {
	env := newWithdrawEnv(t)
	ctx := context.Background()
	w := seedWallet(t, env.store, uuid.New(), domain.BTC)
	fund(t, env.ledger, w, "1")
	req := env.verified(t, coinRequest(w, "0.4"))

	res, err := env.svc.Dispatch(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.False(t, res.Internal)
	assert.Equal(t, domain.WithdrawSent, res.Request.Status)
	assert.Equal(t, "0xhash", res.Request.ExternalRef)

	calls := env.hot.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, externalBTC, calls[0].Destination)
	assert.True(t, calls[0].Amount.Equal(amount("0.4")))

	auto, err := env.store.Queries().GetAutomaticWithdraw(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AutoWithdrawDone, auto.Status)
	assert.Len(t, env.recorder.OfType(domain.StreamLedgerEvents, domain.EventWithdrawCommitted), 1)

	// A second dispatch of a committed request does nothing.
	res, err = env.svc.Dispatch(ctx, req.ID)
	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.Len(t, env.hot.Calls(), 1)

	_, err = env.svc.Cancel(ctx, req.ID, nil)
	assert.ErrorIs(t, err, domain.ErrNotCancelable)

	env.hot.state = settlement.StateDone
	done, err := env.svc.RefreshSettlementStatus(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawDone, done.Status)
	assert.True(t, walletBalance(t, env.store, w.ID).Equal(amount("0.6")))
}

func TestWithdrawDispatchFailureIsRetried(t *testing.T) {
	env := newWithdrawEnv(t)
	ctx := context.Background()
	w := seedWallet(t, env.store, uuid.New(), domain.BTC)
	fund(t, env.ledger, w, "1")
	req := env.verified(t, coinRequest(w, "0.4"))

	env.hot.err = errors.New("node unavailable")
	res, err := env.svc.Dispatch(ctx, req.ID)
	require.ErrorIs(t, err, domain.ErrExternalQueryFailed)
	assert.Equal(t, domain.WithdrawProcessing, res.Request.Status)

	auto, err := env.store.Queries().GetAutomaticWithdraw(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AutoWithdrawWaiting, auto.Status)
	assert.Equal(t, 1, auto.Retry)
	assert.Len(t, env.recorder.OfType(domain.StreamOperatorAlerts, domain.EventSettlementFailed), 1)

	env.hot.err = nil
	res, err = env.svc.Dispatch(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, domain.WithdrawSent, res.Request.Status)
	assert.Len(t, env.hot.Calls(), 2)
}

func TestWithdrawCancelRefunds(t *testing.T) {
	env := newWithdrawEnv(t)
	ctx := context.Background()
	w := seedWallet(t, env.store, uuid.New(), domain.BTC)
	fund(t, env.ledger, w, "1")
	req := env.verified(t, coinRequest(w, "0.4"))

	_, err := env.svc.Accept(ctx, req.ID, nil)
	require.NoError(t, err)

	got, err := env.svc.Cancel(ctx, req.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawCanceled, got.Status)
	assert.True(t, walletBalance(t, env.store, w.ID).Equal(amount("1")))

	refund, err := env.store.Queries().GetLedgerTransactionByRef(ctx, domain.RefWithdrawRequestReverse, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.KindRefund, refund.Kind)
	assert.True(t, refund.Amount.Equal(amount("0.4")))

	auto, err := env.store.Queries().GetAutomaticWithdraw(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AutoWithdrawCanceled, auto.Status)

	// Canceling twice is harmless.
	_, err = env.svc.Cancel(ctx, req.ID, nil)
	require.NoError(t, err)
	assert.True(t, walletBalance(t, env.store, w.ID).Equal(amount("1")))

	_, err = env.svc.Dispatch(ctx, req.ID)
	assert.ErrorIs(t, err, domain.ErrNotDispatchable)
}

func TestWithdrawCancelBeforeVerify(t *testing.T) {
	env := newWithdrawEnv(t)
	ctx := context.Background()
	w := seedWallet(t, env.store, uuid.New(), domain.BTC)
	fund(t, env.ledger, w, "1")

	req, err := env.svc.Create(ctx, coinRequest(w, "0.4"))
	require.NoError(t, err)
	got, err := env.svc.Cancel(ctx, req.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawCanceled, got.Status)
	assert.True(t, walletBalance(t, env.store, w.ID).Equal(amount("1")))

	_, err = env.store.Queries().GetLedgerTransactionByRef(ctx, domain.RefWithdrawRequestReverse, req.ID)
	assert.Error(t, err)
}

func TestWithdrawFiatCancelWaitsForInFlightSend(t *testing.T) {
	env := newWithdrawEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	w := seedWallet(t, env.store, owner, domain.RLS)
	fund(t, env.ledger, w, "1000000")
	account := seedBankAccount(t, env.store, owner, true)

	req := env.verified(t, CreateWithdrawRequest{WalletID: w.ID, Amount: amount("1000000"), TargetAccountID: &account.ID})
	_, err := env.svc.Accept(ctx, req.ID, nil)
	require.NoError(t, err)
	require.NoError(t, env.store.Queries().UpdateAutomaticWithdraw(ctx, repository.UpdateAutomaticWithdrawParams{
		WithdrawID: req.ID,
		Status:     domain.AutoWithdrawSending,
	}))

	_, err = env.svc.Cancel(ctx, req.ID, nil)
	require.ErrorIs(t, err, domain.ErrNotCancelable)
	assert.True(t, walletBalance(t, env.store, w.ID).IsZero())

	_, err = env.store.Queries().GetLedgerTransactionByRef(ctx, domain.RefWithdrawRequestReverse, req.ID)
	assert.Error(t, err)
}

func TestWithdrawFiatSplitAndSettle(t *testing.T) {
	env := newWithdrawEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	w := seedWallet(t, env.store, owner, domain.RLS)
	fund(t, env.ledger, w, "1200000000")
	account := seedBankAccount(t, env.store, owner, true)

	req := env.verified(t, CreateWithdrawRequest{WalletID: w.ID, Amount: amount("1200000000"), TargetAccountID: &account.ID})
	assert.Equal(t, domain.WithdrawVerified, req.Status)
	assert.True(t, req.Amount.Equal(amount("500000000")))
	assert.True(t, req.Fee.Equal(amount("40000")))
	assert.True(t, walletBalance(t, env.store, w.ID).IsZero())

	children, err := env.store.Queries().ListSplitChildren(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	total := req.Amount
	for _, c := range children {
		total = total.Add(c.Amount)
		assert.Equal(t, domain.WithdrawVerified, c.Status)
		assert.Equal(t, req.TransactionID, c.TransactionID)
		assert.Equal(t, string(settlement.Jibit), c.SettlementMethod)
	}
	assert.True(t, total.Equal(amount("1200000000")))

	// Each chunk refunds only its own amount.
	canceled, err := env.svc.Cancel(ctx, children[0].ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawCanceled, canceled.Status)
	assert.True(t, walletBalance(t, env.store, w.ID).Equal(children[0].Amount))

	res, err := env.svc.Dispatch(ctx, req.ID)
	require.NoError(t, err)
	require.True(t, res.Sent)
	assert.Equal(t, domain.WithdrawSent, res.Request.Status)
	assert.Equal(t, "JB-1", res.Request.ExternalRef)
	assert.Equal(t, settlement.TrackingURL(settlement.Jibit, req.ID, "JB-1"), res.Request.BlockchainURL)

	calls := env.bank.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, account.ShabaNumber, calls[0].Destination)
	assert.Equal(t, account.OwnerName, calls[0].OwnerName)
	assert.True(t, calls[0].Amount.Equal(amount("499960000")))
}

func TestWithdrawFiatOutsideWindow(t *testing.T) {
	env := newWithdrawEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	w := seedWallet(t, env.store, owner, domain.RLS)
	fund(t, env.ledger, w, "10000000")
	account := seedBankAccount(t, env.store, owner, true)
	req := env.verified(t, CreateWithdrawRequest{WalletID: w.ID, Amount: amount("10000000"), TargetAccountID: &account.ID})

	env.svc.window = DefaultDispatchWindow()
	env.svc.now = func() time.Time {
		return time.Date(2026, time.March, 10, 3, 0, 0, 0, env.svc.window.Location)
	}
	res, err := env.svc.Dispatch(ctx, req.ID)
	require.ErrorIs(t, err, domain.ErrOutsideDispatchWindow)
	assert.Equal(t, domain.WithdrawAccepted, res.Request.Status)

	stored, err := env.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawAccepted, stored.Status)
	assert.Empty(t, env.bank.Calls())

	env.svc.now = func() time.Time {
		return time.Date(2026, time.March, 10, 10, 40, 0, 0, env.svc.window.Location)
	}
	res, err = env.svc.Dispatch(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, res.Sent)
}

func TestWithdrawManualSettle(t *testing.T) {
	env := newWithdrawEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	w := seedWallet(t, env.store, owner, domain.RLS)
	fund(t, env.ledger, w, "10000000")
	account := seedBankAccount(t, env.store, owner, true)
	req := env.verified(t, CreateWithdrawRequest{WalletID: w.ID, Amount: amount("10000000"), TargetAccountID: &account.ID})

	_, err := env.svc.Settle(ctx, req.ID, settlement.Jibit, nil)
	require.ErrorIs(t, err, domain.ErrNotDispatchable)

	_, err = env.svc.Accept(ctx, req.ID, nil)
	require.NoError(t, err)

	_, err = env.svc.Settle(ctx, req.ID, settlement.HotWallet, nil)
	require.ErrorIs(t, err, domain.ErrUnsupportedSettlementMethod)

	got, err := env.svc.Settle(ctx, req.ID, settlement.Jibit, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawSent, got.Status)

	_, err = env.svc.Settle(ctx, req.ID, settlement.Jibit, nil)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)

	entries, err := env.store.Queries().ListAuditLog(ctx, auditWithdraw, req.ID)
	require.NoError(t, err)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "manual_settle")
}

func TestWithdrawInternalTransfer(t *testing.T) {
	env := newWithdrawEnv(t)
	ctx := context.Background()
	sender := seedWallet(t, env.store, uuid.New(), domain.BTC)
	receiver := seedWallet(t, env.store, uuid.New(), domain.BTC)
	fund(t, env.ledger, sender, "1")
	addr := seedAddress(t, env.store, receiver, "BTC", "bc1qinternalreceiver")

	req := env.verified(t, CreateWithdrawRequest{WalletID: sender.ID, Amount: amount("0.4"), TargetAddress: addr.Address})
	res, err := env.svc.Dispatch(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, res.Internal)
	assert.Equal(t, domain.WithdrawDone, res.Request.Status)
	assert.Equal(t, domain.WithdrawTypeInternal, res.Request.Type)
	assert.Empty(t, env.hot.Calls())

	assert.True(t, walletBalance(t, env.store, sender.ID).Equal(amount("0.6")))
	assert.True(t, walletBalance(t, env.store, receiver.ID).Equal(amount("0.4")))

	credit, err := env.store.Queries().GetLedgerTransactionByRef(ctx, domain.RefInternalTransferDeposit, req.ID)
	require.NoError(t, err)
	assert.Equal(t, receiver.ID, credit.WalletID)
	assert.Equal(t, domain.KindDeposit, credit.Kind)

	d, err := env.store.Queries().GetDepositByAddressForUpdate(ctx, "internal-W"+req.ID.String(), addr.ID, nil)
	require.NoError(t, err)
	assert.True(t, d.Confirmed)
	require.NotNil(t, d.TransactionID)
	assert.Equal(t, credit.ID, *d.TransactionID)

	stored, err := env.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "custody://app/receipt/btc/"+req.ID.String(), stored.BlockchainURL)

	_, err = env.svc.Settle(ctx, req.ID, settlement.HotWallet, nil)
	assert.ErrorIs(t, err, domain.ErrInternalTransfer)
}

func TestWithdrawInternalTransferToTag(t *testing.T) {
	env := newWithdrawEnv(t)
	ctx := context.Background()
	q := env.store.Queries()
	sender := seedWallet(t, env.store, uuid.New(), domain.XRP)
	receiverOwner := uuid.New()
	receiver := seedWallet(t, env.store, receiverOwner, domain.XRP)
	fund(t, env.ledger, sender, "100")
	shared, err := q.UpsertSharedAddress(ctx, "xrp", "XRP", "rSharedXRP")
	require.NoError(t, err)
	_, err = q.CreateDepositTag(ctx, receiver.ID, "xrp", 555)
	require.NoError(t, err)

	req := env.verified(t, CreateWithdrawRequest{WalletID: sender.ID, Amount: amount("30"), TargetAddress: shared.Address, Tag: "555"})
	res, err := env.svc.Dispatch(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, res.Internal)
	assert.True(t, walletBalance(t, env.store, receiver.ID).Equal(amount("30")))
}

func TestWithdrawProcessBatch(t *testing.T) {
	env := newWithdrawEnv(t)
	ctx := context.Background()
	w := seedWallet(t, env.store, uuid.New(), domain.BTC)
	fund(t, env.ledger, w, "1")
	first := env.verified(t, coinRequest(w, "0.1"))
	second := env.verified(t, coinRequest(w, "0.2"))
	pending, err := env.svc.Create(ctx, coinRequest(w, "0.3"))
	require.NoError(t, err)

	env.svc.now = func() time.Time { return time.Now().Add(time.Minute) }
	n, err := env.svc.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []uuid.UUID{first.ID, second.ID} {
		got, err := env.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.WithdrawSent, got.Status)
	}
	got, err := env.svc.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawNew, got.Status)
}
