package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitValidate(t *testing.T) {
	ref := uuidPtr(uuid.New())
	tests := []struct {
		name string
		req  CommitRequest
		ok   bool
	}{
		{"positive deposit", CommitRequest{Amount: amount("1"), Kind: domain.KindDeposit}, true},
		{"negative deposit", CommitRequest{Amount: amount("-1"), Kind: domain.KindDeposit}, false},
		{"negative withdraw", CommitRequest{Amount: amount("-1"), Kind: domain.KindWithdraw}, true},
		{"positive withdraw", CommitRequest{Amount: amount("1"), Kind: domain.KindWithdraw}, false},
		{"manual either sign", CommitRequest{Amount: amount("-1"), Kind: domain.KindManual}, true},
		{"zero amount", CommitRequest{Amount: amount("0"), Kind: domain.KindManual}, false},
		{"unknown kind", CommitRequest{Amount: amount("1"), Kind: "bonus"}, false},
		{"reference module without id", CommitRequest{Amount: amount("1"), Kind: domain.KindManual, RefModule: domain.RefBankDeposit}, false},
		{"reference id without module", CommitRequest{Amount: amount("1"), Kind: domain.KindManual, RefID: ref}, false},
		{"full reference", CommitRequest{Amount: amount("1"), Kind: domain.KindManual, RefModule: domain.RefBankDeposit, RefID: ref}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidAmount)
			}
		})
	}
}

func TestLedgerCommitRejectsOverdraft(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	ledger := NewLedgerService(store)
	ctx := context.Background()

	w := seedWallet(t, store, uuid.New(), domain.RLS)
	fund(t, ledger, w, "100")

	tx, err := ledger.Commit(ctx, CommitRequest{WalletID: w.ID, Amount: amount("-30"), Kind: domain.KindWithdraw})
	require.NoError(t, err)
	assert.True(t, tx.BalanceAfter.Equal(amount("70")))

	_, err = ledger.Commit(ctx, CommitRequest{WalletID: w.ID, Amount: amount("-80"), Kind: domain.KindWithdraw})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.True(t, walletBalance(t, store, w.ID).Equal(amount("70")))

	summary, err := store.Queries().WalletLedgerSummary(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Count)
	assert.True(t, summary.Sum.Equal(amount("70")))
}

func TestLedgerCommitDuplicateReference(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	ledger := NewLedgerService(store)
	ctx := context.Background()

	w := seedWallet(t, store, uuid.New(), domain.BTC)
	req := CommitRequest{
		WalletID:  w.ID,
		Amount:    amount("0.5"),
		Kind:      domain.KindDeposit,
		RefModule: domain.RefConfirmedDeposit,
		RefID:     uuidPtr(uuid.New()),
	}

	_, err := ledger.Commit(ctx, req)
	require.NoError(t, err)
	_, err = ledger.Commit(ctx, req)
	require.ErrorIs(t, err, domain.ErrDuplicateReference)
	assert.True(t, walletBalance(t, store, w.ID).Equal(amount("0.5")))
}

func TestLedgerCommitInactiveWallet(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	ledger := NewLedgerService(store)
	ctx := context.Background()

	w := seedWallet(t, store, uuid.New(), domain.BTC)
	_, err := store.Queries().SetWalletActive(ctx, w.ID, false)
	require.NoError(t, err)

	_, err = ledger.Commit(ctx, CommitRequest{WalletID: w.ID, Amount: amount("1"), Kind: domain.KindManual})
	assert.ErrorIs(t, err, domain.ErrWalletInactive)
}

func TestLedgerTransfer(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	ledger := NewLedgerService(store)
	ctx := context.Background()

	from := seedWallet(t, store, uuid.New(), domain.USDT)
	to := seedWallet(t, store, uuid.New(), domain.USDT)
	fund(t, ledger, from, "100")

	ref := uuid.New()
	res, err := ledger.Transfer(ctx, TransferRequest{FromWalletID: from.ID, ToWalletID: to.ID, Amount: amount("40"), ReferenceID: ref})
	require.NoError(t, err)
	assert.True(t, res.Debit.Amount.Equal(amount("-40")))
	assert.True(t, res.Credit.Amount.Equal(amount("40")))

	debit, err := store.Queries().GetLedgerTransactionByRef(ctx, "TransferSource", ref)
	require.NoError(t, err)
	assert.Equal(t, res.Debit.ID, debit.ID)
	credit, err := store.Queries().GetLedgerTransactionByRef(ctx, "TransferDestination", ref)
	require.NoError(t, err)
	assert.Equal(t, res.Credit.ID, credit.ID)

	// Replaying the reference returns the same legs.
	again, err := ledger.Transfer(ctx, TransferRequest{FromWalletID: from.ID, ToWalletID: to.ID, Amount: amount("40"), ReferenceID: ref})
	require.NoError(t, err)
	assert.Equal(t, res.Debit.ID, again.Debit.ID)
	assert.Equal(t, res.Credit.ID, again.Credit.ID)

	assert.True(t, walletBalance(t, store, from.ID).Equal(amount("60")))
	assert.True(t, walletBalance(t, store, to.ID).Equal(amount("40")))

	_, err = ledger.Transfer(ctx, TransferRequest{FromWalletID: from.ID, ToWalletID: to.ID, Amount: amount("61"), ReferenceID: uuid.New()})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.True(t, walletBalance(t, store, to.ID).Equal(amount("40")))
}

func TestLedgerTransferRejectsCurrencyMismatch(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	ledger := NewLedgerService(store)

	owner := uuid.New()
	from := seedWallet(t, store, owner, domain.USDT)
	to := seedWallet(t, store, owner, domain.BTC)
	fund(t, ledger, from, "10")

	_, err := ledger.Transfer(context.Background(), TransferRequest{FromWalletID: from.ID, ToWalletID: to.ID, Amount: amount("1"), ReferenceID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "currency mismatch")
}

func TestWalletServiceBlockAndStatement(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	ledger := NewLedgerService(store)
	wallets := NewWalletService(repository.NewRepository(pool), ledger)
	ctx := context.Background()

	w := seedWallet(t, store, uuid.New(), domain.RLS)
	fund(t, ledger, w, "1000")
	fund(t, ledger, w, "500")

	got, err := wallets.Block(ctx, w.ID, amount("1200"), nil)
	require.NoError(t, err)
	assert.True(t, got.BlockedBalance.Equal(amount("1200")))

	_, err = wallets.Block(ctx, w.ID, amount("400"), nil)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	got, err = wallets.Unblock(ctx, w.ID, amount("200"), nil)
	require.NoError(t, err)
	assert.True(t, got.BlockedBalance.Equal(amount("1000")))

	_, err = wallets.Unblock(ctx, w.ID, amount("2000"), nil)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	page, err := wallets.GetStatement(ctx, w.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.True(t, page[0].Amount.Equal(amount("500")))

	page, err = wallets.GetStatement(ctx, w.ID, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.True(t, page[0].Amount.Equal(amount("1000")))

	entries, err := store.Queries().ListAuditLog(ctx, auditWallet, w.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Contains(t, string(e.Metadata), `"amount"`)
	}
}

func TestLedgerConcurrentCommitsKeepEveryUpdate(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	ledger := NewLedgerService(store)
	ctx := context.Background()

	w := seedWallet(t, store, uuid.New(), domain.USDT)
	fund(t, ledger, w, "100")

	const workers = 24
	want := amount("100")
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 1; i <= workers; i++ {
		value := amount(fmt.Sprintf("%d.25", i))
		want = want.Add(value)
		wg.Add(1)
		go func(value decimal.Decimal) {
			defer wg.Done()
			_, err := ledger.Commit(ctx, CommitRequest{
				WalletID:    w.ID,
				Amount:      value,
				Kind:        domain.KindManual,
				Description: "concurrent",
			})
			errs <- err
		}(value)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.True(t, walletBalance(t, store, w.ID).Equal(want), "balance %s, want %s", walletBalance(t, store, w.ID), want)

	summary, err := store.Queries().WalletLedgerSummary(ctx, w.ID)
	require.NoError(t, err)
	assert.EqualValues(t, workers+1, summary.Count)
	assert.True(t, summary.Sum.Equal(want))
	require.True(t, summary.LastBalance.Valid)
	assert.True(t, summary.LastBalance.Decimal.Equal(want))

	txs, err := store.Queries().ListWalletTransactions(ctx, w.ID, workers+1, 0)
	require.NoError(t, err)
	require.Len(t, txs, workers+1)
	// Every amount is positive, so each balance_after is a new high.
	// Newest first; replay oldest first.
	slices.Reverse(txs)
	running := decimal.Zero
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		running = running.Add(tx.Amount)
		assert.True(t, tx.BalanceAfter.Equal(running), "balance_after %s, running %s", tx.BalanceAfter, running)
		key := tx.BalanceAfter.String()
		assert.False(t, seen[key], "balance_after %s repeated", key)
		seen[key] = true
	}
}
