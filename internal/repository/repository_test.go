package repository

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/ayo6706/custody-ledger/internal/db"
	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/testutil/dblock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = godotenv.Load("../../.env") // Load from root
}

func TestMain(m *testing.M) {
	release := dblock.Acquire()
	code := m.Run()
	release()
	os.Exit(code)
}

func connect(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	require.NoError(t, db.MigrateUp(url))

	pool, err := db.Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestEnsureWalletIsIdempotent(t *testing.T) {
	pool := connect(t)
	q := New(pool)
	ctx := context.Background()
	owner := uuid.New()

	first, err := q.EnsureWallet(ctx, owner, "btc", domain.WalletClassSpot)
	require.NoError(t, err)
	second, err := q.EnsureWallet(ctx, owner, "btc", domain.WalletClassSpot)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.Balance.IsZero())
	assert.True(t, first.IsActive)

	_, err = q.GetWallet(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)
}

func TestAddWalletBalanceReturnsNewBalance(t *testing.T) {
	pool := connect(t)
	q := New(pool)
	ctx := context.Background()

	w, err := q.EnsureWallet(ctx, uuid.New(), "usdt", domain.WalletClassSpot)
	require.NoError(t, err)

	bal, err := q.AddWalletBalance(ctx, w.ID, decimal.RequireFromString("12.5"))
	require.NoError(t, err)
	assert.Equal(t, "12.5", bal.String())

	bal, err = q.AddWalletBalance(ctx, w.ID, decimal.RequireFromString("-2.5"))
	require.NoError(t, err)
	assert.Equal(t, "10", bal.String())
}

func TestAddBlockedBalanceBounds(t *testing.T) {
	pool := connect(t)
	q := New(pool)
	ctx := context.Background()

	w, err := q.EnsureWallet(ctx, uuid.New(), "eth", domain.WalletClassSpot)
	require.NoError(t, err)
	_, err = q.AddWalletBalance(ctx, w.ID, decimal.NewFromInt(5))
	require.NoError(t, err)

	w, err = q.AddBlockedBalance(ctx, w.ID, decimal.NewFromInt(3))
	require.NoError(t, err)
	assert.Equal(t, "3", w.BlockedBalance.String())

	_, err = q.AddBlockedBalance(ctx, w.ID, decimal.NewFromInt(3))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = q.AddBlockedBalance(ctx, w.ID, decimal.NewFromInt(-4))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertLedgerTransactionDuplicateReference(t *testing.T) {
	pool := connect(t)
	store := NewStore(pool)
	ctx := context.Background()

	w, err := store.Queries().EnsureWallet(ctx, uuid.New(), "trx", domain.WalletClassSpot)
	require.NoError(t, err)

	module := domain.RefConfirmedDeposit
	ref := uuid.New()
	params := InsertLedgerTransactionParams{
		WalletID:     w.ID,
		Amount:       decimal.NewFromInt(1),
		Kind:         domain.KindDeposit,
		RefModule:    &module,
		RefID:        &ref,
		BalanceAfter: decimal.NewFromInt(1),
	}

	err = store.RunInTx(ctx, func(q *Queries) error {
		if _, err := q.InsertLedgerTransaction(ctx, params); err != nil {
			return err
		}
		_, err := q.InsertLedgerTransaction(ctx, params)
		require.ErrorIs(t, err, domain.ErrDuplicateReference)

		// The transaction is still usable after the conflict.
		_, err = q.GetLedgerTransactionByRef(ctx, module, ref)
		return err
	})
	require.NoError(t, err)

	// Rows without a reference never collide.
	params.RefModule, params.RefID = nil, nil
	_, err = store.Queries().InsertLedgerTransaction(ctx, params)
	require.NoError(t, err)
	_, err = store.Queries().InsertLedgerTransaction(ctx, params)
	require.NoError(t, err)

	txs, err := NewRepository(pool).Statement(ctx, w.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 3)
}

func TestSavepointRollbackKeepsOuterTx(t *testing.T) {
	pool := connect(t)
	store := NewStore(pool)
	ctx := context.Background()

	w, err := store.Queries().EnsureWallet(ctx, uuid.New(), "xrp", domain.WalletClassSpot)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.RunInTx(ctx, func(q *Queries) error {
		if _, err := q.AddWalletBalance(ctx, w.ID, decimal.NewFromInt(7)); err != nil {
			return err
		}
		err := q.Savepoint(ctx, func(sq *Queries) error {
			if _, err := sq.AddWalletBalance(ctx, w.ID, decimal.NewFromInt(100)); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		return nil
	})
	require.NoError(t, err)

	got, err := store.Queries().GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "7", got.Balance.String())
}
