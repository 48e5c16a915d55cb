package service

import (
	"context"
	"testing"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/events"
	"github.com/ayo6706/custody-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciliationBalanced(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	ledger := NewLedgerService(store)
	recorder := events.NewRecorder()

	a := seedWallet(t, store, uuid.New(), domain.BTC)
	b := seedWallet(t, store, uuid.New(), domain.BTC)
	seedWallet(t, store, uuid.New(), domain.ETH)
	fund(t, ledger, a, "5")
	_, err := ledger.Transfer(context.Background(), TransferRequest{
		FromWalletID: a.ID, ToWalletID: b.ID, Amount: amount("2"), ReferenceID: uuid.New(),
	})
	require.NoError(t, err)

	report, err := NewReconciliationService(store, recorder).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Wallets)
	assert.Empty(t, report.Imbalances)
	assert.Empty(t, recorder.Events(domain.StreamOperatorAlerts))
}

func TestReconciliationDetectsImbalance(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	ledger := NewLedgerService(store)
	recorder := events.NewRecorder()
	ctx := context.Background()

	healthy := seedWallet(t, store, uuid.New(), domain.BTC)
	broken := seedWallet(t, store, uuid.New(), domain.BTC)
	fund(t, ledger, healthy, "1")
	fund(t, ledger, broken, "1")

	_, err := pool.Exec(ctx, `UPDATE wallets SET balance = balance + 0.5 WHERE id = $1`, broken.ID)
	require.NoError(t, err)

	report, err := NewReconciliationService(store, recorder).Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Imbalances, 1)
	imb := report.Imbalances[0]
	assert.Equal(t, broken.ID, imb.WalletID)
	assert.True(t, imb.Balance.Equal(amount("1.5")))
	assert.True(t, imb.Sum.Equal(amount("1")))

	alerts := recorder.OfType(domain.StreamOperatorAlerts, domain.EventLedgerImbalance)
	require.Len(t, alerts, 1)
}
