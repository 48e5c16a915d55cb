package service

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/custody-ledger/internal/chain"
	"github.com/ayo6706/custody-ledger/internal/db"
	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/events"
	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/ayo6706/custody-ledger/internal/repository"
	"github.com/ayo6706/custody-ledger/internal/settlement"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// setupTestDB migrates the database named by DATABASE_URL and empties it.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	require.NoError(t, db.MigrateUp(url))

	pool, err := db.Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(), `
		TRUNCATE TABLE audit_log, automatic_withdraws, withdraw_requests, bank_accounts,
			user_restrictions, blacklist_addresses, confirmed_deposits, deposit_tags,
			shared_addresses, deposit_addresses, ledger_transactions, wallets CASCADE`)
	require.NoError(t, err)
	return pool
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedWallet(t *testing.T, store *repository.Store, owner uuid.UUID, currency domain.CurrencyID) models.Wallet {
	t.Helper()
	w, err := store.Queries().EnsureWallet(context.Background(), owner, string(currency), domain.WalletClassSpot)
	require.NoError(t, err)
	return w
}

// fund credits w with an unreferenced manual transaction.
func fund(t *testing.T, ledger *LedgerService, w models.Wallet, value string) {
	t.Helper()
	_, err := ledger.Commit(context.Background(), CommitRequest{
		WalletID:    w.ID,
		Amount:      amount(value),
		Kind:        domain.KindManual,
		Description: "test funding",
	})
	require.NoError(t, err)
}

func seedAddress(t *testing.T, store *repository.Store, w models.Wallet, network, address string) models.DepositAddress {
	t.Helper()
	a, err := store.Queries().CreateDepositAddress(context.Background(), repository.CreateDepositAddressParams{
		WalletID: w.ID,
		Currency: w.Currency,
		Network:  network,
		Address:  address,
	})
	require.NoError(t, err)
	return a
}

func seedBankAccount(t *testing.T, store *repository.Store, userID uuid.UUID, confirmed bool) models.BankAccount {
	t.Helper()
	b, err := store.Queries().CreateBankAccount(context.Background(), repository.CreateBankAccountParams{
		UserID:      userID,
		ShabaNumber: "IR820540102680020817909002",
		BankName:    "Saman",
		OwnerName:   "Test Owner",
		Confirmed:   confirmed,
	})
	require.NoError(t, err)
	return b
}

func walletBalance(t *testing.T, store *repository.Store, id uuid.UUID) decimal.Decimal {
	t.Helper()
	w, err := store.Queries().GetWallet(context.Background(), id)
	require.NoError(t, err)
	return w.Balance
}

// stubChain serves a fixed set of transactions per address.
type stubChain struct {
	mu  sync.Mutex
	txs map[string]map[string][]chain.RawTx
	err error
}

func newStubChain() *stubChain {
	return &stubChain{txs: make(map[string]map[string][]chain.RawTx)}
}

func (c *stubChain) set(address, currency string, txs ...chain.RawTx) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txs[address] == nil {
		c.txs[address] = make(map[string][]chain.RawTx)
	}
	c.txs[address][currency] = txs
}

func (c *stubChain) GetWalletTransactions(_ context.Context, address, _, _, _ string) (map[string][]chain.RawTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.txs[address], nil
}

func (c *stubChain) GetWalletsBalance(context.Context, []string, string, string) ([]chain.AddressBalance, error) {
	return nil, nil
}

func rawTx(hash string, value string, confirmations int) chain.RawTx {
	ts := time.Now().Add(-time.Hour)
	return chain.RawTx{
		Hash:          hash,
		Timestamp:     &ts,
		Value:         amount(value),
		Confirmations: confirmations,
		FromAddresses: []string{"bc1qsender"},
	}
}

// stubBackend records settlement calls and answers with ref or err.
type stubBackend struct {
	method settlement.Method
	ref    string
	err    error
	state  settlement.State

	mu    sync.Mutex
	calls []settlement.Request
}

func (b *stubBackend) Method() settlement.Method { return b.method }

func (b *stubBackend) Settle(_ context.Context, req settlement.Request) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, req)
	if b.err != nil {
		return "", b.err
	}
	return b.ref, nil
}

func (b *stubBackend) Status(context.Context, string) (settlement.State, error) {
	return b.state, nil
}

func (b *stubBackend) Calls() []settlement.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]settlement.Request(nil), b.calls...)
}

type withdrawEnv struct {
	store    *repository.Store
	ledger   *LedgerService
	svc      *WithdrawService
	recorder *events.Recorder
	hot      *stubBackend
	bank     *stubBackend
}

// newWithdrawEnv builds a service whose dispatch window is always open and
// whose processing delay is zero.
func newWithdrawEnv(t *testing.T) *withdrawEnv {
	t.Helper()
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	ledger := NewLedgerService(store)
	recorder := events.NewRecorder()
	hot := &stubBackend{method: settlement.HotWallet, ref: "0xhash"}
	bank := &stubBackend{method: settlement.Jibit, ref: "JB-1", state: settlement.StateDone}

	svc := NewWithdrawService(WithdrawDeps{
		Store:      store,
		Ledger:     ledger,
		Settlement: settlement.NewRegistry(hot, bank),
		Publisher:  recorder,
		Window: DispatchWindow{
			Location: time.UTC, StartHour: 0, EndHour: 23, StartMinute: 0, EndMinute: 59,
		},
		DefaultMethod: settlement.Jibit,
	})
	svc.processingDelay = 0
	return &withdrawEnv{store: store, ledger: ledger, svc: svc, recorder: recorder, hot: hot, bank: bank}
}

// verified creates and verifies a request.
func (e *withdrawEnv) verified(t *testing.T, in CreateWithdrawRequest) models.WithdrawRequest {
	t.Helper()
	ctx := context.Background()
	req, err := e.svc.Create(ctx, in)
	require.NoError(t, err)
	req, err = e.svc.Verify(ctx, req.ID, req.OTP)
	require.NoError(t, err)
	return req
}
