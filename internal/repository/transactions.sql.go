package repository

import (
	"context"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const ledgerTransactionColumns = `id, wallet_id, amount, kind, description, ref_module, ref_id, balance_after, created_at`

func scanLedgerTransaction(row rowScanner) (models.LedgerTransaction, error) {
	var t models.LedgerTransaction
	err := row.Scan(&t.ID, &t.WalletID, &t.Amount, &t.Kind, &t.Description, &t.RefModule, &t.RefID, &t.BalanceAfter, &t.CreatedAt)
	return t, err
}

type InsertLedgerTransactionParams struct {
	WalletID     uuid.UUID
	Amount       decimal.Decimal
	Kind         string
	Description  string
	RefModule    *string
	RefID        *uuid.UUID
	BalanceAfter decimal.Decimal
}

const insertLedgerTransaction = `
INSERT INTO ledger_transactions (wallet_id, amount, kind, description, ref_module, ref_id, balance_after)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (ref_module, ref_id) DO NOTHING
RETURNING ` + ledgerTransactionColumns

// InsertLedgerTransaction appends a transaction row. A reference already
// present yields domain.ErrDuplicateReference.
func (q *Queries) InsertLedgerTransaction(ctx context.Context, arg InsertLedgerTransactionParams) (models.LedgerTransaction, error) {
	t, err := scanLedgerTransaction(q.db.QueryRow(ctx, insertLedgerTransaction,
		arg.WalletID, arg.Amount, arg.Kind, arg.Description, arg.RefModule, arg.RefID, arg.BalanceAfter))
	if err != nil {
		return models.LedgerTransaction{}, mapNoRows(err, domain.ErrDuplicateReference)
	}
	return t, nil
}

const getLedgerTransaction = `SELECT ` + ledgerTransactionColumns + ` FROM ledger_transactions WHERE id = $1`

func (q *Queries) GetLedgerTransaction(ctx context.Context, id uuid.UUID) (models.LedgerTransaction, error) {
	t, err := scanLedgerTransaction(q.db.QueryRow(ctx, getLedgerTransaction, id))
	if err != nil {
		return models.LedgerTransaction{}, mapNoRows(err, ErrNotFound)
	}
	return t, nil
}

const getLedgerTransactionByRef = `
SELECT ` + ledgerTransactionColumns + `
FROM ledger_transactions
WHERE ref_module = $1 AND ref_id = $2
`

func (q *Queries) GetLedgerTransactionByRef(ctx context.Context, refModule string, refID uuid.UUID) (models.LedgerTransaction, error) {
	t, err := scanLedgerTransaction(q.db.QueryRow(ctx, getLedgerTransactionByRef, refModule, refID))
	if err != nil {
		return models.LedgerTransaction{}, mapNoRows(err, ErrNotFound)
	}
	return t, nil
}

const listWalletTransactions = `
SELECT ` + ledgerTransactionColumns + `
FROM ledger_transactions
WHERE wallet_id = $1
ORDER BY seq DESC
LIMIT $2 OFFSET $3
`

func (q *Queries) ListWalletTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int32) ([]models.LedgerTransaction, error) {
	rows, err := q.db.Query(ctx, listWalletTransactions, walletID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanLedgerTransaction)
}

// LedgerSummary aggregates the transaction log of a single wallet.
type LedgerSummary struct {
	Count        int64
	Sum          decimal.Decimal
	LastBalance  decimal.NullDecimal
	WalletAmount decimal.Decimal
}

const walletLedgerSummary = `
SELECT
    (SELECT COUNT(*) FROM ledger_transactions t WHERE t.wallet_id = w.id),
    (SELECT COALESCE(SUM(t.amount), 0) FROM ledger_transactions t WHERE t.wallet_id = w.id),
    (SELECT t.balance_after FROM ledger_transactions t WHERE t.wallet_id = w.id ORDER BY t.seq DESC LIMIT 1),
    w.balance
FROM wallets w
WHERE w.id = $1
`

func (q *Queries) WalletLedgerSummary(ctx context.Context, walletID uuid.UUID) (LedgerSummary, error) {
	var s LedgerSummary
	err := q.db.QueryRow(ctx, walletLedgerSummary, walletID).Scan(&s.Count, &s.Sum, &s.LastBalance, &s.WalletAmount)
	if err != nil {
		return LedgerSummary{}, mapNoRows(err, domain.ErrWalletNotFound)
	}
	return s, nil
}
