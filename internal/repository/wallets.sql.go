package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const walletColumns = `id, owner_id, currency, class, balance, blocked_balance, is_active, created_at, updated_at`

func scanWallet(row rowScanner) (models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.OwnerID, &w.Currency, &w.Class, &w.Balance, &w.BlockedBalance, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

const ensureWallet = `
INSERT INTO wallets (owner_id, currency, class)
VALUES ($1, $2, $3)
ON CONFLICT (owner_id, currency, class) DO NOTHING
`

const getWalletByOwner = `
SELECT ` + walletColumns + `
FROM wallets
WHERE owner_id = $1 AND currency = $2 AND class = $3
`

// EnsureWallet returns the wallet for (owner, currency, class), creating it on first access.
func (q *Queries) EnsureWallet(ctx context.Context, ownerID uuid.UUID, currency, class string) (models.Wallet, error) {
	if _, err := q.db.Exec(ctx, ensureWallet, ownerID, currency, class); err != nil {
		return models.Wallet{}, fmt.Errorf("insert wallet: %w", err)
	}
	w, err := scanWallet(q.db.QueryRow(ctx, getWalletByOwner, ownerID, currency, class))
	if err != nil {
		return models.Wallet{}, mapNoRows(err, domain.ErrWalletNotFound)
	}
	return w, nil
}

const getWallet = `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`

func (q *Queries) GetWallet(ctx context.Context, id uuid.UUID) (models.Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx, getWallet, id))
	if err != nil {
		return models.Wallet{}, mapNoRows(err, domain.ErrWalletNotFound)
	}
	return w, nil
}

const addWalletBalance = `
UPDATE wallets
SET balance = balance + $2, updated_at = NOW()
WHERE id = $1
RETURNING balance
`

// AddWalletBalance increments the balance and reads the new value back in
// the same statement.
func (q *Queries) AddWalletBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	if err := q.db.QueryRow(ctx, addWalletBalance, id, amount).Scan(&balance); err != nil {
		return decimal.Decimal{}, mapNoRows(err, domain.ErrWalletNotFound)
	}
	return balance, nil
}

const addBlockedBalance = `
UPDATE wallets
SET blocked_balance = blocked_balance + $2, updated_at = NOW()
WHERE id = $1 AND blocked_balance + $2 BETWEEN 0 AND balance
RETURNING ` + walletColumns

// AddBlockedBalance adjusts the blocked balance keeping it within
// [0, balance]. It returns ErrNotFound when the bound rejects the change.
func (q *Queries) AddBlockedBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (models.Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx, addBlockedBalance, id, amount))
	if err != nil {
		return models.Wallet{}, mapNoRows(err, ErrNotFound)
	}
	return w, nil
}

const setWalletActive = `UPDATE wallets SET is_active = $2, updated_at = NOW() WHERE id = $1`

func (q *Queries) SetWalletActive(ctx context.Context, id uuid.UUID, active bool) (int64, error) {
	tag, err := q.db.Exec(ctx, setWalletActive, id, active)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listWalletsAfter = `
SELECT ` + walletColumns + `
FROM wallets
WHERE id > $1
ORDER BY id
LIMIT $2
`

// ListWalletsAfter pages through all wallets by id.
func (q *Queries) ListWalletsAfter(ctx context.Context, after uuid.UUID, limit int32) ([]models.Wallet, error) {
	rows, err := q.db.Query(ctx, listWalletsAfter, after, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWallet)
}
