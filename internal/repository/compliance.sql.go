package repository

import (
	"context"

	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/google/uuid"
)

const blacklistColumns = `id, address, currency, is_active, is_deposit, is_withdraw, description`

func scanBlacklistAddress(row rowScanner) (models.BlacklistAddress, error) {
	var b models.BlacklistAddress
	err := row.Scan(&b.ID, &b.Address, &b.Currency, &b.IsActive, &b.IsDeposit, &b.IsWithdraw, &b.Description)
	return b, err
}

type CreateBlacklistAddressParams struct {
	Address     string
	Currency    *string
	IsDeposit   bool
	IsWithdraw  bool
	Description string
}

const createBlacklistAddress = `
INSERT INTO blacklist_addresses (address, currency, is_deposit, is_withdraw, description)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + blacklistColumns

func (q *Queries) CreateBlacklistAddress(ctx context.Context, arg CreateBlacklistAddressParams) (models.BlacklistAddress, error) {
	return scanBlacklistAddress(q.db.QueryRow(ctx, createBlacklistAddress, arg.Address, arg.Currency, arg.IsDeposit, arg.IsWithdraw, arg.Description))
}

const matchBlacklist = `
SELECT ` + blacklistColumns + `
FROM blacklist_addresses
WHERE address = ANY($1)
  AND is_active
  AND (currency IS NULL OR currency = $2)
  AND CASE WHEN $3::bool THEN is_deposit ELSE is_withdraw END
`

// MatchBlacklist returns active entries covering any of addresses. deposit
// selects deposit-side entries, otherwise withdraw-side ones.
func (q *Queries) MatchBlacklist(ctx context.Context, addresses []string, currency string, deposit bool) ([]models.BlacklistAddress, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, matchBlacklist, addresses, currency, deposit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanBlacklistAddress)
}

const addUserRestriction = `
INSERT INTO user_restrictions (user_id, restriction, description)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, restriction) DO NOTHING
`

// AddUserRestriction reports whether the restriction was newly added.
func (q *Queries) AddUserRestriction(ctx context.Context, userID uuid.UUID, restriction, description string) (bool, error) {
	tag, err := q.db.Exec(ctx, addUserRestriction, userID, restriction, description)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const hasUserRestriction = `SELECT EXISTS (SELECT 1 FROM user_restrictions WHERE user_id = $1 AND restriction = $2)`

func (q *Queries) HasUserRestriction(ctx context.Context, userID uuid.UUID, restriction string) (bool, error) {
	var ok bool
	err := q.db.QueryRow(ctx, hasUserRestriction, userID, restriction).Scan(&ok)
	return ok, err
}

const bankAccountColumns = `id, user_id, account_number, shaba_number, bank_name, owner_name, confirmed, is_system, is_deleted`

func scanBankAccount(row rowScanner) (models.BankAccount, error) {
	var b models.BankAccount
	err := row.Scan(&b.ID, &b.UserID, &b.AccountNumber, &b.ShabaNumber, &b.BankName, &b.OwnerName, &b.Confirmed, &b.IsSystem, &b.IsDeleted)
	return b, err
}

type CreateBankAccountParams struct {
	UserID        uuid.UUID
	AccountNumber string
	ShabaNumber   string
	BankName      string
	OwnerName     string
	Confirmed     bool
	IsSystem      bool
}

const createBankAccount = `
INSERT INTO bank_accounts (user_id, account_number, shaba_number, bank_name, owner_name, confirmed, is_system)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + bankAccountColumns

func (q *Queries) CreateBankAccount(ctx context.Context, arg CreateBankAccountParams) (models.BankAccount, error) {
	return scanBankAccount(q.db.QueryRow(ctx, createBankAccount,
		arg.UserID, arg.AccountNumber, arg.ShabaNumber, arg.BankName, arg.OwnerName, arg.Confirmed, arg.IsSystem))
}

const getBankAccount = `SELECT ` + bankAccountColumns + ` FROM bank_accounts WHERE id = $1`

func (q *Queries) GetBankAccount(ctx context.Context, id uuid.UUID) (models.BankAccount, error) {
	b, err := scanBankAccount(q.db.QueryRow(ctx, getBankAccount, id))
	if err != nil {
		return models.BankAccount{}, mapNoRows(err, ErrNotFound)
	}
	return b, nil
}
