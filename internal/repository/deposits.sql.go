package repository

import (
	"context"
	"time"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const depositAddressColumns = `id, wallet_id, currency, network, address, contract_address, is_disabled, needs_update,
    last_deposit, last_deposit_check, total_received, total_sent, last_update, created_at`

func scanDepositAddress(row rowScanner) (models.DepositAddress, error) {
	var a models.DepositAddress
	err := row.Scan(&a.ID, &a.WalletID, &a.Currency, &a.Network, &a.Address, &a.ContractAddress, &a.IsDisabled, &a.NeedsUpdate,
		&a.LastDeposit, &a.LastDepositCheck, &a.TotalReceived, &a.TotalSent, &a.LastUpdate, &a.CreatedAt)
	return a, err
}

type CreateDepositAddressParams struct {
	WalletID        uuid.UUID
	Currency        string
	Network         string
	Address         string
	ContractAddress *string
}

const createDepositAddress = `
INSERT INTO deposit_addresses (wallet_id, currency, network, address, contract_address)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + depositAddressColumns

func (q *Queries) CreateDepositAddress(ctx context.Context, arg CreateDepositAddressParams) (models.DepositAddress, error) {
	return scanDepositAddress(q.db.QueryRow(ctx, createDepositAddress, arg.WalletID, arg.Currency, arg.Network, arg.Address, arg.ContractAddress))
}

const getDepositAddress = `
SELECT ` + depositAddressColumns + `
FROM deposit_addresses
WHERE currency = $1 AND network = $2 AND address = $3 AND COALESCE(contract_address, '') = COALESCE($4, '')
`

func (q *Queries) GetDepositAddress(ctx context.Context, currency, network, address string, contract *string) (models.DepositAddress, error) {
	a, err := scanDepositAddress(q.db.QueryRow(ctx, getDepositAddress, currency, network, address, contract))
	if err != nil {
		return models.DepositAddress{}, mapNoRows(err, domain.ErrDepositAddressNotFound)
	}
	return a, nil
}

const getDepositAddressByID = `SELECT ` + depositAddressColumns + ` FROM deposit_addresses WHERE id = $1`

func (q *Queries) GetDepositAddressByID(ctx context.Context, id uuid.UUID) (models.DepositAddress, error) {
	a, err := scanDepositAddress(q.db.QueryRow(ctx, getDepositAddressByID, id))
	if err != nil {
		return models.DepositAddress{}, mapNoRows(err, domain.ErrDepositAddressNotFound)
	}
	return a, nil
}

const findDepositAddresses = `
SELECT ` + depositAddressColumns + `
FROM deposit_addresses
WHERE (address = $1 OR ($4 AND lower(address) = lower($1)))
  AND currency = $2
  AND ($3 = '' OR network = $3)
ORDER BY created_at DESC
`

// FindDepositAddresses matches address within currency, optionally narrowed
// to a network. caseInsensitive is used for hex based chains.
func (q *Queries) FindDepositAddresses(ctx context.Context, address, currency, network string, caseInsensitive bool) ([]models.DepositAddress, error) {
	rows, err := q.db.Query(ctx, findDepositAddresses, address, currency, network, caseInsensitive)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDepositAddress)
}

const knownDepositAddresses = `
SELECT DISTINCT lower(address)
FROM deposit_addresses
WHERE lower(address) = ANY($1)
`

// KnownDepositAddresses returns the lowercased subset of addresses that
// belong to this exchange.
func (q *Queries) KnownDepositAddresses(ctx context.Context, lowered []string) (map[string]struct{}, error) {
	rows, err := q.db.Query(ctx, knownDepositAddresses, lowered)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out[a] = struct{}{}
	}
	return out, rows.Err()
}

const listAddressesDueForCheck = `
SELECT ` + depositAddressColumns + `
FROM deposit_addresses
WHERE NOT is_disabled
  AND (last_deposit_check IS NULL OR last_deposit_check < $1)
ORDER BY last_deposit_check NULLS FIRST
LIMIT $2
`

func (q *Queries) ListAddressesDueForCheck(ctx context.Context, before time.Time, limit int32) ([]models.DepositAddress, error) {
	rows, err := q.db.Query(ctx, listAddressesDueForCheck, before, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDepositAddress)
}

const advanceLastDeposit = `
UPDATE deposit_addresses
SET last_deposit = $2
WHERE id = $1 AND (last_deposit IS NULL OR last_deposit < $2)
`

// AdvanceLastDeposit moves last_deposit forward only.
func (q *Queries) AdvanceLastDeposit(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := q.db.Exec(ctx, advanceLastDeposit, id, at)
	return err
}

const stampDepositCheck = `UPDATE deposit_addresses SET last_deposit_check = $2 WHERE id = $1`

func (q *Queries) StampDepositCheck(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := q.db.Exec(ctx, stampDepositCheck, id, at)
	return err
}

const setDepositAddressDisabled = `UPDATE deposit_addresses SET is_disabled = $2 WHERE id = $1`

func (q *Queries) SetDepositAddressDisabled(ctx context.Context, id uuid.UUID, disabled bool) error {
	_, err := q.db.Exec(ctx, setDepositAddressDisabled, id, disabled)
	return err
}

type UpdateAddressBalanceParams struct {
	Currency string
	Network  string
	Address  string
	Received decimal.Decimal
	Sent     decimal.Decimal
	At       time.Time
}

const updateAddressBalance = `
UPDATE deposit_addresses
SET total_received = $4, total_sent = $5, needs_update = FALSE, last_update = $6
WHERE currency = $1 AND network = $2 AND address = $3
`

func (q *Queries) UpdateAddressBalance(ctx context.Context, arg UpdateAddressBalanceParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateAddressBalance, arg.Currency, arg.Network, arg.Address, arg.Received, arg.Sent, arg.At)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listAddressesNeedingUpdate = `
SELECT ` + depositAddressColumns + `
FROM deposit_addresses
WHERE needs_update AND currency = $1 AND network = $2
LIMIT $3
`

func (q *Queries) ListAddressesNeedingUpdate(ctx context.Context, currency, network string, limit int32) ([]models.DepositAddress, error) {
	rows, err := q.db.Query(ctx, listAddressesNeedingUpdate, currency, network, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDepositAddress)
}

const markAddressNeedsUpdate = `UPDATE deposit_addresses SET needs_update = TRUE WHERE id = $1`

func (q *Queries) MarkAddressNeedsUpdate(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, markAddressNeedsUpdate, id)
	return err
}

const sharedAddressColumns = `id, currency, network, address`

func scanSharedAddress(row rowScanner) (models.SharedAddress, error) {
	var s models.SharedAddress
	err := row.Scan(&s.ID, &s.Currency, &s.Network, &s.Address)
	return s, err
}

const upsertSharedAddress = `
INSERT INTO shared_addresses (currency, network, address)
VALUES ($1, $2, $3)
ON CONFLICT (currency, network, address) DO UPDATE SET address = EXCLUDED.address
RETURNING ` + sharedAddressColumns

func (q *Queries) UpsertSharedAddress(ctx context.Context, currency, network, address string) (models.SharedAddress, error) {
	return scanSharedAddress(q.db.QueryRow(ctx, upsertSharedAddress, currency, network, address))
}

const getSharedAddress = `
SELECT ` + sharedAddressColumns + `
FROM shared_addresses
WHERE currency = $1 AND network = $2 AND address = $3
`

func (q *Queries) GetSharedAddress(ctx context.Context, currency, network, address string) (models.SharedAddress, error) {
	s, err := scanSharedAddress(q.db.QueryRow(ctx, getSharedAddress, currency, network, address))
	if err != nil {
		return models.SharedAddress{}, mapNoRows(err, ErrNotFound)
	}
	return s, nil
}

const findSharedAddress = `
SELECT ` + sharedAddressColumns + `
FROM shared_addresses
WHERE address = $1 AND currency = $2
LIMIT 1
`

func (q *Queries) FindSharedAddress(ctx context.Context, address, currency string) (models.SharedAddress, error) {
	s, err := scanSharedAddress(q.db.QueryRow(ctx, findSharedAddress, address, currency))
	if err != nil {
		return models.SharedAddress{}, mapNoRows(err, ErrNotFound)
	}
	return s, nil
}

const depositTagColumns = `id, wallet_id, currency, tag`

func scanDepositTag(row rowScanner) (models.DepositTag, error) {
	var t models.DepositTag
	err := row.Scan(&t.ID, &t.WalletID, &t.Currency, &t.Tag)
	return t, err
}

const createDepositTag = `
INSERT INTO deposit_tags (wallet_id, currency, tag)
VALUES ($1, $2, $3)
RETURNING ` + depositTagColumns

func (q *Queries) CreateDepositTag(ctx context.Context, walletID uuid.UUID, currency string, tag int64) (models.DepositTag, error) {
	return scanDepositTag(q.db.QueryRow(ctx, createDepositTag, walletID, currency, tag))
}

const getDepositTag = `SELECT ` + depositTagColumns + ` FROM deposit_tags WHERE currency = $1 AND tag = $2`

func (q *Queries) GetDepositTag(ctx context.Context, currency string, tag int64) (models.DepositTag, error) {
	t, err := scanDepositTag(q.db.QueryRow(ctx, getDepositTag, currency, tag))
	if err != nil {
		return models.DepositTag{}, mapNoRows(err, ErrNotFound)
	}
	return t, nil
}

const findDepositTagAnyCurrency = `
SELECT ` + depositTagColumns + `
FROM deposit_tags
WHERE tag = $1
ORDER BY created_at
LIMIT 1
`

// FindDepositTagAnyCurrency looks a tag up regardless of its currency.
func (q *Queries) FindDepositTagAnyCurrency(ctx context.Context, tag int64) (models.DepositTag, error) {
	t, err := scanDepositTag(q.db.QueryRow(ctx, findDepositTagAnyCurrency, tag))
	if err != nil {
		return models.DepositTag{}, mapNoRows(err, ErrNotFound)
	}
	return t, nil
}

const confirmedDepositColumns = `id, wallet_id, currency, network, tx_hash, address_id, tag_id, invoice, contract_address,
    amount, fair_value, confirmations, validated, confirmed, expired, source_addresses, tx_datetime, transaction_id,
    created_at, updated_at`

func scanConfirmedDeposit(row rowScanner) (models.ConfirmedDeposit, error) {
	var d models.ConfirmedDeposit
	err := row.Scan(&d.ID, &d.WalletID, &d.Currency, &d.Network, &d.TxHash, &d.AddressID, &d.TagID, &d.Invoice, &d.ContractAddress,
		&d.Amount, &d.FairValue, &d.Confirmations, &d.Validated, &d.Confirmed, &d.Expired, &d.SourceAddresses, &d.TxDatetime,
		&d.TransactionID, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

type CreateConfirmedDepositParams struct {
	WalletID        uuid.UUID
	Currency        string
	Network         string
	TxHash          string
	AddressID       *uuid.UUID
	TagID           *uuid.UUID
	Invoice         *string
	ContractAddress *string
	Amount          decimal.Decimal
	FairValue       decimal.NullDecimal
	Confirmations   int
	SourceAddresses []string
	TxDatetime      *time.Time
}

const createConfirmedDeposit = `
INSERT INTO confirmed_deposits (wallet_id, currency, network, tx_hash, address_id, tag_id, invoice, contract_address,
    amount, fair_value, confirmations, source_addresses, tx_datetime)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT DO NOTHING
`

// CreateConfirmedDeposit inserts the deposit unless one with the same key
// exists. It reports whether a row was created.
func (q *Queries) CreateConfirmedDeposit(ctx context.Context, arg CreateConfirmedDepositParams) (bool, error) {
	sources := arg.SourceAddresses
	if sources == nil {
		sources = []string{}
	}
	tag, err := q.db.Exec(ctx, createConfirmedDeposit,
		arg.WalletID, arg.Currency, arg.Network, arg.TxHash, arg.AddressID, arg.TagID, arg.Invoice, arg.ContractAddress,
		arg.Amount, arg.FairValue, arg.Confirmations, sources, arg.TxDatetime)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const getDepositByAddressForUpdate = `
SELECT ` + confirmedDepositColumns + `
FROM confirmed_deposits
WHERE tx_hash = $1 AND address_id = $2 AND COALESCE(contract_address, '') = COALESCE($3, '')
FOR UPDATE
`

func (q *Queries) GetDepositByAddressForUpdate(ctx context.Context, txHash string, addressID uuid.UUID, contract *string) (models.ConfirmedDeposit, error) {
	d, err := scanConfirmedDeposit(q.db.QueryRow(ctx, getDepositByAddressForUpdate, txHash, addressID, contract))
	if err != nil {
		return models.ConfirmedDeposit{}, mapNoRows(err, ErrNotFound)
	}
	return d, nil
}

const getDepositByTagForUpdate = `
SELECT ` + confirmedDepositColumns + `
FROM confirmed_deposits
WHERE tx_hash = $1 AND tag_id = $2
FOR UPDATE
`

func (q *Queries) GetDepositByTagForUpdate(ctx context.Context, txHash string, tagID uuid.UUID) (models.ConfirmedDeposit, error) {
	d, err := scanConfirmedDeposit(q.db.QueryRow(ctx, getDepositByTagForUpdate, txHash, tagID))
	if err != nil {
		return models.ConfirmedDeposit{}, mapNoRows(err, ErrNotFound)
	}
	return d, nil
}

const getDepositByInvoiceForUpdate = `
SELECT ` + confirmedDepositColumns + `
FROM confirmed_deposits
WHERE tx_hash = $1 AND invoice = $2
FOR UPDATE
`

func (q *Queries) GetDepositByInvoiceForUpdate(ctx context.Context, txHash, invoice string) (models.ConfirmedDeposit, error) {
	d, err := scanConfirmedDeposit(q.db.QueryRow(ctx, getDepositByInvoiceForUpdate, txHash, invoice))
	if err != nil {
		return models.ConfirmedDeposit{}, mapNoRows(err, ErrNotFound)
	}
	return d, nil
}

const getConfirmedDeposit = `SELECT ` + confirmedDepositColumns + ` FROM confirmed_deposits WHERE id = $1`

func (q *Queries) GetConfirmedDeposit(ctx context.Context, id uuid.UUID) (models.ConfirmedDeposit, error) {
	d, err := scanConfirmedDeposit(q.db.QueryRow(ctx, getConfirmedDeposit, id))
	if err != nil {
		return models.ConfirmedDeposit{}, mapNoRows(err, ErrNotFound)
	}
	return d, nil
}

const markDepositValidated = `UPDATE confirmed_deposits SET validated = TRUE, updated_at = NOW() WHERE id = $1 AND NOT validated`

func (q *Queries) MarkDepositValidated(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, markDepositValidated, id)
	return err
}

type UpdateDepositObservationParams struct {
	ID              uuid.UUID
	Amount          decimal.Decimal
	Confirmations   int
	TxDatetime      *time.Time
	SourceAddresses []string
}

const updateDepositObservation = `
UPDATE confirmed_deposits
SET amount = $2,
    confirmations = $3,
    tx_datetime = COALESCE($4, tx_datetime),
    source_addresses = COALESCE($5, source_addresses),
    updated_at = NOW()
WHERE id = $1 AND NOT confirmed
`

// UpdateDepositObservation refreshes an unconfirmed deposit. A nil source
// list keeps the stored one.
func (q *Queries) UpdateDepositObservation(ctx context.Context, arg UpdateDepositObservationParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateDepositObservation, arg.ID, arg.Amount, arg.Confirmations, arg.TxDatetime, arg.SourceAddresses)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const confirmDeposit = `
UPDATE confirmed_deposits
SET confirmed = TRUE, transaction_id = $2, updated_at = NOW()
WHERE id = $1 AND NOT confirmed
`

// ConfirmDeposit flips confirmed once. Zero rows means it was already confirmed.
func (q *Queries) ConfirmDeposit(ctx context.Context, id, transactionID uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, confirmDeposit, id, transactionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const expireDeposit = `UPDATE confirmed_deposits SET expired = TRUE, updated_at = NOW() WHERE id = $1 AND NOT confirmed`

func (q *Queries) ExpireDeposit(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, expireDeposit, id)
	return err
}

const listOpenInvoiceDeposits = `
SELECT ` + confirmedDepositColumns + `
FROM confirmed_deposits
WHERE wallet_id = $1 AND invoice IS NOT NULL AND NOT expired AND NOT confirmed AND created_at > $2
ORDER BY created_at
`

func (q *Queries) ListOpenInvoiceDeposits(ctx context.Context, walletID uuid.UUID, since time.Time) ([]models.ConfirmedDeposit, error) {
	rows, err := q.db.Query(ctx, listOpenInvoiceDeposits, walletID, since)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanConfirmedDeposit)
}
