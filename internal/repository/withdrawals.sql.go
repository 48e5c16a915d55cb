package repository

import (
	"context"
	"time"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const withdrawColumns = `id, uid, parent_id, wallet_id, user_id, currency, tp, status, amount, fee, network, target_address,
    tag, contract_address, target_account_id, transaction_id, otp, settlement_method, external_ref, updates,
    blockchain_url, created_at, updated_at`

func scanWithdrawRequest(row rowScanner) (models.WithdrawRequest, error) {
	var (
		w      models.WithdrawRequest
		tp     int16
		status int16
	)
	err := row.Scan(&w.ID, &w.UID, &w.ParentID, &w.WalletID, &w.UserID, &w.Currency, &tp, &status, &w.Amount, &w.Fee,
		&w.Network, &w.TargetAddress, &w.Tag, &w.ContractAddress, &w.TargetAccountID, &w.TransactionID, &w.OTP,
		&w.SettlementMethod, &w.ExternalRef, &w.Updates, &w.BlockchainURL, &w.CreatedAt, &w.UpdatedAt)
	w.Type = int(tp)
	w.Status = domain.WithdrawStatus(status)
	return w, err
}

type CreateWithdrawRequestParams struct {
	UID              *uuid.UUID
	ParentID         *uuid.UUID
	WalletID         uuid.UUID
	UserID           uuid.UUID
	Currency         string
	Type             int
	Status           domain.WithdrawStatus
	Amount           decimal.Decimal
	Fee              decimal.Decimal
	Network          string
	TargetAddress    string
	Tag              string
	ContractAddress  string
	TargetAccountID  *uuid.UUID
	TransactionID    *uuid.UUID
	OTP              string
	SettlementMethod string
}

const createWithdrawRequest = `
INSERT INTO withdraw_requests (uid, parent_id, wallet_id, user_id, currency, tp, status, amount, fee, network,
    target_address, tag, contract_address, target_account_id, transaction_id, otp, settlement_method)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (uid) DO NOTHING
RETURNING ` + withdrawColumns

// CreateWithdrawRequest inserts a request. A uid already in use yields
// ErrNotFound so the caller can load the existing row.
func (q *Queries) CreateWithdrawRequest(ctx context.Context, arg CreateWithdrawRequestParams) (models.WithdrawRequest, error) {
	w, err := scanWithdrawRequest(q.db.QueryRow(ctx, createWithdrawRequest,
		arg.UID, arg.ParentID, arg.WalletID, arg.UserID, arg.Currency, int16(arg.Type), int16(arg.Status), arg.Amount, arg.Fee,
		arg.Network, arg.TargetAddress, arg.Tag, arg.ContractAddress, arg.TargetAccountID, arg.TransactionID, arg.OTP,
		arg.SettlementMethod))
	if err != nil {
		return models.WithdrawRequest{}, mapNoRows(err, ErrNotFound)
	}
	return w, nil
}

const getWithdrawRequest = `SELECT ` + withdrawColumns + ` FROM withdraw_requests WHERE id = $1`

func (q *Queries) GetWithdrawRequest(ctx context.Context, id uuid.UUID) (models.WithdrawRequest, error) {
	w, err := scanWithdrawRequest(q.db.QueryRow(ctx, getWithdrawRequest, id))
	if err != nil {
		return models.WithdrawRequest{}, mapNoRows(err, domain.ErrWithdrawNotFound)
	}
	return w, nil
}

const getWithdrawRequestForUpdate = getWithdrawRequest + ` FOR UPDATE`

func (q *Queries) GetWithdrawRequestForUpdate(ctx context.Context, id uuid.UUID) (models.WithdrawRequest, error) {
	w, err := scanWithdrawRequest(q.db.QueryRow(ctx, getWithdrawRequestForUpdate, id))
	if err != nil {
		return models.WithdrawRequest{}, mapNoRows(err, domain.ErrWithdrawNotFound)
	}
	return w, nil
}

const getWithdrawRequestByUID = `SELECT ` + withdrawColumns + ` FROM withdraw_requests WHERE uid = $1`

func (q *Queries) GetWithdrawRequestByUID(ctx context.Context, uid uuid.UUID) (models.WithdrawRequest, error) {
	w, err := scanWithdrawRequest(q.db.QueryRow(ctx, getWithdrawRequestByUID, uid))
	if err != nil {
		return models.WithdrawRequest{}, mapNoRows(err, domain.ErrWithdrawNotFound)
	}
	return w, nil
}

const getWithdrawByExternalRef = `
SELECT ` + withdrawColumns + `
FROM withdraw_requests
WHERE settlement_method = $1 AND external_ref = $2
FOR UPDATE
`

func (q *Queries) GetWithdrawByExternalRefForUpdate(ctx context.Context, method, ref string) (models.WithdrawRequest, error) {
	w, err := scanWithdrawRequest(q.db.QueryRow(ctx, getWithdrawByExternalRef, method, ref))
	if err != nil {
		return models.WithdrawRequest{}, mapNoRows(err, domain.ErrWithdrawNotFound)
	}
	return w, nil
}

const updateWithdrawStatus = `UPDATE withdraw_requests SET status = $2, updated_at = NOW() WHERE id = $1`

func (q *Queries) UpdateWithdrawStatus(ctx context.Context, id uuid.UUID, status domain.WithdrawStatus) (int64, error) {
	tag, err := q.db.Exec(ctx, updateWithdrawStatus, id, int16(status))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const setWithdrawTransaction = `UPDATE withdraw_requests SET transaction_id = $2, updated_at = NOW() WHERE id = $1`

func (q *Queries) SetWithdrawTransaction(ctx context.Context, id, transactionID uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, setWithdrawTransaction, id, transactionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const setWithdrawType = `UPDATE withdraw_requests SET tp = $2, updated_at = NOW() WHERE id = $1`

func (q *Queries) SetWithdrawType(ctx context.Context, id uuid.UUID, tp int) error {
	_, err := q.db.Exec(ctx, setWithdrawType, id, int16(tp))
	return err
}

const updateWithdrawAmount = `UPDATE withdraw_requests SET amount = $2, fee = $3, updated_at = NOW() WHERE id = $1`

func (q *Queries) UpdateWithdrawAmount(ctx context.Context, id uuid.UUID, amount, fee decimal.Decimal) (int64, error) {
	tag, err := q.db.Exec(ctx, updateWithdrawAmount, id, amount, fee)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type SetWithdrawSettlementParams struct {
	ID               uuid.UUID
	SettlementMethod string
	ExternalRef      string
	Updates          string
	BlockchainURL    string
}

const setWithdrawSettlement = `
UPDATE withdraw_requests
SET settlement_method = COALESCE(NULLIF($2, ''), settlement_method),
    external_ref = COALESCE(NULLIF($3, ''), external_ref),
    updates = CASE WHEN $4 = '' THEN updates WHEN updates = '' THEN $4 ELSE updates || E'\n' || $4 END,
    blockchain_url = COALESCE(NULLIF($5, ''), blockchain_url),
    updated_at = NOW()
WHERE id = $1
`

// SetWithdrawSettlement records provider details. Empty fields are kept;
// updates are appended line by line.
func (q *Queries) SetWithdrawSettlement(ctx context.Context, arg SetWithdrawSettlementParams) error {
	_, err := q.db.Exec(ctx, setWithdrawSettlement, arg.ID, arg.SettlementMethod, arg.ExternalRef, arg.Updates, arg.BlockchainURL)
	return err
}

const listSplitChildren = `
SELECT ` + withdrawColumns + `
FROM withdraw_requests
WHERE parent_id = $1
ORDER BY created_at, id
`

func (q *Queries) ListSplitChildren(ctx context.Context, parentID uuid.UUID) ([]models.WithdrawRequest, error) {
	rows, err := q.db.Query(ctx, listSplitChildren, parentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWithdrawRequest)
}

const countUserRequests = `
SELECT COUNT(*)
FROM withdraw_requests
WHERE user_id = $1 AND status = $2 AND created_at >= $3
`

func (q *Queries) CountUserRequests(ctx context.Context, userID uuid.UUID, status domain.WithdrawStatus, since time.Time) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countUserRequests, userID, int16(status), since).Scan(&n)
	return n, err
}

const claimDispatchable = `
SELECT ` + withdrawColumns + `
FROM withdraw_requests
WHERE status = ANY($1::smallint[]) AND updated_at <= $3
ORDER BY array_position($1::smallint[], status), created_at
LIMIT $2
FOR UPDATE SKIP LOCKED
`

// ClaimDispatchable locks up to limit requests in one of statuses, ordered
// by the position of their status in statuses. Rows touched after
// touchedBefore are left for a later cycle.
func (q *Queries) ClaimDispatchable(ctx context.Context, statuses []domain.WithdrawStatus, limit int32, touchedBefore time.Time) ([]models.WithdrawRequest, error) {
	codes := make([]int16, len(statuses))
	for i, s := range statuses {
		codes[i] = int16(s)
	}
	rows, err := q.db.Query(ctx, claimDispatchable, codes, limit, touchedBefore)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWithdrawRequest)
}

const listWithdrawsByStatus = `
SELECT ` + withdrawColumns + `
FROM withdraw_requests
WHERE status = $1
ORDER BY created_at
LIMIT $2
`

func (q *Queries) ListWithdrawsByStatus(ctx context.Context, status domain.WithdrawStatus, limit int32) ([]models.WithdrawRequest, error) {
	rows, err := q.db.Query(ctx, listWithdrawsByStatus, int16(status), limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWithdrawRequest)
}

const automaticWithdrawColumns = `id, withdraw_id, method, status, retry, external_ref, created_at, updated_at`

func scanAutomaticWithdraw(row rowScanner) (models.AutomaticWithdraw, error) {
	var (
		a      models.AutomaticWithdraw
		status int16
	)
	err := row.Scan(&a.ID, &a.WithdrawID, &a.Method, &status, &a.Retry, &a.ExternalRef, &a.CreatedAt, &a.UpdatedAt)
	a.Status = int(status)
	return a, err
}

const ensureAutomaticWithdraw = `
INSERT INTO automatic_withdraws (withdraw_id, method)
VALUES ($1, $2)
ON CONFLICT (withdraw_id) DO NOTHING
`

const getAutomaticWithdraw = `SELECT ` + automaticWithdrawColumns + ` FROM automatic_withdraws WHERE withdraw_id = $1`

// EnsureAutomaticWithdraw creates the companion row once and returns it.
func (q *Queries) EnsureAutomaticWithdraw(ctx context.Context, withdrawID uuid.UUID, method string) (models.AutomaticWithdraw, error) {
	if _, err := q.db.Exec(ctx, ensureAutomaticWithdraw, withdrawID, method); err != nil {
		return models.AutomaticWithdraw{}, err
	}
	return scanAutomaticWithdraw(q.db.QueryRow(ctx, getAutomaticWithdraw, withdrawID))
}

func (q *Queries) GetAutomaticWithdraw(ctx context.Context, withdrawID uuid.UUID) (models.AutomaticWithdraw, error) {
	a, err := scanAutomaticWithdraw(q.db.QueryRow(ctx, getAutomaticWithdraw, withdrawID))
	if err != nil {
		return models.AutomaticWithdraw{}, mapNoRows(err, ErrNotFound)
	}
	return a, nil
}

type UpdateAutomaticWithdrawParams struct {
	WithdrawID  uuid.UUID
	Status      int
	ExternalRef string
	BumpRetry   bool
}

const updateAutomaticWithdraw = `
UPDATE automatic_withdraws
SET status = $2,
    external_ref = COALESCE(NULLIF($3, ''), external_ref),
    retry = retry + CASE WHEN $4::bool THEN 1 ELSE 0 END,
    updated_at = NOW()
WHERE withdraw_id = $1
`

func (q *Queries) UpdateAutomaticWithdraw(ctx context.Context, arg UpdateAutomaticWithdrawParams) error {
	_, err := q.db.Exec(ctx, updateAutomaticWithdraw, arg.WithdrawID, int16(arg.Status), arg.ExternalRef, arg.BumpRetry)
	return err
}
