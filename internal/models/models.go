package models

import (
	"time"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Wallet struct {
	ID             uuid.UUID       `json:"id"`
	OwnerID        uuid.UUID       `json:"owner_id"`
	Currency       string          `json:"currency"`
	Class          string          `json:"class"`
	Balance        decimal.Decimal `json:"balance"`
	BlockedBalance decimal.Decimal `json:"blocked_balance"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ActiveBalance is the part of the balance not reserved by blocks.
func (w Wallet) ActiveBalance() decimal.Decimal {
	return w.Balance.Sub(w.BlockedBalance)
}

type LedgerTransaction struct {
	ID           uuid.UUID       `json:"id"`
	WalletID     uuid.UUID       `json:"wallet_id"`
	Amount       decimal.Decimal `json:"amount"`
	Kind         string          `json:"kind"`
	Description  string          `json:"description"`
	RefModule    *string         `json:"ref_module,omitempty"`
	RefID        *uuid.UUID      `json:"ref_id,omitempty"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

type DepositAddress struct {
	ID               uuid.UUID       `json:"id"`
	WalletID         uuid.UUID       `json:"wallet_id"`
	Currency         string          `json:"currency"`
	Network          string          `json:"network"`
	Address          string          `json:"address"`
	ContractAddress  *string         `json:"contract_address,omitempty"`
	IsDisabled       bool            `json:"is_disabled"`
	NeedsUpdate      bool            `json:"needs_update"`
	LastDeposit      *time.Time      `json:"last_deposit,omitempty"`
	LastDepositCheck *time.Time      `json:"last_deposit_check,omitempty"`
	TotalReceived    decimal.Decimal `json:"total_received"`
	TotalSent        decimal.Decimal `json:"total_sent"`
	LastUpdate       *time.Time      `json:"last_update,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// SharedAddress is a multi-user address for tag-required currencies.
type SharedAddress struct {
	ID       uuid.UUID `json:"id"`
	Currency string    `json:"currency"`
	Network  string    `json:"network"`
	Address  string    `json:"address"`
}

type DepositTag struct {
	ID       uuid.UUID `json:"id"`
	WalletID uuid.UUID `json:"wallet_id"`
	Currency string    `json:"currency"`
	Tag      int64     `json:"tag"`
}

type ConfirmedDeposit struct {
	ID              uuid.UUID           `json:"id"`
	WalletID        uuid.UUID           `json:"wallet_id"`
	Currency        string              `json:"currency"`
	Network         string              `json:"network"`
	TxHash          string              `json:"tx_hash"`
	AddressID       *uuid.UUID          `json:"address_id,omitempty"`
	TagID           *uuid.UUID          `json:"tag_id,omitempty"`
	Invoice         *string             `json:"invoice,omitempty"`
	ContractAddress *string             `json:"contract_address,omitempty"`
	Amount          decimal.Decimal     `json:"amount"`
	FairValue       decimal.NullDecimal `json:"fair_value"`
	Confirmations   int                 `json:"confirmations"`
	Validated       bool                `json:"validated"`
	Confirmed       bool                `json:"confirmed"`
	Expired         bool                `json:"expired"`
	SourceAddresses []string            `json:"source_addresses"`
	TxDatetime      *time.Time          `json:"tx_datetime,omitempty"`
	TransactionID   *uuid.UUID          `json:"transaction_id,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type BlacklistAddress struct {
	ID          uuid.UUID `json:"id"`
	Address     string    `json:"address"`
	Currency    *string   `json:"currency,omitempty"`
	IsActive    bool      `json:"is_active"`
	IsDeposit   bool      `json:"is_deposit"`
	IsWithdraw  bool      `json:"is_withdraw"`
	Description string    `json:"description"`
}

type BankAccount struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	AccountNumber string    `json:"account_number"`
	ShabaNumber   string    `json:"shaba_number"`
	BankName      string    `json:"bank_name"`
	OwnerName     string    `json:"owner_name"`
	Confirmed     bool      `json:"confirmed"`
	IsSystem      bool      `json:"is_system"`
	IsDeleted     bool      `json:"is_deleted"`
}

type WithdrawRequest struct {
	ID               uuid.UUID             `json:"id"`
	UID              *uuid.UUID            `json:"uid,omitempty"`
	ParentID         *uuid.UUID            `json:"parent_id,omitempty"`
	WalletID         uuid.UUID             `json:"wallet_id"`
	UserID           uuid.UUID             `json:"user_id"`
	Currency         string                `json:"currency"`
	Type             int                   `json:"tp"`
	Status           domain.WithdrawStatus `json:"status"`
	Amount           decimal.Decimal       `json:"amount"`
	Fee              decimal.Decimal       `json:"fee"`
	Network          string                `json:"network"`
	TargetAddress    string                `json:"target_address"`
	Tag              string                `json:"tag"`
	ContractAddress  string                `json:"contract_address"`
	TargetAccountID  *uuid.UUID            `json:"target_account_id,omitempty"`
	TransactionID    *uuid.UUID            `json:"transaction_id,omitempty"`
	OTP              string                `json:"-"`
	SettlementMethod string                `json:"settlement_method"`
	ExternalRef      string                `json:"external_ref"`
	Updates          string                `json:"updates"`
	BlockchainURL    string                `json:"blockchain_url"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// IsInternal reports whether the request settles inside the ledger.
func (w WithdrawRequest) IsInternal() bool {
	return w.Type == domain.WithdrawTypeInternal
}

// IsFiat reports whether the request pays out to a bank account.
func (w WithdrawRequest) IsFiat() bool {
	return domain.CurrencyID(w.Currency) == domain.RLS
}

// NetAmount is what leaves the exchange after the fee.
func (w WithdrawRequest) NetAmount() decimal.Decimal {
	return w.Amount.Sub(w.Fee)
}

type AutomaticWithdraw struct {
	ID          uuid.UUID `json:"id"`
	WithdrawID  uuid.UUID `json:"withdraw_id"`
	Method      string    `json:"method"`
	Status      int       `json:"status"`
	Retry       int       `json:"retry"`
	ExternalRef string    `json:"external_ref"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type AuditEntry struct {
	ID         int64      `json:"id"`
	EntityType string     `json:"entity_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Action     string     `json:"action"`
	PrevState  *string    `json:"prev_state,omitempty"`
	NextState  *string    `json:"next_state,omitempty"`
	Metadata   []byte     `json:"metadata,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
