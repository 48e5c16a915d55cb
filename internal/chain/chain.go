// Package chain talks to the blockchain explorer service that indexes
// deposit addresses.
package chain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RawTx is one transaction as reported by the explorer. Timestamp is nil
// when the explorer sent something unparseable.
type RawTx struct {
	Hash            string
	Address         string
	Timestamp       *time.Time
	Value           decimal.Decimal
	Confirmations   int
	FromAddresses   []string
	Tag             string
	Invoice         string
	ContractAddress string
	IsDoubleSpend   bool
	Huge            bool
}

// AddressBalance is the lifetime flow through an address.
type AddressBalance struct {
	Address  string
	Received decimal.Decimal
	Sent     decimal.Decimal
}

// Client queries the explorer. Transactions are grouped by currency: an
// address on a multi-asset network reports every asset it holds.
type Client interface {
	GetWalletTransactions(ctx context.Context, address, currency, network, contract string) (map[string][]RawTx, error)
	GetWalletsBalance(ctx context.Context, addresses []string, currency, network string) ([]AddressBalance, error)
}

// Lightning invoice states reported by the explorer.
const (
	InvoiceOpen    = "OPEN"
	InvoiceSettled = "SETTLED"
)

// InvoiceClient reports the state of a lightning invoice.
type InvoiceClient interface {
	GetInvoiceStatus(ctx context.Context, invoice string) (string, error)
}
