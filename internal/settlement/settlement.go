// Package settlement sends fiat and hot-wallet payouts through external
// providers and reports their progress.
package settlement

import (
	"context"
	"fmt"
	"strings"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Method identifies a settlement backend. It is stored on the withdraw request.
type Method string

const (
	PayIR     Method = "payir"
	Vandar    Method = "vandar"
	Jibit     Method = "jibit"
	JibitV2   Method = "jibit_v2"
	Toman     Method = "toman"
	HotWallet Method = "hot_wallet"
	Mock      Method = "mock"
)

var methods = []Method{PayIR, Vandar, Jibit, JibitV2, Toman, HotWallet, Mock}

func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range methods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedSettlementMethod, s)
}

// Fiat reports whether the method pays out to bank accounts.
func (m Method) Fiat() bool {
	switch m {
	case PayIR, Vandar, Jibit, JibitV2, Toman:
		return true
	default:
		return false
	}
}

// State is the provider-side progress of a payout.
type State string

const (
	StatePending State = "pending"
	StateDone    State = "done"
	StateFailed  State = "failed"
	StateUnknown State = "unknown"
)

// Request describes one payout. Amount is the net amount in the
// currency's base unit; providers convert as they need.
type Request struct {
	WithdrawID  uuid.UUID
	Currency    string
	Network     string
	Amount      decimal.Decimal
	Destination string
	Tag         string
	OwnerName   string
	BankName    string
	Description string
}

// Backend is one settlement provider.
type Backend interface {
	Method() Method
	// Settle submits the payout and returns the provider's reference.
	Settle(ctx context.Context, req Request) (string, error)
	// Status reports the provider state of a previously submitted payout.
	Status(ctx context.Context, ref string) (State, error)
}

// Registry selects a backend by method.
type Registry struct {
	backends map[Method]Backend
}

func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[Method]Backend, len(backends))}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

func (r *Registry) Register(b Backend) {
	r.backends[b.Method()] = b
}

func (r *Registry) Get(m Method) (Backend, error) {
	b, ok := r.backends[m]
	if !ok {
		return nil, fmt.Errorf("%w: %s not configured", domain.ErrUnsupportedSettlementMethod, m)
	}
	return b, nil
}

// Methods lists the configured methods.
func (r *Registry) Methods() []Method {
	out := make([]Method, 0, len(r.backends))
	for _, m := range methods {
		if _, ok := r.backends[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

var trackingPrefix = map[Method]string{
	PayIR:   "WP",
	Jibit:   "WJ",
	JibitV2: "WJ",
	Vandar:  "WV",
	Toman:   "WT",
}

// TrackingURL is the in-app link shown to the user for a settled fiat withdrawal.
func TrackingURL(m Method, withdrawID uuid.UUID, ref string) string {
	prefix, ok := trackingPrefix[m]
	if !ok {
		return ""
	}
	id := withdrawID.String()
	if m == PayIR && ref != "" {
		id = ref
	}
	return "custody://app/wallet/rls/transaction/" + prefix + id
}
