package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyID is the lowercase code of a currency, e.g. "btc" or "rls".
type CurrencyID string

const (
	BTC  CurrencyID = "btc"
	ETH  CurrencyID = "eth"
	USDT CurrencyID = "usdt"
	TRX  CurrencyID = "trx"
	XRP  CurrencyID = "xrp"
	BNB  CurrencyID = "bnb"
	ETC  CurrencyID = "etc"
	XMR  CurrencyID = "xmr"
	TON  CurrencyID = "ton"
	FTM  CurrencyID = "ftm"
	AVAX CurrencyID = "avax"
	POL  CurrencyID = "pol"
	ONE  CurrencyID = "one"
	S    CurrencyID = "s"
	RLS  CurrencyID = "rls"
)

func (c CurrencyID) String() string { return string(c) }

// ParseCurrency normalizes a user supplied currency code.
func ParseCurrency(code string) CurrencyID {
	return CurrencyID(strings.ToLower(strings.TrimSpace(code)))
}

// NetworkPolicy holds the deposit rules of one currency on one network.
type NetworkPolicy struct {
	Name             string
	MinConfirmations int
	DepositEnabled   bool
	DepositMin       decimal.Decimal
	DepositFee       decimal.Decimal
	// ContractFees lists pseudo-network token contracts and the flat fee
	// charged on deposits through them.
	ContractFees map[string]decimal.Decimal
	TagRequired  bool
	InvoiceBased bool
}

// CurrencyPolicy describes a currency and the networks it can move on.
type CurrencyPolicy struct {
	Code           CurrencyID
	Fiat           bool
	EthereumLike   bool
	StripHexPrefix bool
	ExtraRetention time.Duration
	DefaultNetwork string
	Networks       map[string]NetworkPolicy
}

// Retention windows for raw transactions.
const (
	BaseRetention        = 3 * 24 * time.Hour
	DisabledAddressGrace = 7 * 24 * time.Hour
	TaggedRetention      = 5 * 24 * time.Hour
)

// Withdraw request defaults.
const (
	DefaultRequestCodeTTL   = 30 * time.Minute
	DefaultProcessingDelay  = 3 * time.Minute
	VerificationCodeDigits  = 6
	MaxNewRequestsPerWindow = 40
	NewRequestsWindow       = 4 * time.Hour
	MaxVerifiedPerDay       = 10
)

// internalHops lists, per network, the currencies whose deposits may be fee
// float top-ups sent from one of our own deposit addresses.
var internalHops = map[string][]CurrencyID{
	"ETH":   {ETH},
	"BSC":   {BNB},
	"FTM":   {FTM},
	"AVAX":  {AVAX},
	"ETC":   {ETC},
	"MATIC": {POL},
	"ONE":   {ONE},
	"ARB":   {ETH},
	"TRX":   {TRX},
	"BASE":  {ETH},
	"SONIC": {S},
}

// IsInternalHop reports whether deposits of currency on network must be
// filtered for transfers originating from our own deposit addresses.
func IsInternalHop(currency CurrencyID, network string) bool {
	for _, c := range internalHops[strings.ToUpper(network)] {
		if c == currency {
			return true
		}
	}
	return false
}

// evmNetworks use 0x hex addresses, compared case-insensitively.
var evmNetworks = map[string]bool{
	"ETH": true, "BSC": true, "ETC": true, "FTM": true, "AVAX": true, "MATIC": true,
	"ONE": true, "ARB": true, "BASE": true, "SONIC": true,
}

func IsEVMNetwork(network string) bool {
	return evmNetworks[strings.ToUpper(network)]
}

// Catalog is the set of supported currencies and the global deposit toggles.
type Catalog struct {
	currencies        map[CurrencyID]CurrencyPolicy
	DepositMinEnabled bool
	DepositFeeEnabled bool
}

// NewCatalog builds a catalog from the given policies.
func NewCatalog(policies ...CurrencyPolicy) *Catalog {
	c := &Catalog{
		currencies:        make(map[CurrencyID]CurrencyPolicy, len(policies)),
		DepositMinEnabled: true,
		DepositFeeEnabled: true,
	}
	for _, p := range policies {
		c.currencies[p.Code] = p
	}
	return c
}

// Currency returns the policy for id.
func (c *Catalog) Currency(id CurrencyID) (CurrencyPolicy, error) {
	p, ok := c.currencies[id]
	if !ok {
		return CurrencyPolicy{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, id)
	}
	return p, nil
}

// Currencies lists the catalog codes in a stable order.
func (c *Catalog) Currencies() []CurrencyID {
	out := make([]CurrencyID, 0, len(c.currencies))
	for id := range c.currencies {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ResolveNetwork maps an empty network to the currency default.
func (c *Catalog) ResolveNetwork(id CurrencyID, network string) (string, error) {
	p, err := c.Currency(id)
	if err != nil {
		return "", err
	}
	if network == "" {
		return p.DefaultNetwork, nil
	}
	return strings.ToUpper(network), nil
}

// Network returns the policy of currency id on network; an empty network
// selects the default one.
func (c *Catalog) Network(id CurrencyID, network string) (NetworkPolicy, error) {
	p, err := c.Currency(id)
	if err != nil {
		return NetworkPolicy{}, err
	}
	name := network
	if name == "" {
		name = p.DefaultNetwork
	}
	np, ok := p.Networks[strings.ToUpper(name)]
	if !ok {
		return NetworkPolicy{}, fmt.Errorf("%w: %s on %s", ErrUnknownNetwork, id, name)
	}
	return np, nil
}

// NetworkOverride replaces selected fields of a network policy.
type NetworkOverride struct {
	Currency         CurrencyID
	Network          string
	MinConfirmations *int
	DepositEnabled   *bool
	DepositMin       *decimal.Decimal
	DepositFee       *decimal.Decimal
}

// Apply merges overrides into the catalog. Unknown networks are created.
func (c *Catalog) Apply(overrides []NetworkOverride) error {
	for _, o := range overrides {
		p, err := c.Currency(o.Currency)
		if err != nil {
			return err
		}
		name := strings.ToUpper(o.Network)
		np, ok := p.Networks[name]
		if !ok {
			np = NetworkPolicy{Name: name, DepositEnabled: true, MinConfirmations: 1}
		}
		if o.MinConfirmations != nil {
			np.MinConfirmations = *o.MinConfirmations
		}
		if o.DepositEnabled != nil {
			np.DepositEnabled = *o.DepositEnabled
		}
		if o.DepositMin != nil {
			np.DepositMin = *o.DepositMin
		}
		if o.DepositFee != nil {
			np.DepositFee = *o.DepositFee
		}
		networks := make(map[string]NetworkPolicy, len(p.Networks)+1)
		for k, v := range p.Networks {
			networks[k] = v
		}
		networks[name] = np
		p.Networks = networks
		c.currencies[p.Code] = p
	}
	return nil
}

// RetentionCutoff returns the oldest timestamp a raw transaction may carry
// and still be considered for crediting.
func (c *Catalog) RetentionCutoff(now time.Time, id CurrencyID, addressDisabled, tagged bool) time.Time {
	if tagged {
		return now.Add(-TaggedRetention)
	}
	cutoff := now.Add(-BaseRetention)
	if addressDisabled {
		cutoff = cutoff.Add(-DisabledAddressGrace)
	}
	if p, ok := c.currencies[id]; ok {
		cutoff = cutoff.Add(-p.ExtraRetention)
	}
	return cutoff
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func evmNetwork(name string, confirmations int, min string) NetworkPolicy {
	return NetworkPolicy{Name: name, MinConfirmations: confirmations, DepositEnabled: true, DepositMin: dec(min)}
}

// DefaultCatalog returns the built-in currency catalog.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		CurrencyPolicy{
			Code:           BTC,
			DefaultNetwork: "BTC",
			Networks: map[string]NetworkPolicy{
				"BTC":   {Name: "BTC", MinConfirmations: 2, DepositEnabled: true, DepositMin: dec("0.0001")},
				"BTCLN": {Name: "BTCLN", MinConfirmations: 1, DepositEnabled: true, DepositMin: dec("0.00001"), InvoiceBased: true},
				"BSC":   evmNetwork("BSC", 15, "0.0001"),
			},
		},
		CurrencyPolicy{
			Code:           ETH,
			EthereumLike:   true,
			StripHexPrefix: true,
			DefaultNetwork: "ETH",
			Networks: map[string]NetworkPolicy{
				"ETH":  evmNetwork("ETH", 12, "0.002"),
				"ARB":  evmNetwork("ARB", 20, "0.001"),
				"BASE": evmNetwork("BASE", 20, "0.001"),
				"BSC":  evmNetwork("BSC", 15, "0.001"),
			},
		},
		CurrencyPolicy{
			Code:           USDT,
			EthereumLike:   true,
			StripHexPrefix: true,
			DefaultNetwork: "ETH",
			Networks: map[string]NetworkPolicy{
				"ETH": {Name: "ETH", MinConfirmations: 12, DepositEnabled: true, DepositMin: dec("5"), DepositFee: dec("1")},
				"TRX": {Name: "TRX", MinConfirmations: 20, DepositEnabled: true, DepositMin: dec("1")},
				"BSC": {Name: "BSC", MinConfirmations: 15, DepositEnabled: true, DepositMin: dec("1")},
				"TON": {
					Name: "TON", MinConfirmations: 1, DepositEnabled: true, DepositMin: dec("1"),
					ContractFees: map[string]decimal.Decimal{
						"EQCxE6mUtQJKFnGfaROTKOt1lZbDiiX1kCixRv7Nw2Id_sDs": dec("0.1"),
					},
				},
			},
		},
		CurrencyPolicy{
			Code:           TRX,
			DefaultNetwork: "TRX",
			Networks: map[string]NetworkPolicy{
				"TRX": {Name: "TRX", MinConfirmations: 20, DepositEnabled: true, DepositMin: dec("1")},
			},
		},
		CurrencyPolicy{
			Code:           XRP,
			DefaultNetwork: "XRP",
			Networks: map[string]NetworkPolicy{
				"XRP": {Name: "XRP", MinConfirmations: 1, DepositEnabled: true, DepositMin: dec("0.1"), TagRequired: true},
			},
		},
		CurrencyPolicy{
			Code:           BNB,
			EthereumLike:   true,
			DefaultNetwork: "BSC",
			Networks: map[string]NetworkPolicy{
				"BSC": evmNetwork("BSC", 15, "0.001"),
			},
		},
		CurrencyPolicy{
			Code:           ETC,
			EthereumLike:   true,
			StripHexPrefix: true,
			ExtraRetention: 11 * 24 * time.Hour,
			DefaultNetwork: "ETC",
			Networks: map[string]NetworkPolicy{
				"ETC": evmNetwork("ETC", 300, "0.01"),
			},
		},
		CurrencyPolicy{
			Code:           XMR,
			ExtraRetention: 60 * 24 * time.Hour,
			DefaultNetwork: "XMR",
			Networks: map[string]NetworkPolicy{
				"XMR": {Name: "XMR", MinConfirmations: 10, DepositEnabled: true, DepositMin: dec("0.001")},
			},
		},
		CurrencyPolicy{
			Code:           TON,
			DefaultNetwork: "TON",
			Networks: map[string]NetworkPolicy{
				"TON": {Name: "TON", MinConfirmations: 1, DepositEnabled: true, DepositMin: dec("0.1"), TagRequired: true},
			},
		},
		CurrencyPolicy{
			Code: FTM, EthereumLike: true, DefaultNetwork: "FTM",
			Networks: map[string]NetworkPolicy{"FTM": evmNetwork("FTM", 5, "0.1")},
		},
		CurrencyPolicy{
			Code: AVAX, EthereumLike: true, DefaultNetwork: "AVAX",
			Networks: map[string]NetworkPolicy{"AVAX": evmNetwork("AVAX", 12, "0.01")},
		},
		CurrencyPolicy{
			Code: POL, EthereumLike: true, DefaultNetwork: "MATIC",
			Networks: map[string]NetworkPolicy{"MATIC": evmNetwork("MATIC", 128, "0.1")},
		},
		CurrencyPolicy{
			Code: ONE, EthereumLike: true, DefaultNetwork: "ONE",
			Networks: map[string]NetworkPolicy{"ONE": evmNetwork("ONE", 5, "1")},
		},
		CurrencyPolicy{
			Code: S, EthereumLike: true, DefaultNetwork: "SONIC",
			Networks: map[string]NetworkPolicy{"SONIC": evmNetwork("SONIC", 5, "0.1")},
		},
		CurrencyPolicy{
			Code: RLS, Fiat: true,
		},
	)
}
