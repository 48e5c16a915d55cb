package config

import (
	"fmt"
	"strings"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type networkEntry struct {
	Currency         string  `mapstructure:"currency"`
	Network          string  `mapstructure:"network"`
	MinConfirmations *int    `mapstructure:"min_confirmations"`
	DepositEnabled   *bool   `mapstructure:"deposit_enabled"`
	DepositMin       *string `mapstructure:"deposit_min"`
	DepositFee       *string `mapstructure:"deposit_fee"`
}

// LoadNetworkOverrides reads per-network policy overrides from a YAML
// (or any viper-supported) file with a top-level "networks" list.
func LoadNetworkOverrides(path string) ([]domain.NetworkOverride, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read networks file: %w", err)
	}

	var entries []networkEntry
	if err := v.UnmarshalKey("networks", &entries); err != nil {
		return nil, fmt.Errorf("decode networks file: %w", err)
	}

	out := make([]domain.NetworkOverride, 0, len(entries))
	for i, e := range entries {
		currency := domain.ParseCurrency(e.Currency)
		if currency == "" {
			return nil, fmt.Errorf("networks[%d]: currency is required", i)
		}
		if strings.TrimSpace(e.Network) == "" {
			return nil, fmt.Errorf("networks[%d]: network is required", i)
		}
		if e.MinConfirmations != nil && *e.MinConfirmations < 0 {
			return nil, fmt.Errorf("networks[%d]: min_confirmations must not be negative", i)
		}
		o := domain.NetworkOverride{
			Currency:         currency,
			Network:          strings.ToUpper(strings.TrimSpace(e.Network)),
			MinConfirmations: e.MinConfirmations,
			DepositEnabled:   e.DepositEnabled,
		}
		var err error
		if o.DepositMin, err = optionalAmount(e.DepositMin); err != nil {
			return nil, fmt.Errorf("networks[%d].deposit_min: %w", i, err)
		}
		if o.DepositFee, err = optionalAmount(e.DepositFee); err != nil {
			return nil, fmt.Errorf("networks[%d].deposit_fee: %w", i, err)
		}
		out = append(out, o)
	}
	return out, nil
}

func optionalAmount(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(*raw))
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("must not be negative")
	}
	return &d, nil
}
