package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/repository"
	"go.uber.org/zap"
)

const addressRefreshBatch = 100

// RefreshAddressBalances pulls lifetime totals for addresses from the
// explorer. With no addresses it refreshes those flagged needs_update.
// It returns the number of address rows updated.
func (p *DepositPipeline) RefreshAddressBalances(ctx context.Context, currency domain.CurrencyID, network string, addresses []string) (int, error) {
	network, err := p.catalog.ResolveNetwork(currency, network)
	if err != nil {
		return 0, err
	}
	q := p.store.Queries()

	if len(addresses) == 0 {
		due, err := q.ListAddressesNeedingUpdate(ctx, string(currency), network, addressRefreshBatch)
		if err != nil {
			return 0, fmt.Errorf("list addresses needing update: %w", err)
		}
		for _, a := range due {
			addresses = append(addresses, a.Address)
		}
	}
	if len(addresses) == 0 {
		return 0, nil
	}

	balances, err := p.chain.GetWalletsBalance(ctx, addresses, string(currency), network)
	if err != nil {
		return 0, externalErr("get wallets balance", err)
	}

	now := p.now()
	updated := 0
	for _, b := range balances {
		rows, err := q.UpdateAddressBalance(ctx, repository.UpdateAddressBalanceParams{
			Currency: string(currency),
			Network:  network,
			Address:  b.Address,
			Received: b.Received,
			Sent:     b.Sent,
			At:       now,
		})
		if err != nil {
			return updated, fmt.Errorf("update address balance: %w", err)
		}
		if rows == 0 {
			zap.L().Debug("explorer balance for unknown address",
				zap.String("currency", string(currency)),
				zap.String("address", b.Address))
		}
		updated += int(rows)
	}
	return updated, nil
}
