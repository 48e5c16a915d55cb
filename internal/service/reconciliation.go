package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/events"
	"github.com/ayo6706/custody-ledger/internal/observability"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const reconcilePageSize = 500

// Imbalance is a wallet whose balance disagrees with its transaction log.
type Imbalance struct {
	WalletID    uuid.UUID
	Currency    string
	Balance     decimal.Decimal
	Sum         decimal.Decimal
	LastBalance decimal.NullDecimal
}

// ReconciliationReport summarizes one pass over all wallets.
type ReconciliationReport struct {
	Wallets    int
	Imbalances []Imbalance
}

// ReconciliationService verifies ledger integrity invariants.
type ReconciliationService struct {
	store     QueryStore
	publisher events.Publisher
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore, publisher events.Publisher) *ReconciliationService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &ReconciliationService{store: store, publisher: publisher}
}

// Run checks every wallet: the balance must equal the sum of its
// transactions and the balance_after of the latest one.
func (s *ReconciliationService) Run(ctx context.Context) (ReconciliationReport, error) {
	var report ReconciliationReport
	queries := s.store.Queries()
	after := uuid.Nil
	box := &outbox{}
	defer box.flush(ctx, s.publisher)

	for {
		wallets, err := queries.ListWalletsAfter(ctx, after, reconcilePageSize)
		if err != nil {
			return report, fmt.Errorf("list wallets: %w", err)
		}
		for _, w := range wallets {
			summary, err := queries.WalletLedgerSummary(ctx, w.ID)
			if err != nil {
				return report, fmt.Errorf("summarize wallet %s: %w", w.ID, err)
			}
			report.Wallets++

			balanced := summary.Sum.Equal(summary.WalletAmount)
			if summary.LastBalance.Valid {
				balanced = balanced && summary.LastBalance.Decimal.Equal(summary.WalletAmount)
			} else {
				balanced = balanced && summary.WalletAmount.IsZero()
			}
			if balanced {
				continue
			}

			imb := Imbalance{
				WalletID:    w.ID,
				Currency:    w.Currency,
				Balance:     summary.WalletAmount,
				Sum:         summary.Sum,
				LastBalance: summary.LastBalance,
			}
			report.Imbalances = append(report.Imbalances, imb)
			observability.IncrementLedgerImbalance(w.Currency)
			zap.L().Error("ledger imbalance detected",
				zap.String("wallet_id", w.ID.String()),
				zap.String("currency", w.Currency),
				zap.String("balance", summary.WalletAmount.String()),
				zap.String("transaction_sum", summary.Sum.String()),
				zap.Int64("transactions", summary.Count))
			box.add(domain.StreamOperatorAlerts, domain.EventLedgerImbalance, map[string]any{
				"wallet_id":       w.ID.String(),
				"currency":        w.Currency,
				"balance":         summary.WalletAmount.String(),
				"transaction_sum": summary.Sum.String(),
			})
		}
		if len(wallets) < reconcilePageSize {
			break
		}
		after = wallets[len(wallets)-1].ID
	}

	if len(report.Imbalances) == 0 {
		zap.L().Info("ledger balanced", zap.Int("wallets", report.Wallets))
	}
	return report, nil
}
