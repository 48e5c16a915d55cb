package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository serves read-only views to the ops API without opening a
// transaction.
type Repository struct {
	queries *Queries
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{queries: New(db)}
}

func (r *Repository) GetWallet(ctx context.Context, id uuid.UUID) (models.Wallet, error) {
	w, err := r.queries.GetWallet(ctx, id)
	if err != nil {
		return models.Wallet{}, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// Statement lists a wallet's transactions, newest first.
func (r *Repository) Statement(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]models.LedgerTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	txs, err := r.queries.ListWalletTransactions(ctx, walletID, int32(limit), int32(offset))
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

func (r *Repository) GetWithdrawRequest(ctx context.Context, id uuid.UUID) (models.WithdrawRequest, error) {
	w, err := r.queries.GetWithdrawRequest(ctx, id)
	if err != nil {
		return models.WithdrawRequest{}, fmt.Errorf("failed to get withdraw request: %w", err)
	}
	return w, nil
}

// SplitChildren lists the sibling chunks created when a request was split.
func (r *Repository) SplitChildren(ctx context.Context, parentID uuid.UUID) ([]models.WithdrawRequest, error) {
	ws, err := r.queries.ListSplitChildren(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list split children: %w", err)
	}
	return ws, nil
}
