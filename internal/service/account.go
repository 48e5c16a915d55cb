package service

import (
	"context"

	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/ayo6706/custody-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletService serves wallet views and balance reservations to operators.
type WalletService struct {
	repo   *repository.Repository
	ledger *LedgerService
}

func NewWalletService(repo *repository.Repository, ledger *LedgerService) *WalletService {
	return &WalletService{
		repo:   repo,
		ledger: ledger,
	}
}

func (s *WalletService) GetWallet(ctx context.Context, walletID uuid.UUID) (models.Wallet, error) {
	return s.repo.GetWallet(ctx, walletID)
}

func (s *WalletService) GetStatement(ctx context.Context, walletID uuid.UUID, page, pageSize int) ([]models.LedgerTransaction, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize
	return s.repo.Statement(ctx, walletID, pageSize, offset)
}

func (s *WalletService) Block(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, actorID *uuid.UUID) (models.Wallet, error) {
	return s.ledger.BlockBalance(ctx, walletID, amount, actorID)
}

func (s *WalletService) Unblock(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, actorID *uuid.UUID) (models.Wallet, error) {
	return s.ledger.Unblock(ctx, walletID, amount, actorID)
}

// WithdrawWithChildren returns a request and the chunks split from it.
func (s *WalletService) WithdrawWithChildren(ctx context.Context, id uuid.UUID) (models.WithdrawRequest, []models.WithdrawRequest, error) {
	req, err := s.repo.GetWithdrawRequest(ctx, id)
	if err != nil {
		return models.WithdrawRequest{}, nil, err
	}
	children, err := s.repo.SplitChildren(ctx, id)
	if err != nil {
		return models.WithdrawRequest{}, nil, err
	}
	return req, children, nil
}
