package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/ayo6706/custody-ledger/internal/observability"
	"github.com/ayo6706/custody-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerService is the only path that mutates wallet balances.
type LedgerService struct {
	store QueryStore
	audit *AuditService
}

func NewLedgerService(store QueryStore) *LedgerService {
	return &LedgerService{store: store, audit: NewAuditService(store)}
}

// CommitRequest describes one ledger transaction. RefModule and RefID form
// the idempotency key; leave both empty for unreferenced transactions.
type CommitRequest struct {
	WalletID      uuid.UUID
	Amount        decimal.Decimal
	Kind          string
	Description   string
	RefModule     string
	RefID         *uuid.UUID
	AllowNegative bool
}

// Validate checks the amount against the transaction kind.
func (r CommitRequest) Validate() error {
	if r.Amount.IsZero() {
		return fmt.Errorf("%w: zero amount", domain.ErrInvalidAmount)
	}
	switch r.Kind {
	case domain.KindDeposit, domain.KindBuy:
		if r.Amount.IsNegative() {
			return fmt.Errorf("%w: %s must not be negative", domain.ErrInvalidAmount, r.Kind)
		}
	case domain.KindWithdraw, domain.KindSell:
		if r.Amount.IsPositive() {
			return fmt.Errorf("%w: %s must not be positive", domain.ErrInvalidAmount, r.Kind)
		}
	case domain.KindFee, domain.KindManual, domain.KindGateway, domain.KindConvert, domain.KindTransfer, domain.KindRefund:
	default:
		return fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidAmount, r.Kind)
	}
	if (r.RefModule == "") != (r.RefID == nil) {
		return fmt.Errorf("%w: reference module and id must be set together", domain.ErrInvalidAmount)
	}
	return nil
}

// Wallet returns the owner's wallet, creating it on first access.
func (s *LedgerService) Wallet(ctx context.Context, ownerID uuid.UUID, currency domain.CurrencyID, class string) (models.Wallet, error) {
	if class == "" {
		class = domain.WalletClassSpot
	}
	w, err := s.store.Queries().EnsureWallet(ctx, ownerID, string(currency), class)
	if err != nil {
		return models.Wallet{}, fmt.Errorf("ensure wallet: %w", err)
	}
	return w, nil
}

// Commit applies req in its own database transaction.
func (s *LedgerService) Commit(ctx context.Context, req CommitRequest) (models.LedgerTransaction, error) {
	var tx models.LedgerTransaction
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		tx, err = s.CommitTx(ctx, qtx, req)
		return err
	})
	return tx, err
}

// CommitTx applies req inside the caller's transaction. The work runs in a
// savepoint so a failed commit leaves qtx usable.
func (s *LedgerService) CommitTx(ctx context.Context, qtx *repository.Queries, req CommitRequest) (models.LedgerTransaction, error) {
	if err := req.Validate(); err != nil {
		observability.IncrementLedgerCommit(req.Kind, "invalid")
		return models.LedgerTransaction{}, err
	}

	var tx models.LedgerTransaction
	err := qtx.Savepoint(ctx, func(sq *repository.Queries) error {
		wallet, err := sq.GetWallet(ctx, req.WalletID)
		if err != nil {
			return err
		}
		if !wallet.IsActive {
			return domain.ErrWalletInactive
		}

		balance, err := sq.AddWalletBalance(ctx, req.WalletID, req.Amount)
		if err != nil {
			return fmt.Errorf("update wallet balance: %w", err)
		}
		if !req.AllowNegative && balance.IsNegative() {
			return domain.ErrInsufficientBalance
		}

		tx, err = sq.InsertLedgerTransaction(ctx, repository.InsertLedgerTransactionParams{
			WalletID:     req.WalletID,
			Amount:       req.Amount,
			Kind:         req.Kind,
			Description:  req.Description,
			RefModule:    strPtr(req.RefModule),
			RefID:        req.RefID,
			BalanceAfter: balance,
		})
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDuplicateReference):
			observability.IncrementLedgerCommit(req.Kind, "duplicate")
			zap.L().Info("ledger reference already applied",
				zap.String("ref_module", req.RefModule),
				zap.Stringer("ref_id", req.RefID),
				zap.String("wallet_id", req.WalletID.String()))
		case errors.Is(err, domain.ErrInsufficientBalance):
			observability.IncrementLedgerCommit(req.Kind, "insufficient")
		default:
			observability.IncrementLedgerCommit(req.Kind, "error")
		}
		return models.LedgerTransaction{}, err
	}

	observability.IncrementLedgerCommit(req.Kind, "ok")
	return tx, nil
}

// BlockBalance reserves amount of the wallet's balance.
func (s *LedgerService) BlockBalance(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, actorID *uuid.UUID) (models.Wallet, error) {
	if !amount.IsPositive() {
		return models.Wallet{}, fmt.Errorf("%w: block amount must be positive", domain.ErrInvalidAmount)
	}
	return s.adjustBlocked(ctx, walletID, amount, actorID, "block")
}

// Unblock releases amount previously reserved by BlockBalance.
func (s *LedgerService) Unblock(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, actorID *uuid.UUID) (models.Wallet, error) {
	if !amount.IsPositive() {
		return models.Wallet{}, fmt.Errorf("%w: unblock amount must be positive", domain.ErrInvalidAmount)
	}
	return s.adjustBlocked(ctx, walletID, amount.Neg(), actorID, "unblock")
}

func (s *LedgerService) adjustBlocked(ctx context.Context, walletID uuid.UUID, delta decimal.Decimal, actorID *uuid.UUID, action string) (models.Wallet, error) {
	var wallet models.Wallet
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		before, err := qtx.GetWallet(ctx, walletID)
		if err != nil {
			return err
		}
		wallet, err = qtx.AddBlockedBalance(ctx, walletID, delta)
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrInsufficientBalance
		}
		if err != nil {
			return fmt.Errorf("%s balance: %w", action, err)
		}
		return s.audit.Write(ctx, qtx, AuditRecord{
			Entity:   auditWallet,
			EntityID: walletID,
			Actor:    actorID,
			Action:   action,
			From:     before.BlockedBalance.String(),
			To:       wallet.BlockedBalance.String(),
			Metadata: map[string]any{"amount": delta.Abs().String()},
		})
	})
	return wallet, err
}
