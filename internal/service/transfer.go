package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/ayo6706/custody-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferRequest moves funds between two wallets of one currency.
// ReferenceID makes the transfer idempotent.
type TransferRequest struct {
	FromWalletID uuid.UUID
	ToWalletID   uuid.UUID
	Amount       decimal.Decimal
	ReferenceID  uuid.UUID
	Description  string
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	Debit  models.LedgerTransaction
	Credit models.LedgerTransaction
}

// Transfer debits the source and credits the destination in one database
// transaction. A reference already applied returns the recorded legs.
func (s *LedgerService) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if !req.Amount.IsPositive() {
		return TransferResult{}, fmt.Errorf("%w: transfer amount must be positive", domain.ErrInvalidAmount)
	}
	if req.ReferenceID == uuid.Nil {
		return TransferResult{}, fmt.Errorf("%w: reference_id is required", domain.ErrInvalidTransfer)
	}
	if req.FromWalletID == req.ToWalletID {
		return TransferResult{}, fmt.Errorf("%w: cannot transfer to the same wallet", domain.ErrInvalidTransfer)
	}

	var res TransferResult
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		existing, err := qtx.GetLedgerTransactionByRef(ctx, domain.RefTransferSource, req.ReferenceID)
		if err == nil {
			res.Debit = existing
			res.Credit, err = qtx.GetLedgerTransactionByRef(ctx, domain.RefTransferDestination, req.ReferenceID)
			return err
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("check transfer reference: %w", err)
		}

		from, err := qtx.GetWallet(ctx, req.FromWalletID)
		if err != nil {
			return err
		}
		to, err := qtx.GetWallet(ctx, req.ToWalletID)
		if err != nil {
			return err
		}
		if from.Currency != to.Currency {
			return fmt.Errorf("%w: sender is %s, receiver is %s", domain.ErrCurrencyMismatch, from.Currency, to.Currency)
		}

		description := req.Description
		if description == "" {
			description = fmt.Sprintf("Transfer %s", req.ReferenceID)
		}
		// Wallets are updated in id order so concurrent opposite transfers
		// cannot deadlock.
		legs := []CommitRequest{
			{WalletID: from.ID, Amount: req.Amount.Neg(), Kind: domain.KindTransfer, Description: description, RefModule: domain.RefTransferSource, RefID: uuidPtr(req.ReferenceID)},
			{WalletID: to.ID, Amount: req.Amount, Kind: domain.KindTransfer, Description: description, RefModule: domain.RefTransferDestination, RefID: uuidPtr(req.ReferenceID), AllowNegative: true},
		}
		if to.ID.String() < from.ID.String() {
			legs[0], legs[1] = legs[1], legs[0]
		}
		for _, leg := range legs {
			tx, err := s.CommitTx(ctx, qtx, leg)
			if err != nil {
				return err
			}
			if leg.RefModule == domain.RefTransferSource {
				res.Debit = tx
			} else {
				res.Credit = tx
			}
		}
		return nil
	})
	return res, err
}
