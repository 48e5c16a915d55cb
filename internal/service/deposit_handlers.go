package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/ayo6706/custody-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StandardDepositHandler confirms deposits keyed by (hash, address).
type StandardDepositHandler struct {
	ledger *LedgerService
}

func (h *StandardDepositHandler) Name() string { return "standard" }

func (h *StandardDepositHandler) Apply(ctx context.Context, qtx *repository.Queries, target DepositTarget, obs Observation, box *outbox) (DepositResult, error) {
	addr := target.Address
	if addr == nil {
		return DepositResult{}, errors.New("standard deposit needs an address")
	}
	contract := strPtr(obs.Tx.ContractAddress)
	ts := obs.Tx.Timestamp

	created, err := qtx.CreateConfirmedDeposit(ctx, repository.CreateConfirmedDepositParams{
		WalletID:        addr.WalletID,
		Currency:        string(target.Currency),
		Network:         target.Network,
		TxHash:          obs.Tx.Hash,
		AddressID:       &addr.ID,
		ContractAddress: contract,
		Amount:          obs.Tx.Value,
		FairValue:       obs.FairValue,
		Confirmations:   obs.Tx.Confirmations,
		SourceAddresses: obs.Tx.SourceAddresses,
		TxDatetime:      &ts,
	})
	if err != nil {
		return DepositResult{}, fmt.Errorf("create deposit: %w", err)
	}
	d, err := qtx.GetDepositByAddressForUpdate(ctx, obs.Tx.Hash, addr.ID, contract)
	if err != nil {
		return DepositResult{}, fmt.Errorf("lock deposit: %w", err)
	}

	threshold := target.Policy.MinConfirmations
	if obs.Tx.IsDoubleSpend {
		threshold *= 3
	}
	return h.ledger.settleObservation(ctx, qtx, box, settleInput{
		deposit:     d,
		created:     created,
		obs:         obs,
		threshold:   threshold,
		description: fmt.Sprintf("Deposit - address:%s, tx:%s", addr.Address, obs.Tx.Hash),
		addressID:   &addr.ID,
	})
}

// TaggedDepositHandler confirms deposits to shared addresses, keyed by
// (hash, tag).
type TaggedDepositHandler struct {
	ledger *LedgerService
}

func (h *TaggedDepositHandler) Name() string { return "tagged" }

func (h *TaggedDepositHandler) Apply(ctx context.Context, qtx *repository.Queries, target DepositTarget, obs Observation, box *outbox) (DepositResult, error) {
	if target.Shared == nil {
		return DepositResult{}, errors.New("tagged deposit needs a shared address")
	}
	tag, err := qtx.GetDepositTag(ctx, string(target.Currency), obs.Tx.Tag)
	if errors.Is(err, repository.ErrNotFound) {
		zap.L().Info("deposit to unknown tag",
			zap.String("currency", string(target.Currency)),
			zap.Int64("tag", obs.Tx.Tag),
			zap.String("tx_hash", obs.Tx.Hash))
		return DepositResult{Outcome: OutcomeUnknownOwner}, nil
	}
	if err != nil {
		return DepositResult{}, fmt.Errorf("get deposit tag: %w", err)
	}

	ts := obs.Tx.Timestamp
	created, err := qtx.CreateConfirmedDeposit(ctx, repository.CreateConfirmedDepositParams{
		WalletID:        tag.WalletID,
		Currency:        string(target.Currency),
		Network:         target.Network,
		TxHash:          obs.Tx.Hash,
		TagID:           &tag.ID,
		Amount:          obs.Tx.Value,
		FairValue:       obs.FairValue,
		Confirmations:   obs.Tx.Confirmations,
		SourceAddresses: obs.Tx.SourceAddresses,
		TxDatetime:      &ts,
	})
	if err != nil {
		return DepositResult{}, fmt.Errorf("create deposit: %w", err)
	}
	d, err := qtx.GetDepositByTagForUpdate(ctx, obs.Tx.Hash, tag.ID)
	if err != nil {
		return DepositResult{}, fmt.Errorf("lock deposit: %w", err)
	}

	threshold := target.Policy.MinConfirmations
	if obs.Tx.IsDoubleSpend {
		threshold++
	}
	return h.ledger.settleObservation(ctx, qtx, box, settleInput{
		deposit:     d,
		created:     created,
		obs:         obs,
		threshold:   threshold,
		description: fmt.Sprintf("Deposit - address:%s, tag:%d, tx:%s", target.Shared.Address, tag.Tag, obs.Tx.Hash),
	})
}

// InvoiceDepositHandler confirms lightning payments of registered invoices.
type InvoiceDepositHandler struct {
	ledger *LedgerService
}

func (h *InvoiceDepositHandler) Name() string { return "invoice" }

func (h *InvoiceDepositHandler) Apply(ctx context.Context, qtx *repository.Queries, target DepositTarget, obs Observation, box *outbox) (DepositResult, error) {
	d, err := qtx.GetDepositByInvoiceForUpdate(ctx, obs.Tx.Hash, obs.Tx.Invoice)
	if errors.Is(err, repository.ErrNotFound) {
		zap.L().Info("payment for unknown invoice", zap.String("tx_hash", obs.Tx.Hash))
		return DepositResult{Outcome: OutcomeUnknownOwner}, nil
	}
	if err != nil {
		return DepositResult{}, fmt.Errorf("lock invoice deposit: %w", err)
	}
	if d.Expired {
		return DepositResult{Outcome: OutcomeExpired, Deposit: d}, nil
	}

	threshold := target.Policy.MinConfirmations
	if obs.Tx.IsDoubleSpend {
		threshold++
	}
	return h.ledger.settleObservation(ctx, qtx, box, settleInput{
		deposit:     d,
		obs:         obs,
		threshold:   threshold,
		description: fmt.Sprintf("Deposit - invoice_hash:%s", obs.Tx.Hash),
	})
}

type settleInput struct {
	deposit     models.ConfirmedDeposit
	created     bool
	obs         Observation
	threshold   int
	description string
	// addressID is advanced to the observation time when set.
	addressID *uuid.UUID
}

// settleObservation refreshes a locked deposit from an observation and
// credits it once the confirmation threshold is reached.
func (s *LedgerService) settleObservation(ctx context.Context, qtx *repository.Queries, box *outbox, in settleInput) (DepositResult, error) {
	d := in.deposit
	if in.created {
		if err := qtx.MarkDepositValidated(ctx, d.ID); err != nil {
			return DepositResult{}, fmt.Errorf("mark deposit validated: %w", err)
		}
		d.Validated = true
	}

	if d.Confirmed {
		if err := s.advanceLastDeposit(ctx, qtx, in.addressID, in.obs); err != nil {
			return DepositResult{}, err
		}
		return DepositResult{Outcome: OutcomeAlreadyConfirmed, Deposit: d}, nil
	}

	sources := in.obs.Tx.SourceAddresses
	sourcesChanged := in.created || !slices.Equal(d.SourceAddresses, sources)
	if !in.created {
		update := repository.UpdateDepositObservationParams{
			ID:            d.ID,
			Amount:        in.obs.Tx.Value,
			Confirmations: in.obs.Tx.Confirmations,
			TxDatetime:    &in.obs.Tx.Timestamp,
		}
		if sourcesChanged {
			update.SourceAddresses = append([]string{}, sources...)
		}
		rows, err := qtx.UpdateDepositObservation(ctx, update)
		if err != nil {
			return DepositResult{}, fmt.Errorf("update deposit: %w", err)
		}
		if err := requireExactlyOne(rows, "update deposit observation"); err != nil {
			return DepositResult{}, err
		}
		d.Amount = in.obs.Tx.Value
		d.Confirmations = in.obs.Tx.Confirmations
		d.SourceAddresses = sources
	}

	if sourcesChanged && len(sources) > 0 {
		wallet, err := qtx.GetWallet(ctx, d.WalletID)
		if err != nil {
			return DepositResult{}, err
		}
		if _, err := restrictBlacklisted(ctx, qtx, box, blacklistHit{
			OwnerID:   wallet.OwnerID,
			Currency:  d.Currency,
			Addresses: sources,
			Subject:   auditDeposit,
			SubjectID: d.ID,
		}, true); err != nil {
			return DepositResult{}, err
		}
	}

	if d.Confirmations < in.threshold {
		return DepositResult{Outcome: OutcomePending, Deposit: d}, nil
	}

	tx, err := s.creditDeposit(ctx, qtx, box, d, in.description)
	if err != nil {
		return DepositResult{}, err
	}
	if err := s.advanceLastDeposit(ctx, qtx, in.addressID, in.obs); err != nil {
		return DepositResult{}, err
	}
	d.Confirmed = true
	d.TransactionID = &tx.ID
	return DepositResult{Outcome: OutcomeConfirmed, Deposit: d, Transaction: &tx}, nil
}

// creditDeposit commits the deposit to its wallet and flips confirmed. A
// reference already in the ledger is reused.
func (s *LedgerService) creditDeposit(ctx context.Context, qtx *repository.Queries, box *outbox, d models.ConfirmedDeposit, description string) (models.LedgerTransaction, error) {
	tx, err := s.CommitTx(ctx, qtx, CommitRequest{
		WalletID:      d.WalletID,
		Amount:        d.Amount,
		Kind:          domain.KindDeposit,
		Description:   description,
		RefModule:     domain.RefConfirmedDeposit,
		RefID:         uuidPtr(d.ID),
		AllowNegative: true,
	})
	if errors.Is(err, domain.ErrDuplicateReference) {
		tx, err = qtx.GetLedgerTransactionByRef(ctx, domain.RefConfirmedDeposit, d.ID)
	}
	if err != nil {
		return models.LedgerTransaction{}, fmt.Errorf("credit deposit: %w", err)
	}

	rows, err := qtx.ConfirmDeposit(ctx, d.ID, tx.ID)
	if err != nil {
		return models.LedgerTransaction{}, fmt.Errorf("confirm deposit: %w", err)
	}
	if err := requireExactlyOne(rows, "confirm deposit"); err != nil {
		return models.LedgerTransaction{}, err
	}
	if err := s.audit.Write(ctx, qtx, AuditRecord{Entity: auditDeposit, EntityID: d.ID, Action: "confirm", From: "pending", To: "confirmed"}); err != nil {
		return models.LedgerTransaction{}, err
	}

	box.add(domain.StreamLedgerEvents, domain.EventDepositConfirmed, map[string]any{
		"deposit_id":     d.ID.String(),
		"wallet_id":      d.WalletID.String(),
		"currency":       d.Currency,
		"network":        d.Network,
		"tx_hash":        d.TxHash,
		"amount":         d.Amount.String(),
		"transaction_id": tx.ID.String(),
	})
	zap.L().Info("deposit confirmed",
		zap.String("deposit_id", d.ID.String()),
		zap.String("currency", d.Currency),
		zap.String("amount", d.Amount.String()),
		zap.Int("confirmations", d.Confirmations))
	return tx, nil
}

func (s *LedgerService) advanceLastDeposit(ctx context.Context, qtx *repository.Queries, addressID *uuid.UUID, obs Observation) error {
	if addressID == nil {
		return nil
	}
	if err := qtx.AdvanceLastDeposit(ctx, *addressID, obs.Tx.Timestamp); err != nil {
		return fmt.Errorf("advance last deposit: %w", err)
	}
	return nil
}
