package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/ayo6706/custody-ledger/internal/observability"
	"github.com/ayo6706/custody-ledger/internal/repository"
	"github.com/ayo6706/custody-ledger/internal/settlement"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// sendPlan is an external payout prepared under lock and executed after
// the lock is released.
type sendPlan struct {
	withdrawID uuid.UUID
	backend    settlement.Backend
	request    settlement.Request
}

// DispatchResult reports what one dispatch step did.
type DispatchResult struct {
	Request models.WithdrawRequest
	// Sent is set when a provider accepted the payout in this call.
	Sent bool
	// Internal is set when the request settled inside the ledger.
	Internal bool
}

// Dispatch advances a pending request one step towards settlement:
// verified and waiting requests are accepted, internal destinations settle
// at once, accepted requests enter processing and processing requests past
// the cancellation delay are sent to their provider.
func (s *WithdrawService) Dispatch(ctx context.Context, id uuid.UUID) (DispatchResult, error) {
	var (
		res     DispatchResult
		plan    *sendPlan
		outside bool
	)
	err := s.inTx(ctx, func(qtx *repository.Queries, box *outbox) error {
		req, err := qtx.GetWithdrawRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		res.Request = req
		if req.Status.Committed() {
			return nil
		}
		if !req.Status.Pending() {
			return fmt.Errorf("%w: request is %s", domain.ErrNotDispatchable, req.Status)
		}
		if req.Status.Acceptable() {
			if err := s.accept(ctx, qtx, box, &req, nil); err != nil {
				return err
			}
		}

		target, err := s.resolver.Resolve(ctx, qtx, req)
		if err != nil {
			return err
		}
		if target != nil {
			if err := s.settleInternal(ctx, qtx, box, &req, target); err != nil {
				return err
			}
			res.Request, res.Internal = req, true
			return nil
		}
		if req.IsInternal() {
			return fmt.Errorf("%w: internal destination of %s not found", domain.ErrInvalidDestination, req.ID)
		}

		now := s.now()
		if !s.window.CanAutomaticallySend(req, now) {
			res.Request, outside = req, true
			return nil
		}
		if req.Status.Accepted() {
			if err := s.applyTransition(ctx, qtx, box, &req, domain.WithdrawProcessing, nil); err != nil {
				return err
			}
			req.UpdatedAt = now
		}
		res.Request = req
		if req.Status != domain.WithdrawProcessing || now.Sub(req.UpdatedAt) < s.processingDelay {
			return nil
		}

		plan, err = s.prepareSend(ctx, qtx, req, settlement.Method(s.methodFor(req)))
		return err
	})
	if err != nil {
		return res, err
	}
	if outside {
		return res, domain.ErrOutsideDispatchWindow
	}
	if plan == nil {
		return res, nil
	}

	req, err := s.send(ctx, plan)
	res.Request = req
	res.Sent = err == nil
	return res, err
}

// Settle sends an accepted fiat request through method on an operator's
// request.
func (s *WithdrawService) Settle(ctx context.Context, id uuid.UUID, method settlement.Method, actorID *uuid.UUID) (models.WithdrawRequest, error) {
	var plan *sendPlan
	err := s.inTx(ctx, func(qtx *repository.Queries, box *outbox) error {
		req, err := qtx.GetWithdrawRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.IsInternal() {
			return domain.ErrInternalTransfer
		}
		if req.Status.Committed() || req.Updates != "" {
			return domain.ErrAlreadySettled
		}
		if !req.Status.Accepted() && req.Status != domain.WithdrawProcessing {
			return fmt.Errorf("%w: request is %s", domain.ErrNotDispatchable, req.Status)
		}
		if method != settlement.Mock && method.Fiat() != req.IsFiat() {
			return fmt.Errorf("%w: %s cannot pay %s", domain.ErrUnsupportedSettlementMethod, method, req.Currency)
		}
		if err := s.audit.Write(ctx, qtx, AuditRecord{Entity: auditWithdraw, EntityID: req.ID, Actor: actorID, Action: "manual_settle", From: req.Status.String(), To: string(method)}); err != nil {
			return err
		}
		plan, err = s.prepareSend(ctx, qtx, req, method)
		return err
	})
	if err != nil {
		return models.WithdrawRequest{}, err
	}
	return s.send(ctx, plan)
}

// prepareSend claims the automatic withdraw companion and builds the
// provider request. A companion already sending yields ErrNotDispatchable.
func (s *WithdrawService) prepareSend(ctx context.Context, qtx *repository.Queries, req models.WithdrawRequest, method settlement.Method) (*sendPlan, error) {
	backend, err := s.settlement.Get(method)
	if err != nil {
		return nil, err
	}
	auto, err := qtx.EnsureAutomaticWithdraw(ctx, req.ID, string(method))
	if err != nil {
		return nil, fmt.Errorf("ensure automatic withdraw: %w", err)
	}
	if !domain.AutoWithdrawRetryable(auto.Status) {
		return nil, fmt.Errorf("%w: settlement attempt already in state %d", domain.ErrNotDispatchable, auto.Status)
	}
	if err := qtx.UpdateAutomaticWithdraw(ctx, repository.UpdateAutomaticWithdrawParams{
		WithdrawID: req.ID,
		Status:     domain.AutoWithdrawSending,
	}); err != nil {
		return nil, fmt.Errorf("claim automatic withdraw: %w", err)
	}
	if err := qtx.SetWithdrawSettlement(ctx, repository.SetWithdrawSettlementParams{
		ID:               req.ID,
		SettlementMethod: string(method),
		Updates:          fmt.Sprintf("sending via %s", method),
	}); err != nil {
		return nil, fmt.Errorf("record settlement method: %w", err)
	}

	out := settlement.Request{
		WithdrawID:  req.ID,
		Currency:    req.Currency,
		Network:     req.Network,
		Amount:      req.NetAmount(),
		Destination: req.TargetAddress,
		Tag:         req.Tag,
		Description: fmt.Sprintf("withdraw %s", req.ID),
	}
	if req.IsFiat() {
		if req.TargetAccountID == nil {
			return nil, fmt.Errorf("%w: bank account is required", domain.ErrInvalidDestination)
		}
		account, err := qtx.GetBankAccount(ctx, *req.TargetAccountID)
		if err != nil {
			return nil, fmt.Errorf("get bank account: %w", err)
		}
		out.Destination = account.ShabaNumber
		out.OwnerName = account.OwnerName
		out.BankName = account.BankName
	}
	return &sendPlan{withdrawID: req.ID, backend: backend, request: out}, nil
}

// send calls the provider without holding any lock, then records the
// outcome.
func (s *WithdrawService) send(ctx context.Context, plan *sendPlan) (models.WithdrawRequest, error) {
	method := plan.backend.Method()
	ref, callErr := plan.backend.Settle(ctx, plan.request)
	result := "ok"
	if callErr != nil {
		result = "error"
	}
	observability.IncrementSettlementCall(string(method), result)

	var req models.WithdrawRequest
	err := s.inTx(ctx, func(qtx *repository.Queries, box *outbox) error {
		var err error
		req, err = qtx.GetWithdrawRequestForUpdate(ctx, plan.withdrawID)
		if err != nil {
			return err
		}
		if callErr != nil {
			return s.recordSendFailure(ctx, qtx, box, req, method, callErr)
		}
		return s.recordSent(ctx, qtx, box, &req, method, ref)
	})
	if err != nil {
		return req, err
	}
	if callErr != nil {
		return req, externalErr("settle "+string(method), callErr)
	}
	return req, nil
}

func (s *WithdrawService) recordSendFailure(ctx context.Context, qtx *repository.Queries, box *outbox, req models.WithdrawRequest, method settlement.Method, callErr error) error {
	if err := qtx.UpdateAutomaticWithdraw(ctx, repository.UpdateAutomaticWithdrawParams{
		WithdrawID: req.ID,
		Status:     domain.AutoWithdrawWaiting,
		BumpRetry:  true,
	}); err != nil {
		return fmt.Errorf("update automatic withdraw: %w", err)
	}
	if err := qtx.SetWithdrawSettlement(ctx, repository.SetWithdrawSettlementParams{
		ID:      req.ID,
		Updates: fmt.Sprintf("%s failed: %v", method, callErr),
	}); err != nil {
		return fmt.Errorf("record settlement failure: %w", err)
	}
	box.add(domain.StreamOperatorAlerts, domain.EventSettlementFailed, map[string]any{
		"withdraw_id": req.ID.String(),
		"method":      string(method),
		"error":       callErr.Error(),
	})
	zap.L().Warn("settlement call failed",
		zap.String("withdraw_id", req.ID.String()),
		zap.String("method", string(method)),
		zap.Error(callErr))
	return nil
}

// recordSent stores the provider reference and moves req to sent. A request
// that left the pending states while the call was in flight is paid but
// cannot be finalized, which operators must resolve.
func (s *WithdrawService) recordSent(ctx context.Context, qtx *repository.Queries, box *outbox, req *models.WithdrawRequest, method settlement.Method, ref string) error {
	update := repository.SetWithdrawSettlementParams{
		ID:               req.ID,
		SettlementMethod: string(method),
		ExternalRef:      ref,
		Updates:          fmt.Sprintf("sent via %s ref %s", method, ref),
	}
	if req.IsFiat() {
		update.BlockchainURL = settlement.TrackingURL(method, req.ID, ref)
	}
	if err := qtx.SetWithdrawSettlement(ctx, update); err != nil {
		return fmt.Errorf("record settlement: %w", err)
	}
	if err := qtx.UpdateAutomaticWithdraw(ctx, repository.UpdateAutomaticWithdrawParams{
		WithdrawID:  req.ID,
		Status:      domain.AutoWithdrawDone,
		ExternalRef: ref,
	}); err != nil {
		return fmt.Errorf("update automatic withdraw: %w", err)
	}
	req.SettlementMethod, req.ExternalRef = string(method), ref
	if update.BlockchainURL != "" {
		req.BlockchainURL = update.BlockchainURL
	}

	if !req.Status.Pending() {
		box.add(domain.StreamOperatorAlerts, domain.EventSettlementAfterPayment, map[string]any{
			"withdraw_id": req.ID.String(),
			"method":      string(method),
			"ref":         ref,
			"status":      req.Status.String(),
		})
		zap.L().Error("payout sent for request no longer pending",
			zap.String("withdraw_id", req.ID.String()),
			zap.String("status", req.Status.String()),
			zap.String("ref", ref))
		return nil
	}
	return s.applyTransition(ctx, qtx, box, req, domain.WithdrawSent, nil)
}

// settleInternal completes req by crediting the resolved wallet. It runs in
// the caller's transaction so debit, credit and status change commit
// together.
func (s *WithdrawService) settleInternal(ctx context.Context, qtx *repository.Queries, box *outbox, req *models.WithdrawRequest, target *InternalTarget) error {
	if !req.Status.Accepted() {
		return fmt.Errorf("%w: only accepted requests settle internally", domain.ErrNotDispatchable)
	}
	if req.Type != domain.WithdrawTypeInternal {
		if err := qtx.SetWithdrawType(ctx, req.ID, domain.WithdrawTypeInternal); err != nil {
			return fmt.Errorf("set withdraw type: %w", err)
		}
		req.Type = domain.WithdrawTypeInternal
	}
	if err := s.applyTransition(ctx, qtx, box, req, domain.WithdrawSent, nil); err != nil {
		return err
	}
	if err := s.applyTransition(ctx, qtx, box, req, domain.WithdrawDone, nil); err != nil {
		return err
	}
	if req.TransactionID == nil {
		return fmt.Errorf("withdraw %s has no debit transaction", req.ID)
	}

	kind := domain.KindDeposit
	if req.IsFiat() {
		kind = domain.KindManual
	}
	description := fmt.Sprintf("Internal transfer from uid#%s", req.UserID)
	switch {
	case s.giftUserID != uuid.Nil && target.Wallet.OwnerID == s.giftUserID:
		description = fmt.Sprintf("Gift card issued for user #%s", req.UserID)
	case s.giftUserID != uuid.Nil && req.UserID == s.giftUserID:
		description = "Gift card received"
	}
	credit, err := s.ledger.CommitTx(ctx, qtx, CommitRequest{
		WalletID:      target.Wallet.ID,
		Amount:        req.Amount,
		Kind:          kind,
		Description:   description,
		RefModule:     domain.RefInternalTransferDeposit,
		RefID:         uuidPtr(req.ID),
		AllowNegative: true,
	})
	if errors.Is(err, domain.ErrDuplicateReference) {
		credit, err = qtx.GetLedgerTransactionByRef(ctx, domain.RefInternalTransferDeposit, req.ID)
	}
	if err != nil {
		return fmt.Errorf("credit internal target: %w", err)
	}

	if !req.IsFiat() {
		if err := s.recordInternalDeposit(ctx, qtx, *req, target, credit); err != nil {
			return err
		}
	}

	if err := qtx.SetWithdrawSettlement(ctx, repository.SetWithdrawSettlementParams{
		ID:            req.ID,
		Updates:       fmt.Sprintf("internal transfer to wallet %s", target.Wallet.ID),
		BlockchainURL: fmt.Sprintf("custody://app/receipt/%s/%s", req.Currency, req.ID),
	}); err != nil {
		return fmt.Errorf("record internal settlement: %w", err)
	}
	if err := s.finishCompanion(ctx, qtx, req.ID, domain.AutoWithdrawDone); err != nil {
		return err
	}
	zap.L().Info("withdraw settled internally",
		zap.String("withdraw_id", req.ID.String()),
		zap.String("target_wallet_id", target.Wallet.ID.String()),
		zap.String("amount", req.Amount.String()))
	return nil
}

// recordInternalDeposit mirrors an internal coin transfer as a confirmed
// deposit of the receiving wallet.
func (s *WithdrawService) recordInternalDeposit(ctx context.Context, qtx *repository.Queries, req models.WithdrawRequest, target *InternalTarget, credit models.LedgerTransaction) error {
	hash := "internal-W" + req.ID.String()
	now := s.now()
	params := repository.CreateConfirmedDepositParams{
		WalletID:        target.Wallet.ID,
		Currency:        req.Currency,
		Network:         req.Network,
		TxHash:          hash,
		ContractAddress: strPtr(req.ContractAddress),
		Amount:          req.Amount,
		Confirmations:   1000,
		TxDatetime:      &now,
	}
	if target.Address != nil {
		params.AddressID = &target.Address.ID
	}
	if target.Tag != nil {
		params.TagID = &target.Tag.ID
	}
	if _, err := qtx.CreateConfirmedDeposit(ctx, params); err != nil {
		return fmt.Errorf("create internal deposit: %w", err)
	}

	var (
		d   models.ConfirmedDeposit
		err error
	)
	switch {
	case target.Address != nil:
		d, err = qtx.GetDepositByAddressForUpdate(ctx, hash, target.Address.ID, params.ContractAddress)
	case target.Tag != nil:
		d, err = qtx.GetDepositByTagForUpdate(ctx, hash, target.Tag.ID)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock internal deposit: %w", err)
	}
	if _, err := qtx.ConfirmDeposit(ctx, d.ID, credit.ID); err != nil {
		return fmt.Errorf("confirm internal deposit: %w", err)
	}
	return nil
}

// RefreshSettlementStatus asks the provider about a sent request and marks
// it done once the payout completed.
func (s *WithdrawService) RefreshSettlementStatus(ctx context.Context, id uuid.UUID) (models.WithdrawRequest, error) {
	req, err := s.store.Queries().GetWithdrawRequest(ctx, id)
	if err != nil {
		return models.WithdrawRequest{}, err
	}
	if req.Status != domain.WithdrawSent || req.ExternalRef == "" {
		return req, nil
	}
	method, err := settlement.ParseMethod(req.SettlementMethod)
	if err != nil {
		return req, err
	}
	backend, err := s.settlement.Get(method)
	if err != nil {
		return req, err
	}
	state, err := backend.Status(ctx, req.ExternalRef)
	if err != nil {
		observability.IncrementSettlementCall(string(method), "status_error")
		return req, externalErr("settlement status "+string(method), err)
	}
	observability.IncrementSettlementCall(string(method), "status_"+string(state))
	return s.applyProviderState(ctx, id, method, state, "")
}

// applyProviderState folds a provider state into the request. Done moves
// manual_accepted and sent requests forward; failed raises an alert.
func (s *WithdrawService) applyProviderState(ctx context.Context, id uuid.UUID, method settlement.Method, state settlement.State, trackingURL string) (models.WithdrawRequest, error) {
	var req models.WithdrawRequest
	err := s.inTx(ctx, func(qtx *repository.Queries, box *outbox) error {
		var err error
		req, err = qtx.GetWithdrawRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		return s.foldProviderState(ctx, qtx, box, &req, method, state, trackingURL)
	})
	return req, err
}

func (s *WithdrawService) foldProviderState(ctx context.Context, qtx *repository.Queries, box *outbox, req *models.WithdrawRequest, method settlement.Method, state settlement.State, trackingURL string) error {
	if trackingURL != "" || state != settlement.StatePending {
		if err := qtx.SetWithdrawSettlement(ctx, repository.SetWithdrawSettlementParams{
			ID:            req.ID,
			Updates:       fmt.Sprintf("%s reported %s", method, state),
			BlockchainURL: trackingURL,
		}); err != nil {
			return fmt.Errorf("record provider state: %w", err)
		}
		if trackingURL != "" {
			req.BlockchainURL = trackingURL
		}
	}

	switch state {
	case settlement.StateDone:
		if req.Status == domain.WithdrawManualAccepted {
			if err := s.applyTransition(ctx, qtx, box, req, domain.WithdrawSent, nil); err != nil {
				return err
			}
		}
		if req.Status == domain.WithdrawSent {
			return s.applyTransition(ctx, qtx, box, req, domain.WithdrawDone, nil)
		}
	case settlement.StateFailed:
		if req.Status.Committed() {
			box.add(domain.StreamOperatorAlerts, domain.EventSettlementFailed, map[string]any{
				"withdraw_id": req.ID.String(),
				"method":      string(method),
				"status":      req.Status.String(),
			})
			zap.L().Error("provider reported failure for sent withdraw",
				zap.String("withdraw_id", req.ID.String()),
				zap.String("method", string(method)))
		}
	}
	return nil
}

// ProcessBatch dispatches up to limit pending requests, closest to
// settlement first. Requests outside the dispatch window are skipped.
func (s *WithdrawService) ProcessBatch(ctx context.Context, limit int32) (int, error) {
	var ids []uuid.UUID
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		ids = ids[:0]
		claimed, err := qtx.ClaimDispatchable(ctx, domain.DispatchPriority, limit, s.now().Add(-time.Second))
		if err != nil {
			return fmt.Errorf("claim dispatchable: %w", err)
		}
		for _, r := range claimed {
			ids = append(ids, r.ID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	advanced := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return advanced, err
		}
		res, err := s.Dispatch(ctx, id)
		switch {
		case err == nil:
			if res.Sent || res.Internal {
				advanced++
			}
		case errors.Is(err, domain.ErrOutsideDispatchWindow), errors.Is(err, domain.ErrNotDispatchable):
			zap.L().Debug("withdraw not dispatched",
				zap.String("withdraw_id", id.String()),
				zap.Error(err))
		default:
			zap.L().Warn("withdraw dispatch failed",
				zap.String("withdraw_id", id.String()),
				zap.Error(err))
		}
	}
	return advanced, nil
}
