package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/events"
	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/ayo6706/custody-ledger/internal/observability"
	"github.com/ayo6706/custody-ledger/internal/repository"
	"github.com/ayo6706/custody-ledger/internal/settlement"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WithdrawDeps wires a WithdrawService.
type WithdrawDeps struct {
	Store      QueryStore
	Ledger     *LedgerService
	Catalog    *domain.Catalog
	Settlement *settlement.Registry
	Resolver   *InternalResolver
	Publisher  events.Publisher

	Window        DispatchWindow
	Split         SplitPolicy
	VandarSplit   SplitPolicy
	DefaultMethod settlement.Method

	ProcessingDelay   time.Duration
	CodeTTL           time.Duration
	MaxNewRequests    int
	NewRequestsWindow time.Duration
	MaxVerifiedPerDay int
	GiftUserID        uuid.UUID
}

// WithdrawService drives withdraw requests from creation to settlement.
type WithdrawService struct {
	store      QueryStore
	ledger     *LedgerService
	audit      *AuditService
	catalog    *domain.Catalog
	settlement *settlement.Registry
	resolver   *InternalResolver
	publisher  events.Publisher

	window        DispatchWindow
	split         SplitPolicy
	vandarSplit   SplitPolicy
	defaultMethod settlement.Method

	processingDelay   time.Duration
	codeTTL           time.Duration
	maxNewRequests    int
	newRequestsWindow time.Duration
	maxVerifiedPerDay int
	giftUserID        uuid.UUID

	now func() time.Time
}

func NewWithdrawService(deps WithdrawDeps) *WithdrawService {
	s := &WithdrawService{
		store:             deps.Store,
		ledger:            deps.Ledger,
		audit:             NewAuditService(deps.Store),
		catalog:           deps.Catalog,
		settlement:        deps.Settlement,
		resolver:          deps.Resolver,
		publisher:         deps.Publisher,
		window:            deps.Window,
		split:             deps.Split,
		vandarSplit:       deps.VandarSplit,
		defaultMethod:     deps.DefaultMethod,
		processingDelay:   deps.ProcessingDelay,
		codeTTL:           deps.CodeTTL,
		maxNewRequests:    deps.MaxNewRequests,
		newRequestsWindow: deps.NewRequestsWindow,
		maxVerifiedPerDay: deps.MaxVerifiedPerDay,
		giftUserID:        deps.GiftUserID,
		now:               time.Now,
	}
	if s.ledger == nil {
		s.ledger = NewLedgerService(deps.Store)
	}
	if s.catalog == nil {
		s.catalog = domain.DefaultCatalog()
	}
	if s.resolver == nil {
		s.resolver = NewInternalResolver(s.catalog, deps.GiftUserID)
	}
	if s.settlement == nil {
		s.settlement = settlement.NewRegistry()
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.defaultMethod == "" {
		s.defaultMethod = settlement.Jibit
	}
	if s.codeTTL <= 0 {
		s.codeTTL = domain.DefaultRequestCodeTTL
	}
	if s.maxNewRequests <= 0 {
		s.maxNewRequests = domain.MaxNewRequestsPerWindow
	}
	if s.newRequestsWindow <= 0 {
		s.newRequestsWindow = domain.NewRequestsWindow
	}
	if s.maxVerifiedPerDay <= 0 {
		s.maxVerifiedPerDay = domain.MaxVerifiedPerDay
	}
	if !s.split.MaxAmount.IsPositive() {
		s.split = DefaultSplitPolicy()
	}
	if !s.vandarSplit.MaxAmount.IsPositive() {
		s.vandarSplit = DefaultVandarSplitPolicy()
	}
	if s.window.Location == nil {
		s.window = DefaultDispatchWindow()
	}
	return s
}

// CreateWithdrawRequest is the input of Create.
type CreateWithdrawRequest struct {
	UID              *uuid.UUID
	WalletID         uuid.UUID
	Amount           decimal.Decimal
	Network          string
	TargetAddress    string
	Tag              string
	ContractAddress  string
	TargetAccountID  *uuid.UUID
	SettlementMethod string
	Internal         bool
}

// Create stores a new request awaiting verification. A request with a uid
// that already exists is returned as is.
func (s *WithdrawService) Create(ctx context.Context, in CreateWithdrawRequest) (models.WithdrawRequest, error) {
	if !in.Amount.IsPositive() {
		return models.WithdrawRequest{}, fmt.Errorf("%w: withdraw amount must be positive", domain.ErrInvalidAmount)
	}
	q := s.store.Queries()
	if in.UID != nil {
		existing, err := q.GetWithdrawRequestByUID(ctx, *in.UID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domain.ErrWithdrawNotFound) {
			return models.WithdrawRequest{}, err
		}
	}

	wallet, err := q.GetWallet(ctx, in.WalletID)
	if err != nil {
		return models.WithdrawRequest{}, err
	}
	currency := domain.CurrencyID(wallet.Currency)
	policy, err := s.catalog.Currency(currency)
	if err != nil {
		return models.WithdrawRequest{}, err
	}

	params := repository.CreateWithdrawRequestParams{
		UID:             in.UID,
		WalletID:        wallet.ID,
		UserID:          wallet.OwnerID,
		Currency:        wallet.Currency,
		Type:            domain.WithdrawTypeNormal,
		Status:          domain.WithdrawNew,
		Amount:          in.Amount,
		TargetAddress:   in.TargetAddress,
		Tag:             in.Tag,
		ContractAddress: in.ContractAddress,
		TargetAccountID: in.TargetAccountID,
	}
	if in.Internal {
		params.Type = domain.WithdrawTypeInternal
	}
	if policy.Fiat {
		if in.TargetAccountID == nil {
			return models.WithdrawRequest{}, fmt.Errorf("%w: bank account is required", domain.ErrInvalidDestination)
		}
		method := s.defaultMethod
		if in.SettlementMethod != "" {
			if method, err = settlement.ParseMethod(in.SettlementMethod); err != nil {
				return models.WithdrawRequest{}, err
			}
		}
		params.SettlementMethod = string(method)
	} else {
		network, err := s.catalog.ResolveNetwork(currency, in.Network)
		if err != nil {
			return models.WithdrawRequest{}, err
		}
		np, err := s.catalog.Network(currency, network)
		if err != nil {
			return models.WithdrawRequest{}, err
		}
		if !validDestination(network, in.TargetAddress) {
			return models.WithdrawRequest{}, fmt.Errorf("%w: %q on %s", domain.ErrInvalidDestination, in.TargetAddress, network)
		}
		if np.TagRequired && in.Tag == "" {
			return models.WithdrawRequest{}, fmt.Errorf("%w: tag is required on %s", domain.ErrInvalidDestination, network)
		}
		params.Network = network
		params.SettlementMethod = string(settlement.HotWallet)
	}

	if err := s.checkUserLimits(ctx, q, wallet.OwnerID); err != nil {
		return models.WithdrawRequest{}, err
	}
	code, err := verificationCode()
	if err != nil {
		return models.WithdrawRequest{}, err
	}
	params.OTP = code

	var created models.WithdrawRequest
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		created, err = qtx.CreateWithdrawRequest(ctx, params)
		if errors.Is(err, repository.ErrNotFound) && in.UID != nil {
			created, err = qtx.GetWithdrawRequestByUID(ctx, *in.UID)
			return err
		}
		if err != nil {
			return fmt.Errorf("create withdraw request: %w", err)
		}
		return s.audit.Write(ctx, qtx, AuditRecord{Entity: auditWithdraw, EntityID: created.ID, Action: "create", To: created.Status.String()})
	})
	if err != nil {
		return models.WithdrawRequest{}, err
	}

	zap.L().Info("withdraw request created",
		zap.String("withdraw_id", created.ID.String()),
		zap.String("currency", created.Currency),
		zap.String("amount", created.Amount.String()))
	return created, nil
}

func (s *WithdrawService) checkUserLimits(ctx context.Context, q *repository.Queries, userID uuid.UUID) error {
	now := s.now()
	recent, err := q.CountUserRequests(ctx, userID, domain.WithdrawNew, now.Add(-s.newRequestsWindow))
	if err != nil {
		return fmt.Errorf("count new requests: %w", err)
	}
	if recent >= int64(s.maxNewRequests) {
		return fmt.Errorf("%w: %d unverified requests", domain.ErrRequestLimitExceeded, recent)
	}
	verified, err := q.CountUserRequests(ctx, userID, domain.WithdrawVerified, now.Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("count verified requests: %w", err)
	}
	if verified >= int64(s.maxVerifiedPerDay) {
		return fmt.Errorf("%w: %d verified requests today", domain.ErrRequestLimitExceeded, verified)
	}
	return nil
}

func verificationCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%0*d", domain.VerificationCodeDigits, n.Int64()), nil
}

// Get loads one request.
func (s *WithdrawService) Get(ctx context.Context, id uuid.UUID) (models.WithdrawRequest, error) {
	return s.store.Queries().GetWithdrawRequest(ctx, id)
}

// Verify checks the code, debits the owner and splits large fiat requests.
// A request that fails the recheck or lacks funds is rejected and returned
// without an error.
func (s *WithdrawService) Verify(ctx context.Context, id uuid.UUID, code string) (models.WithdrawRequest, error) {
	var req models.WithdrawRequest
	err := s.inTx(ctx, func(qtx *repository.Queries, box *outbox) error {
		var err error
		req, err = qtx.GetWithdrawRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != domain.WithdrawNew {
			return fmt.Errorf("%w: request is %s", domain.ErrInvalidVerificationCode, req.Status)
		}
		if !s.codeMatches(req, code) {
			return domain.ErrInvalidVerificationCode
		}

		if reason, err := s.recheck(ctx, qtx, req); err != nil {
			return err
		} else if reason != "" {
			zap.L().Info("withdraw request failed recheck",
				zap.String("withdraw_id", req.ID.String()),
				zap.String("reason", reason))
			return s.applyTransition(ctx, qtx, box, &req, domain.WithdrawRejected, nil)
		}

		err = s.applyTransition(ctx, qtx, box, &req, domain.WithdrawVerified, nil)
		if errors.Is(err, domain.ErrInsufficientBalance) {
			zap.L().Info("withdraw request rejected for insufficient balance",
				zap.String("withdraw_id", req.ID.String()))
			return s.applyTransition(ctx, qtx, box, &req, domain.WithdrawRejected, nil)
		}
		if err != nil {
			return err
		}
		return s.splitIfNeeded(ctx, qtx, &req)
	})
	return req, err
}

func (s *WithdrawService) codeMatches(req models.WithdrawRequest, code string) bool {
	if len(code) != domain.VerificationCodeDigits || req.OTP == "" {
		return false
	}
	if s.now().After(req.CreatedAt.Add(s.codeTTL)) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(req.OTP)) == 1
}

// recheck returns a non-empty reason when req may no longer be paid out.
func (s *WithdrawService) recheck(ctx context.Context, qtx *repository.Queries, req models.WithdrawRequest) (string, error) {
	if !req.Amount.IsPositive() {
		return "non_positive_amount", nil
	}
	if !req.IsFiat() {
		return "", nil
	}
	if req.TargetAccountID == nil {
		return "missing_bank_account", nil
	}
	account, err := qtx.GetBankAccount(ctx, *req.TargetAccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return "missing_bank_account", nil
	}
	if err != nil {
		return "", fmt.Errorf("get bank account: %w", err)
	}
	if !account.Confirmed || account.IsDeleted {
		return "unconfirmed_bank_account", nil
	}
	if account.UserID != req.UserID && !account.IsSystem && (s.giftUserID == uuid.Nil || account.UserID != s.giftUserID) {
		return "foreign_bank_account", nil
	}
	return "", nil
}

// splitIfNeeded sizes a verified fiat request for settlement. The first
// chunk stays on req; the rest become children sharing its debit.
func (s *WithdrawService) splitIfNeeded(ctx context.Context, qtx *repository.Queries, req *models.WithdrawRequest) error {
	if !req.IsFiat() || req.Status != domain.WithdrawVerified {
		return nil
	}
	policy := s.split
	if req.SettlementMethod == string(settlement.Vandar) {
		policy = s.vandarSplit
	}
	chunks, err := policy.Split(req.Amount)
	if err != nil {
		return err
	}

	first := chunks[0]
	rows, err := qtx.UpdateWithdrawAmount(ctx, req.ID, first.Amount, first.Fee)
	if err != nil {
		return fmt.Errorf("update withdraw amount: %w", err)
	}
	if err := requireExactlyOne(rows, "update withdraw amount"); err != nil {
		return err
	}
	total := req.Amount
	req.Amount, req.Fee = first.Amount, first.Fee

	for _, c := range chunks[1:] {
		child, err := qtx.CreateWithdrawRequest(ctx, repository.CreateWithdrawRequestParams{
			ParentID:         &req.ID,
			WalletID:         req.WalletID,
			UserID:           req.UserID,
			Currency:         req.Currency,
			Type:             req.Type,
			Status:           req.Status,
			Amount:           c.Amount,
			Fee:              c.Fee,
			Network:          req.Network,
			TargetAddress:    req.TargetAddress,
			Tag:              req.Tag,
			ContractAddress:  req.ContractAddress,
			TargetAccountID:  req.TargetAccountID,
			TransactionID:    req.TransactionID,
			OTP:              req.OTP,
			SettlementMethod: req.SettlementMethod,
		})
		if err != nil {
			return fmt.Errorf("create split request: %w", err)
		}
		if err := s.audit.Write(ctx, qtx, AuditRecord{Entity: auditWithdraw, EntityID: child.ID, Action: "split", To: child.Status.String(), Metadata: map[string]any{"parent_id": req.ID.String()}}); err != nil {
			return err
		}
	}
	if len(chunks) > 1 {
		zap.L().Info("withdraw request split",
			zap.String("withdraw_id", req.ID.String()),
			zap.String("total", total.String()),
			zap.Int("chunks", len(chunks)))
	}
	return nil
}

// Accept marks a verified or waiting request for automatic settlement.
func (s *WithdrawService) Accept(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (models.WithdrawRequest, error) {
	var req models.WithdrawRequest
	err := s.inTx(ctx, func(qtx *repository.Queries, box *outbox) error {
		var err error
		req, err = qtx.GetWithdrawRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		return s.accept(ctx, qtx, box, &req, actorID)
	})
	return req, err
}

func (s *WithdrawService) accept(ctx context.Context, qtx *repository.Queries, box *outbox, req *models.WithdrawRequest, actorID *uuid.UUID) error {
	if req.Status.Accepted() {
		return nil
	}
	if !req.Status.Acceptable() {
		return fmt.Errorf("%w: request is %s", domain.ErrNotDispatchable, req.Status)
	}
	if err := s.applyTransition(ctx, qtx, box, req, domain.WithdrawAccepted, actorID); err != nil {
		return err
	}
	if _, err := qtx.EnsureAutomaticWithdraw(ctx, req.ID, s.methodFor(*req)); err != nil {
		return fmt.Errorf("ensure automatic withdraw: %w", err)
	}
	return nil
}

// Cancel aborts a request that has not been committed and refunds its
// debit.
func (s *WithdrawService) Cancel(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (models.WithdrawRequest, error) {
	var req models.WithdrawRequest
	err := s.inTx(ctx, func(qtx *repository.Queries, box *outbox) error {
		var err error
		req, err = qtx.GetWithdrawRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status == domain.WithdrawCanceled {
			return nil
		}
		ok, err := s.cancelable(ctx, qtx, req)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: request is %s", domain.ErrNotCancelable, req.Status)
		}
		if err := s.applyTransition(ctx, qtx, box, &req, domain.WithdrawCanceled, actorID); err != nil {
			return err
		}
		return s.finishCompanion(ctx, qtx, req.ID, domain.AutoWithdrawCanceled)
	})
	return req, err
}

func (s *WithdrawService) cancelable(ctx context.Context, qtx *repository.Queries, req models.WithdrawRequest) (bool, error) {
	if !req.Status.Cancelable() {
		return false, nil
	}
	auto, err := qtx.GetAutomaticWithdraw(ctx, req.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("get automatic withdraw: %w", err)
	}
	return domain.AutoWithdrawRetryable(auto.Status), nil
}

// finishCompanion moves an existing automatic withdraw to a final status.
func (s *WithdrawService) finishCompanion(ctx context.Context, qtx *repository.Queries, withdrawID uuid.UUID, status int) error {
	if err := qtx.UpdateAutomaticWithdraw(ctx, repository.UpdateAutomaticWithdrawParams{
		WithdrawID: withdrawID,
		Status:     status,
	}); err != nil {
		return fmt.Errorf("update automatic withdraw: %w", err)
	}
	return nil
}

// applyTransition moves req to next and carries out the effects. Illegal
// moves leave req untouched and alert operators; they are not errors.
func (s *WithdrawService) applyTransition(ctx context.Context, qtx *repository.Queries, box *outbox, req *models.WithdrawRequest, next domain.WithdrawStatus, actorID *uuid.UUID) error {
	eff, err := Transition(*req, next)
	if errors.Is(err, domain.ErrIllegalStatusTransition) {
		s.reportIllegal(box, *req, next, err)
		return nil
	}
	if err != nil {
		return err
	}
	if !eff.Changed() {
		return nil
	}

	if eff.CreateDebit {
		tx, err := s.debit(ctx, qtx, *req)
		if err != nil {
			return err
		}
		req.TransactionID = &tx.ID
	}
	if eff.ReverseDebit {
		if err := s.refund(ctx, qtx, *req); err != nil {
			return err
		}
	}

	rows, err := qtx.UpdateWithdrawStatus(ctx, req.ID, next)
	if err != nil {
		return fmt.Errorf("update withdraw status: %w", err)
	}
	if err := requireExactlyOne(rows, "update withdraw status"); err != nil {
		return err
	}
	if err := s.audit.Write(ctx, qtx, AuditRecord{Entity: auditWithdraw, EntityID: req.ID, Actor: actorID, Action: "status", From: eff.From.String(), To: eff.To.String()}); err != nil {
		return err
	}
	req.Status = next

	if eff.CheckDestination && !req.IsFiat() && req.TargetAddress != "" {
		if _, err := restrictBlacklisted(ctx, qtx, box, blacklistHit{
			OwnerID:   req.UserID,
			Currency:  req.Currency,
			Addresses: []string{req.TargetAddress},
			Subject:   auditWithdraw,
			SubjectID: req.ID,
		}, false); err != nil {
			return err
		}
	}

	payload := map[string]any{
		"withdraw_id": req.ID.String(),
		"wallet_id":   req.WalletID.String(),
		"currency":    req.Currency,
		"amount":      req.Amount.String(),
		"from":        eff.From.String(),
		"to":          eff.To.String(),
	}
	if eff.PublishStatus {
		box.add(domain.StreamLedgerEvents, domain.EventWithdrawStatusChanged, payload)
	}
	if eff.NotifyUser {
		box.add(domain.StreamLedgerEvents, domain.EventWithdrawCommitted, payload)
	}
	observability.IncrementWithdrawTransition(eff.From.String(), eff.To.String())
	return nil
}

func (s *WithdrawService) reportIllegal(box *outbox, req models.WithdrawRequest, next domain.WithdrawStatus, err error) {
	observability.IncrementIllegalTransition(req.Status.String(), next.String())
	zap.L().Error("illegal withdraw status transition",
		zap.String("withdraw_id", req.ID.String()),
		zap.String("from", req.Status.String()),
		zap.String("to", next.String()),
		zap.Error(err))
	box.add(domain.StreamOperatorAlerts, domain.EventIllegalTransition, map[string]any{
		"withdraw_id": req.ID.String(),
		"from":        req.Status.String(),
		"to":          next.String(),
	})
}

// debit reserves the request amount on the owner's wallet.
func (s *WithdrawService) debit(ctx context.Context, qtx *repository.Queries, req models.WithdrawRequest) (models.LedgerTransaction, error) {
	target := req.TargetAddress
	if req.IsFiat() && req.TargetAccountID != nil {
		target = req.TargetAccountID.String()
	}
	tx, err := s.ledger.CommitTx(ctx, qtx, CommitRequest{
		WalletID:    req.WalletID,
		Amount:      req.Amount.Neg(),
		Kind:        domain.KindWithdraw,
		Description: fmt.Sprintf("Withdrawal to %s", target),
		RefModule:   domain.RefWithdrawRequest,
		RefID:       uuidPtr(req.ID),
	})
	if errors.Is(err, domain.ErrDuplicateReference) {
		tx, err = qtx.GetLedgerTransactionByRef(ctx, domain.RefWithdrawRequest, req.ID)
	}
	if err != nil {
		return models.LedgerTransaction{}, err
	}
	rows, err := qtx.SetWithdrawTransaction(ctx, req.ID, tx.ID)
	if err != nil {
		return models.LedgerTransaction{}, fmt.Errorf("link withdraw transaction: %w", err)
	}
	if err := requireExactlyOne(rows, "link withdraw transaction"); err != nil {
		return models.LedgerTransaction{}, err
	}
	return tx, nil
}

// refund returns this request's own amount to the owner. A credit made to
// an internal destination is taken back first.
func (s *WithdrawService) refund(ctx context.Context, qtx *repository.Queries, req models.WithdrawRequest) error {
	credit, err := qtx.GetLedgerTransactionByRef(ctx, domain.RefInternalTransferDeposit, req.ID)
	switch {
	case err == nil:
		_, err = s.ledger.CommitTx(ctx, qtx, CommitRequest{
			WalletID:      credit.WalletID,
			Amount:        credit.Amount.Neg(),
			Kind:          domain.KindManual,
			Description:   fmt.Sprintf("Reverse internal transfer of withdraw %s", req.ID),
			RefModule:     domain.RefReverseTransaction,
			RefID:         uuidPtr(credit.ID),
			AllowNegative: true,
		})
		if err != nil && !errors.Is(err, domain.ErrDuplicateReference) {
			return fmt.Errorf("reverse internal deposit: %w", err)
		}
	case !errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("get internal deposit: %w", err)
	}

	_, err = s.ledger.CommitTx(ctx, qtx, CommitRequest{
		WalletID:      req.WalletID,
		Amount:        req.Amount,
		Kind:          domain.KindRefund,
		Description:   fmt.Sprintf("Refund of withdraw %s", req.ID),
		RefModule:     domain.RefWithdrawRequestReverse,
		RefID:         uuidPtr(req.ID),
		AllowNegative: true,
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicateReference) {
		return fmt.Errorf("refund withdraw: %w", err)
	}
	return nil
}

func (s *WithdrawService) methodFor(req models.WithdrawRequest) string {
	if req.SettlementMethod != "" {
		return req.SettlementMethod
	}
	if req.IsFiat() {
		return string(s.defaultMethod)
	}
	return string(settlement.HotWallet)
}

// inTx runs fn in a transaction and publishes the events it queued once
// the transaction commits.
func (s *WithdrawService) inTx(ctx context.Context, fn func(qtx *repository.Queries, box *outbox) error) error {
	box := &outbox{}
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		box.reset()
		return fn(qtx, box)
	})
	if err != nil {
		return err
	}
	box.flush(ctx, s.publisher)
	return nil
}
