package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/ayo6706/custody-ledger/internal/service"
	"github.com/ayo6706/custody-ledger/internal/settlement"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type WithdrawHandler struct {
	withdraws *service.WithdrawService
	wallets   *service.WalletService
}

func NewWithdrawHandler(withdraws *service.WithdrawService, wallets *service.WalletService) *WithdrawHandler {
	return &WithdrawHandler{withdraws: withdraws, wallets: wallets}
}

type createWithdrawRequest struct {
	UID              string          `json:"uid" validate:"omitempty,uuid"`
	WalletID         string          `json:"wallet_id" validate:"required,uuid"`
	Amount           decimal.Decimal `json:"amount"`
	Network          string          `json:"network" validate:"max=16"`
	TargetAddress    string          `json:"target_address" validate:"max=256"`
	Tag              string          `json:"tag" validate:"max=64"`
	ContractAddress  string          `json:"contract_address" validate:"max=256"`
	TargetAccountID  string          `json:"target_account_id" validate:"omitempty,uuid"`
	SettlementMethod string          `json:"settlement_method" validate:"max=32"`
	Internal         bool            `json:"internal"`
}

type verifyRequest struct {
	Code string `json:"code" validate:"required,numeric"`
}

type settleRequest struct {
	Method string `json:"method" validate:"required"`
}

// withdrawView is the wire form of a withdraw request.
type withdrawView struct {
	ID               uuid.UUID       `json:"id"`
	UID              *uuid.UUID      `json:"uid,omitempty"`
	ParentID         *uuid.UUID      `json:"parent_id,omitempty"`
	WalletID         uuid.UUID       `json:"wallet_id"`
	Currency         string          `json:"currency"`
	Internal         bool            `json:"internal"`
	Status           string          `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	Fee              decimal.Decimal `json:"fee"`
	Network          string          `json:"network"`
	TargetAddress    string          `json:"target_address,omitempty"`
	Tag              string          `json:"tag,omitempty"`
	TargetAccountID  *uuid.UUID      `json:"target_account_id,omitempty"`
	TransactionID    *uuid.UUID      `json:"transaction_id,omitempty"`
	SettlementMethod string          `json:"settlement_method,omitempty"`
	ExternalRef      string          `json:"external_ref,omitempty"`
	Updates          string          `json:"updates,omitempty"`
	BlockchainURL    string          `json:"blockchain_url,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Children         []withdrawView  `json:"children,omitempty"`
}

func toWithdrawView(req models.WithdrawRequest) withdrawView {
	return withdrawView{
		ID:               req.ID,
		UID:              req.UID,
		ParentID:         req.ParentID,
		WalletID:         req.WalletID,
		Currency:         req.Currency,
		Internal:         req.IsInternal(),
		Status:           req.Status.String(),
		Amount:           req.Amount,
		Fee:              req.Fee,
		Network:          req.Network,
		TargetAddress:    req.TargetAddress,
		Tag:              req.Tag,
		TargetAccountID:  req.TargetAccountID,
		TransactionID:    req.TransactionID,
		SettlementMethod: req.SettlementMethod,
		ExternalRef:      req.ExternalRef,
		Updates:          req.Updates,
		BlockchainURL:    req.BlockchainURL,
		CreatedAt:        req.CreatedAt,
		UpdatedAt:        req.UpdatedAt,
	}
}

func (h *WithdrawHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createWithdrawRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", err.Error())
		return
	}
	uid, err := optionalUUID(req.UID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-uid", "Invalid uid")
		return
	}
	accountID, err := optionalUUID(req.TargetAccountID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-target-account", "Invalid target_account_id")
		return
	}

	created, err := h.withdraws.Create(r.Context(), service.CreateWithdrawRequest{
		UID:              uid,
		WalletID:         uuid.MustParse(req.WalletID),
		Amount:           req.Amount,
		Network:          req.Network,
		TargetAddress:    req.TargetAddress,
		Tag:              req.Tag,
		ContractAddress:  req.ContractAddress,
		TargetAccountID:  accountID,
		SettlementMethod: req.SettlementMethod,
		Internal:         req.Internal,
	})
	if err != nil {
		respondServiceError(w, r, "create withdraw", err)
		return
	}
	RespondJSON(w, http.StatusCreated, toWithdrawView(created))
}

func (h *WithdrawHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-withdraw-id", "Invalid withdraw ID")
		return
	}
	req, children, err := h.wallets.WithdrawWithChildren(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, "get withdraw", err)
		return
	}
	view := toWithdrawView(req)
	for _, child := range children {
		view.Children = append(view.Children, toWithdrawView(child))
	}
	RespondJSON(w, http.StatusOK, view)
}

func (h *WithdrawHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-withdraw-id", "Invalid withdraw ID")
		return
	}
	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", err.Error())
		return
	}
	verified, err := h.withdraws.Verify(r.Context(), id, req.Code)
	if err != nil {
		respondServiceError(w, r, "verify withdraw", err)
		return
	}
	RespondJSON(w, http.StatusOK, toWithdrawView(verified))
}

func (h *WithdrawHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.actorAction(w, r, "accept withdraw", h.withdraws.Accept)
}

func (h *WithdrawHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.actorAction(w, r, "cancel withdraw", h.withdraws.Cancel)
}

func (h *WithdrawHandler) actorAction(w http.ResponseWriter, r *http.Request, op string, action func(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (models.WithdrawRequest, error)) {
	id, ok := pathID(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-withdraw-id", "Invalid withdraw ID")
		return
	}
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	updated, err := action(r.Context(), id, actorID)
	if err != nil {
		respondServiceError(w, r, op, err)
		return
	}
	RespondJSON(w, http.StatusOK, toWithdrawView(updated))
}

// Dispatch advances a request one step towards settlement.
func (h *WithdrawHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-withdraw-id", "Invalid withdraw ID")
		return
	}
	res, err := h.withdraws.Dispatch(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, "dispatch withdraw", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"withdraw": toWithdrawView(res.Request),
		"sent":     res.Sent,
		"internal": res.Internal,
	})
}

// Settle hands a request to an explicitly chosen provider.
func (h *WithdrawHandler) Settle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-withdraw-id", "Invalid withdraw ID")
		return
	}
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req settleRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", err.Error())
		return
	}
	method, err := settlement.ParseMethod(req.Method)
	if err != nil {
		respondServiceError(w, r, "settle withdraw", err)
		return
	}
	settled, err := h.withdraws.Settle(r.Context(), id, method, actorID)
	if err != nil {
		respondServiceError(w, r, "settle withdraw", err)
		return
	}
	RespondJSON(w, http.StatusOK, toWithdrawView(settled))
}

// Refresh polls the provider for the state of a sent request.
func (h *WithdrawHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-withdraw-id", "Invalid withdraw ID")
		return
	}
	updated, err := h.withdraws.RefreshSettlementStatus(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, "refresh settlement status", err)
		return
	}
	RespondJSON(w, http.StatusOK, toWithdrawView(updated))
}
