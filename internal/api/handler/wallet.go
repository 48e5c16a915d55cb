package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/ayo6706/custody-ledger/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type WalletHandler struct {
	wallets *service.WalletService
	ledger  *service.LedgerService
}

func NewWalletHandler(wallets *service.WalletService, ledger *service.LedgerService) *WalletHandler {
	return &WalletHandler{wallets: wallets, ledger: ledger}
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	ToWalletID  string          `json:"to_wallet_id" validate:"required,uuid"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id" validate:"required,uuid"`
	Description string          `json:"description" validate:"max=255"`
}

func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	walletID, ok := pathID(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-wallet-id", "Invalid wallet ID")
		return
	}
	wallet, err := h.wallets.GetWallet(r.Context(), walletID)
	if err != nil {
		respondServiceError(w, r, "get wallet", err)
		return
	}
	RespondJSON(w, http.StatusOK, wallet)
}

func (h *WalletHandler) Statement(w http.ResponseWriter, r *http.Request) {
	walletID, ok := pathID(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-wallet-id", "Invalid wallet ID")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize > 100 {
		pageSize = 100
	}

	if _, err := h.wallets.GetWallet(r.Context(), walletID); err != nil {
		respondServiceError(w, r, "get statement", err)
		return
	}
	txs, err := h.wallets.GetStatement(r.Context(), walletID, page, pageSize)
	if err != nil {
		respondServiceError(w, r, "get statement", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (h *WalletHandler) Block(w http.ResponseWriter, r *http.Request) {
	h.reserve(w, r, h.wallets.Block)
}

func (h *WalletHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.reserve(w, r, h.wallets.Unblock)
}

func (h *WalletHandler) reserve(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, actorID *uuid.UUID) (models.Wallet, error)) {
	walletID, ok := pathID(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-wallet-id", "Invalid wallet ID")
		return
	}
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", err.Error())
		return
	}
	wallet, err := apply(r.Context(), walletID, req.Amount, actorID)
	if err != nil {
		respondServiceError(w, r, "update blocked balance", err)
		return
	}
	RespondJSON(w, http.StatusOK, wallet)
}

func (h *WalletHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	fromID, ok := pathID(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-wallet-id", "Invalid wallet ID")
		return
	}
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", err.Error())
		return
	}

	res, err := h.ledger.Transfer(r.Context(), service.TransferRequest{
		FromWalletID: fromID,
		ToWalletID:   uuid.MustParse(req.ToWalletID),
		Amount:       req.Amount,
		ReferenceID:  uuid.MustParse(req.ReferenceID),
		Description:  req.Description,
	})
	if err != nil {
		respondServiceError(w, r, "transfer", err)
		return
	}
	RespondJSON(w, http.StatusCreated, map[string]any{
		"debit":  res.Debit,
		"credit": res.Credit,
	})
}
