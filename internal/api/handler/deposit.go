package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/service"
	"github.com/shopspring/decimal"
)

type DepositHandler struct {
	pipeline *service.DepositPipeline
}

func NewDepositHandler(pipeline *service.DepositPipeline) *DepositHandler {
	return &DepositHandler{pipeline: pipeline}
}

type observeRequest struct {
	Address  string `json:"address" validate:"required,max=256"`
	Currency string `json:"currency" validate:"required,max=16"`
	Network  string `json:"network" validate:"max=16"`
	Contract string `json:"contract_address" validate:"max=256"`
}

type refreshRequest struct {
	Currency  string   `json:"currency" validate:"required,max=16"`
	Network   string   `json:"network" validate:"max=16"`
	Addresses []string `json:"addresses" validate:"required,min=1,max=100,dive,required"`
}

type invoiceRequest struct {
	PaymentHash string          `json:"payment_hash" validate:"required"`
	Invoice     string          `json:"invoice" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
}

// Observe scans one deposit address and credits new confirmed transfers.
func (h *DepositHandler) Observe(w http.ResponseWriter, r *http.Request) {
	var req observeRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", err.Error())
		return
	}
	credited, err := h.pipeline.Observe(r.Context(), req.Address, currencyID(req.Currency), strings.ToUpper(req.Network), req.Contract)
	if err != nil {
		respondServiceError(w, r, "observe deposits", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]int{"credited": credited})
}

// Refresh recomputes the received and sent totals of a set of addresses.
func (h *DepositHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", err.Error())
		return
	}
	updated, err := h.pipeline.RefreshAddressBalances(r.Context(), currencyID(req.Currency), strings.ToUpper(req.Network), req.Addresses)
	if err != nil {
		respondServiceError(w, r, "refresh address balances", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (h *DepositHandler) RegisterInvoice(w http.ResponseWriter, r *http.Request) {
	walletID, ok := pathID(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-wallet-id", "Invalid wallet ID")
		return
	}
	var req invoiceRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", err.Error())
		return
	}
	deposit, err := h.pipeline.RegisterInvoice(r.Context(), service.RegisterInvoiceRequest{
		WalletID:    walletID,
		PaymentHash: req.PaymentHash,
		Invoice:     req.Invoice,
		Amount:      req.Amount,
	})
	if err != nil {
		respondServiceError(w, r, "register invoice", err)
		return
	}
	RespondJSON(w, http.StatusCreated, deposit)
}

func (h *DepositHandler) RefreshInvoices(w http.ResponseWriter, r *http.Request) {
	walletID, ok := pathID(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-wallet-id", "Invalid wallet ID")
		return
	}
	credited, err := h.pipeline.RefreshInvoices(r.Context(), walletID)
	if err != nil {
		respondServiceError(w, r, "refresh invoices", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]int{"credited": credited})
}

func currencyID(raw string) domain.CurrencyID {
	return domain.CurrencyID(strings.ToLower(strings.TrimSpace(raw)))
}
