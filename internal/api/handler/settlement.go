package handler

import (
	"io"
	"net/http"

	"github.com/ayo6706/custody-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	signatureHeader = "X-Signature"
	maxCallbackBody = 64 << 10
)

// SettlementHandler receives payout state callbacks from providers.
type SettlementHandler struct {
	withdraws *service.WithdrawService
	hmacKey   []byte
}

func NewSettlementHandler(withdraws *service.WithdrawService, hmacKey string) *SettlementHandler {
	return &SettlementHandler{withdraws: withdraws, hmacKey: []byte(hmacKey)}
}

// Callback handles POST /v1/settlements/{method}/callback.
// The body must be signed with the shared HMAC key.
func (h *SettlementHandler) Callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		zap.L().Error("read callback body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	method := chi.URLParam(r, "method")
	resp, err := h.withdraws.HandleSettlementCallback(r.Context(), method, body, r.Header.Get(signatureHeader), h.hmacKey)
	if err != nil {
		zap.L().Warn("settlement callback rejected", zap.Error(err), zap.String("method", method))
		respondServiceError(w, r, "settlement callback", err)
		return
	}
	RespondJSON(w, http.StatusOK, resp)
}
