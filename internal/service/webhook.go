package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/ayo6706/custody-ledger/internal/repository"
	"github.com/ayo6706/custody-ledger/internal/settlement"
)

// SettlementCallbackPayload is the body a provider posts when a payout
// changes state.
type SettlementCallbackPayload struct {
	Reference   string `json:"reference"`
	State       string `json:"state"`
	TrackingURL string `json:"tracking_url"`
	Message     string `json:"message"`
}

// SettlementCallbackResponse echoes the request state after the callback.
type SettlementCallbackResponse struct {
	WithdrawID string `json:"withdraw_id"`
	Status     string `json:"status"`
}

// HandleSettlementCallback verifies and applies a provider callback.
// Redelivered callbacks are harmless: done requests stay done.
func (s *WithdrawService) HandleSettlementCallback(ctx context.Context, method string, payload []byte, signature string, hmacKey []byte) (*SettlementCallbackResponse, error) {
	if !verifyHMAC(hmacKey, payload, signature) {
		return nil, domain.ErrInvalidSignature
	}
	m, err := settlement.ParseMethod(method)
	if err != nil {
		return nil, err
	}

	var cb SettlementCallbackPayload
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCallback, err)
	}
	cb.Reference = strings.TrimSpace(cb.Reference)
	if cb.Reference == "" {
		return nil, fmt.Errorf("%w: reference is required", domain.ErrInvalidCallback)
	}
	state := settlement.ParseState(cb.State)

	var req models.WithdrawRequest
	err = s.inTx(ctx, func(qtx *repository.Queries, box *outbox) error {
		var err error
		req, err = qtx.GetWithdrawByExternalRefForUpdate(ctx, string(m), cb.Reference)
		if err != nil {
			return err
		}
		if cb.Message != "" {
			if err := qtx.SetWithdrawSettlement(ctx, repository.SetWithdrawSettlementParams{
				ID:      req.ID,
				Updates: fmt.Sprintf("%s: %s", m, cb.Message),
			}); err != nil {
				return fmt.Errorf("record callback message: %w", err)
			}
		}
		if err := s.audit.Write(ctx, qtx, AuditRecord{Entity: auditWithdraw, EntityID: req.ID, Action: "settlement_callback", From: req.Status.String(), To: string(state), Metadata: map[string]any{"method": string(m), "reference": cb.Reference}}); err != nil {
			return err
		}
		return s.foldProviderState(ctx, qtx, box, &req, m, state, cb.TrackingURL)
	})
	if err != nil {
		return nil, err
	}
	return &SettlementCallbackResponse{WithdrawID: req.ID.String(), Status: req.Status.String()}, nil
}

func verifyHMAC(key, payload []byte, signature string) bool {
	if len(key) == 0 {
		return false
	}
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	expected := "sha256=" + hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
