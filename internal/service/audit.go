package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/custody-ledger/internal/repository"
	"github.com/google/uuid"
)

// Audit entity types.
const (
	auditWithdraw = "withdraw_request"
	auditDeposit  = "confirmed_deposit"
	auditWallet   = "wallet"
)

// AuditRecord is one state change worth keeping. From and To are free-form
// state labels; empty values are stored as NULL.
type AuditRecord struct {
	Entity   string
	EntityID uuid.UUID
	Actor    *uuid.UUID
	Action   string
	From     string
	To       string
	Metadata map[string]any
}

// AuditService appends to the audit trail inside the caller's transaction.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

func (s *AuditService) Write(ctx context.Context, qtx *repository.Queries, rec AuditRecord) error {
	var metadata []byte
	if len(rec.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(rec.Metadata); err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
	}
	if _, err := qtx.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: rec.Entity,
		EntityID:   rec.EntityID,
		ActorID:    rec.Actor,
		Action:     rec.Action,
		PrevState:  strPtr(rec.From),
		NextState:  strPtr(rec.To),
		Metadata:   metadata,
	}); err != nil {
		return fmt.Errorf("insert audit log %s/%s: %w", rec.Entity, rec.Action, err)
	}
	return nil
}
