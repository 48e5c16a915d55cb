package repository

import (
	"context"

	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/google/uuid"
)

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

const insertAuditLog = `
INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id
`

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, insertAuditLog,
		arg.EntityType, arg.EntityID, arg.ActorID, arg.Action, arg.PrevState, arg.NextState, arg.Metadata).Scan(&id)
	return id, err
}

const listAuditLog = `
SELECT id, entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at
FROM audit_log
WHERE entity_type = $1 AND entity_id = $2
ORDER BY id
`

func (q *Queries) ListAuditLog(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditEntry, error) {
	rows, err := q.db.Query(ctx, listAuditLog, entityType, entityID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row rowScanner) (models.AuditEntry, error) {
		var e models.AuditEntry
		err := row.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.ActorID, &e.Action, &e.PrevState, &e.NextState, &e.Metadata, &e.CreatedAt)
		return e, err
	})
}
