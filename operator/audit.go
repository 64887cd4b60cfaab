package operator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// AuditEntry is one privileged action with its mandatory reason.
type AuditEntry struct {
	ActorID    string
	Action     string
	TargetKind string
	TargetID   string
	Reason     string
	Payload    map[string]any
}

// AuditLog records operator actions; every override writes exactly one
// entry, plus the matching outbox notification, in the same transaction
// as its mutation.
type AuditLog interface {
	RecordTx(ctx context.Context, tx pgx.Tx, entry AuditEntry) error
}

type PGAuditLog struct{}

func NewAuditLog() *PGAuditLog {
	return &PGAuditLog{}
}

func (l *PGAuditLog) RecordTx(ctx context.Context, tx pgx.Tx, entry AuditEntry) error {
	payload := entry.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("operator: marshal audit payload: %w", err)
	}

	const query = `
		INSERT INTO audit_log (actor_id, action, target_kind, target_id, reason, payload)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`
	if _, err := tx.Exec(ctx, query, entry.ActorID, entry.Action, entry.TargetKind, entry.TargetID, entry.Reason, body); err != nil {
		return fmt.Errorf("operator: insert audit entry: %w", err)
	}

	notification, err := json.Marshal(map[string]any{
		"actor_id":    entry.ActorID,
		"target_kind": entry.TargetKind,
		"target_id":   entry.TargetID,
		"reason":      entry.Reason,
	})
	if err != nil {
		return fmt.Errorf("operator: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, entry.Action, notification); err != nil {
		return fmt.Errorf("operator: enqueue outbox: %w", err)
	}
	return nil
}
