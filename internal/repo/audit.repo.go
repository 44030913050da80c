package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"mini-oms/internal/domain"
)

type AuditEntry struct {
	ID         int64          `json:"id"`
	UserID     uuid.UUID      `json:"user_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   uuid.UUID      `json:"entity_id"`
	Details    map[string]any `json:"details"`
}

type AuditRepo interface {
	Record(ctx context.Context, tx *sql.Tx, ev domain.Event) error
	ListForEntity(ctx context.Context, entityID uuid.UUID) ([]AuditEntry, error)
}

type auditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) AuditRepo {
	return &auditRepo{db: db}
}

// Record writes the audit row for a lifecycle event.
func (r *auditRepo) Record(ctx context.Context, tx *sql.Tx, ev domain.Event) error {
	action, entity, entityID := ev.AuditAction()
	details, err := json.Marshal(map[string]any{
		"event_id": ev.ID,
		"order_id": ev.OrderID,
		"status":   ev.Status,
	})
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_logs (user_id, action, entity_type, entity_id, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NullUUID{UUID: ev.ActorID, Valid: ev.ActorID != uuid.Nil}, action, entity, entityID, string(details), ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit log %s: %w", action, err)
	}
	return nil
}

func (r *auditRepo) ListForEntity(ctx context.Context, entityID uuid.UUID) ([]AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, action, entity_type, entity_id, details FROM audit_logs WHERE entity_id = $1 ORDER BY id`,
		entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e       AuditEntry
			userID  uuid.NullUUID
			details []byte
		)
		if err := rows.Scan(&e.ID, &userID, &e.Action, &e.EntityType, &e.EntityID, &details); err != nil {
			return nil, err
		}
		e.UserID = userID.UUID
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
