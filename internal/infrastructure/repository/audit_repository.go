package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evidentta/controlverify/internal/domain/verification"
)

// AuditRepository forwards events to the collaborator-owned audit log
// table. Append-only.
type AuditRepository struct {
	db *pgxpool.Pool
}

func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Record(ctx context.Context, event verification.AuditEvent) error {
	var details []byte
	if event.Details != nil {
		encoded, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("encoding audit details: %w", err)
		}
		details = encoded
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_events (id, action, control_id, actor_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), event.Action, event.ControlID, event.ActorID, details, event.At,
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}
