package verification

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/evidentta/controlverify/internal/domain/control"
	"github.com/evidentta/controlverify/internal/domain/verification"
)

// ControlRepository is the persistence surface the reconciler needs.
type ControlRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*control.Control, error)
	ApplyOutcome(ctx context.Context, c *control.Control, entry verification.HistoryEntry, readUpdatedAt time.Time) error
	Update(ctx context.Context, c *control.Control) error
}

// HistoryLedger is the append-only verification history. StateAt
// reconstructs the verification state a control held at a past instant
// from the most recent entry at or before it.
type HistoryLedger interface {
	Append(ctx context.Context, e verification.HistoryEntry) error
	List(ctx context.Context, controlID uuid.UUID, limit int) ([]verification.HistoryEntry, error)
	StateAt(ctx context.Context, controlID uuid.UUID, asOf time.Time) (verification.HistoryEntry, error)
}

// AuditSink is the collaborator-owned audit log. Implementation-status
// changes and manual verification triggers are recorded there in addition
// to the history ledger.
type AuditSink interface {
	Record(ctx context.Context, event verification.AuditEvent) error
}

// RuleSource supplies the control-matching rules for an organization.
// The catalog itself is an excluded collaborator; only the lookup is
// consumed here.
type RuleSource interface {
	RulesForOrganization(ctx context.Context, orgID uuid.UUID) ([]verification.MatchRule, error)
	RulesForControl(ctx context.Context, controlID uuid.UUID) ([]verification.MatchRule, error)
}
