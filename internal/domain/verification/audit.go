package verification

import (
	"time"

	"github.com/google/uuid"
)

// AuditEvent is the minimal shape the collaborator-owned audit log
// accepts. Implementation-status changes and manual verification
// triggers are recorded there in addition to the history ledger.
type AuditEvent struct {
	Action    string         `json:"action"`
	ControlID uuid.UUID      `json:"control_id"`
	ActorID   string         `json:"actor_id"`
	Details   map[string]any `json:"details,omitempty"`
	At        time.Time      `json:"at"`
}
