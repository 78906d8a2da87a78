package verification

import (
	"time"

	"github.com/google/uuid"
)

// ActorType identifies what produced a history entry.
type ActorType string

const (
	ActorIntegration ActorType = "integration"
	ActorUser        ActorType = "user"
	ActorSystem      ActorType = "system"
)

// HistoryEntry is an immutable audit record of one verification outcome.
// Entries are append-only: no update or delete path exists anywhere in
// the codebase, and retrieval is always bounded.
type HistoryEntry struct {
	ID         uuid.UUID      `json:"id"`
	ControlID  uuid.UUID      `json:"control_id"`
	Result     Result         `json:"result"`
	Confidence string         `json:"confidence"`
	Reason     string         `json:"reason"`
	Metrics    map[string]any `json:"metrics,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	ActorType  ActorType      `json:"actor_type"`
	ActorID    string         `json:"actor_id"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewHistoryEntry builds the ledger record for a reconciled outcome.
func NewHistoryEntry(o Outcome, actorType ActorType, actorID string) HistoryEntry {
	return HistoryEntry{
		ID:         uuid.New(),
		ControlID:  o.ControlID,
		Result:     o.Result,
		Confidence: string(o.Confidence),
		Reason:     o.Reason,
		Metrics:    o.Metrics,
		Provider:   o.Provider,
		ActorType:  actorType,
		ActorID:    actorID,
		CreatedAt:  o.OccurredAt,
	}
}
