package integration

import (
	"time"

	"github.com/google/uuid"
)

// Status is the operational health of an integration, kept separate from
// any control's verification status so a stale "verified" control is
// distinguishable from "never able to check".
type Status string

const (
	// StatusOK: the last sync completed.
	StatusOK Status = "ok"
	// StatusRetrying: the last sync hit transient provider errors and
	// retries were exhausted; the next schedule will try again.
	StatusRetrying Status = "retrying"
	// StatusError: a permanent provider error (revoked credential,
	// unsupported version); syncing stops until credentials are refreshed.
	StatusError Status = "error"
)

// Integration connects one organization to one external provider.
type Integration struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	Provider       string     `json:"provider"`
	Status         Status     `json:"status"`
	LastError      *string    `json:"last_error,omitempty"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// New creates an integration in the ok state.
func New(orgID uuid.UUID, provider string) *Integration {
	now := time.Now().UTC()
	return &Integration{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Provider:       provider,
		Status:         StatusOK,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// MarkSynced records a completed sync and clears any error state.
func (i *Integration) MarkSynced(now time.Time) {
	i.Status = StatusOK
	i.LastError = nil
	i.LastSyncedAt = &now
	i.UpdatedAt = now
}

// MarkRetrying records exhausted transient retries; the integration stays
// schedulable.
func (i *Integration) MarkRetrying(cause string, now time.Time) {
	i.Status = StatusRetrying
	i.LastError = &cause
	i.UpdatedAt = now
}

// MarkError records a permanent provider failure; scheduling stops until
// an operator refreshes credentials and resets the status.
func (i *Integration) MarkError(cause string, now time.Time) {
	i.Status = StatusError
	i.LastError = &cause
	i.UpdatedAt = now
}

// Schedulable reports whether the orchestrator may run this integration.
func (i *Integration) Schedulable() bool {
	return i.Status != StatusError
}

// CooledDown reports whether enough time has passed since the last sync
// for a scheduled trigger to run. Manual triggers bypass this.
func (i *Integration) CooledDown(now time.Time, cooldown time.Duration) bool {
	if i.LastSyncedAt == nil {
		return true
	}
	return now.Sub(*i.LastSyncedAt) >= cooldown
}
