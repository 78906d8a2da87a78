package control

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Control is a declared compliance obligation owned by an organization.
// Verification fields are mutated only through ApplyOutcome (automated
// path), MarkStale (staleness monitor), or the manual-review methods.
type Control struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`

	ImplementationStatus ImplementationStatus `json:"implementation_status"`

	// Verification state
	VerificationStatus  VerificationStatus   `json:"verification_status"`
	VerifiedAt          *time.Time           `json:"verified_at,omitempty"`
	VerificationSource  *string              `json:"verification_source,omitempty"`
	VerificationDetails *VerificationDetails `json:"verification_details,omitempty"`

	// Automation
	Automated        bool    `json:"automated"`
	AutomationSource *string `json:"automation_source,omitempty"`

	// Review cadence
	ReviewFrequencyDays int        `json:"review_frequency_days"`
	LastReviewedAt      *time.Time `json:"last_reviewed_at,omitempty"`
	NextReviewAt        *time.Time `json:"next_review_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// VerificationDetails is the structured snapshot recorded alongside the
// verification status.
type VerificationDetails struct {
	Confidence  Confidence     `json:"confidence"`
	Reason      string         `json:"reason"`
	Metrics     map[string]any `json:"metrics,omitempty"`
	Remediation []string       `json:"remediation,omitempty"`
}

type ImplementationStatus string

const (
	ImplementationNotStarted    ImplementationStatus = "not_started"
	ImplementationInProgress    ImplementationStatus = "in_progress"
	ImplementationImplemented   ImplementationStatus = "implemented"
	ImplementationNotApplicable ImplementationStatus = "not_applicable"
)

func (s ImplementationStatus) Valid() bool {
	switch s {
	case ImplementationNotStarted, ImplementationInProgress,
		ImplementationImplemented, ImplementationNotApplicable:
		return true
	}
	return false
}

type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationVerified   VerificationStatus = "verified"
	VerificationFailed     VerificationStatus = "failed"
	VerificationStale      VerificationStatus = "stale"
)

func (s VerificationStatus) Valid() bool {
	switch s {
	case VerificationUnverified, VerificationVerified,
		VerificationFailed, VerificationStale:
		return true
	}
	return false
}

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Rank orders confidences so the reconciler can pick the strongest
// passing candidate.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// New creates a control in its initial state.
func New(orgID uuid.UUID, name string, reviewFrequencyDays int) *Control {
	now := time.Now().UTC()
	return &Control{
		ID:                   uuid.New(),
		OrganizationID:       orgID,
		Name:                 name,
		ImplementationStatus: ImplementationNotStarted,
		VerificationStatus:   VerificationUnverified,
		ReviewFrequencyDays:  reviewFrequencyDays,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// ApplyVerified transitions the control to verified at the given instant.
// Clears any staleness by definition: verified_at is reset to now.
func (c *Control) ApplyVerified(source string, details VerificationDetails, now time.Time) {
	c.VerificationStatus = VerificationVerified
	c.VerifiedAt = &now
	c.VerificationSource = &source
	c.VerificationDetails = &details
	c.UpdatedAt = now
}

// ApplyFailed transitions the control to failed. The previous verified_at
// is preserved on purpose: it is the last-known-good timestamp for audit.
func (c *Control) ApplyFailed(source string, details VerificationDetails, now time.Time) {
	c.VerificationStatus = VerificationFailed
	c.VerificationSource = &source
	c.VerificationDetails = &details
	c.UpdatedAt = now
}

// MarkStale downgrades a verified control whose evidence has aged out.
// Only the staleness monitor calls this; it is a no-op unless the control
// is currently verified.
func (c *Control) MarkStale(now time.Time) bool {
	if c.VerificationStatus != VerificationVerified {
		return false
	}
	c.VerificationStatus = VerificationStale
	c.UpdatedAt = now
	return true
}

// ResetVerification returns the control to unverified. Only an explicit
// manual action (automation removed, control edited) takes this path.
func (c *Control) ResetVerification(now time.Time) {
	c.VerificationStatus = VerificationUnverified
	c.VerificationSource = nil
	c.VerificationDetails = nil
	c.UpdatedAt = now
}

// SetImplementationStatus applies a human edit of the implementation
// status. When a human self-attests "implemented" without a fresh
// integration verification and the control is not already verified, the
// verification status is forced back to unverified so stale automated
// trust is not inherited.
func (c *Control) SetImplementationStatus(status ImplementationStatus, now time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("invalid implementation status: %s", status)
	}
	c.ImplementationStatus = status
	if status == ImplementationImplemented && c.VerificationStatus != VerificationVerified {
		c.ResetVerification(now)
	}
	c.UpdatedAt = now
	return nil
}

// RecordReview stamps a completed human review and schedules the next one.
func (c *Control) RecordReview(now time.Time) {
	c.LastReviewedAt = &now
	if c.ReviewFrequencyDays > 0 {
		next := now.AddDate(0, 0, c.ReviewFrequencyDays)
		c.NextReviewAt = &next
	}
	c.UpdatedAt = now
}

// SoftDelete marks the control deleted while keeping it attributable for
// historical evidence. Controls are never hard-deleted.
func (c *Control) SoftDelete(now time.Time) {
	c.DeletedAt = &now
	c.UpdatedAt = now
}

func (c *Control) IsDeleted() bool {
	return c.DeletedAt != nil
}

// Validate checks the verified-state invariant: verified implies a
// verification timestamp and an attributable source.
func (c *Control) Validate() error {
	if c.VerificationStatus == VerificationVerified {
		if c.VerifiedAt == nil {
			return fmt.Errorf("verified control %s has no verified_at", c.ID)
		}
		if c.VerificationSource == nil && c.LastReviewedAt == nil {
			return fmt.Errorf("verified control %s has no verification source or reviewer", c.ID)
		}
	}
	if !c.VerificationStatus.Valid() {
		return fmt.Errorf("invalid verification status: %s", c.VerificationStatus)
	}
	if !c.ImplementationStatus.Valid() {
		return fmt.Errorf("invalid implementation status: %s", c.ImplementationStatus)
	}
	return nil
}
