package health

import (
	"time"

	"github.com/evidentta/controlverify/internal/domain/control"
)

// DefaultValidityWindow is how long automated evidence stays trusted
// before a verified control is downgraded to stale. Organizations can
// override it per policy.
const DefaultValidityWindow = 90 * 24 * time.Hour

// EvaluateStaleness returns the verification status the control should
// hold at the given instant. Pure and idempotent: evaluating twice with
// no new evidence yields the same status. Only verified controls decay;
// failed and unverified controls keep their status, and an already-stale
// control stays stale until re-verified.
func EvaluateStaleness(c *control.Control, now time.Time, window time.Duration) control.VerificationStatus {
	if window <= 0 {
		window = DefaultValidityWindow
	}
	if c.VerificationStatus != control.VerificationVerified {
		return c.VerificationStatus
	}
	if c.VerifiedAt == nil {
		// Verified without a timestamp violates the domain invariant;
		// such evidence cannot be dated so it counts as aged out.
		return control.VerificationStale
	}
	if now.Sub(*c.VerifiedAt) > window {
		return control.VerificationStale
	}
	return control.VerificationVerified
}

// IsStale reports whether EvaluateStaleness would downgrade the control.
func IsStale(c *control.Control, now time.Time, window time.Duration) bool {
	return c.VerificationStatus == control.VerificationVerified &&
		EvaluateStaleness(c, now, window) == control.VerificationStale
}
