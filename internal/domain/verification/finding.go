package verification

import "time"

// Finding is a single normalized fact reported by a provider adapter
// during one sync pass. Findings are ephemeral: they live only for the
// pass that produced them, except where embedded into an outcome's
// metrics snapshot.
type Finding struct {
	Provider   string         `json:"provider"`
	FactType   string         `json:"fact_type"`
	Passed     bool           `json:"passed"`
	Metrics    map[string]any `json:"metrics,omitempty"`
	ObservedAt time.Time      `json:"observed_at"`
}

// Well-known fact types emitted by the built-in adapters.
const (
	FactMFAEnforced         = "mfa-enforced"
	FactSSORequired         = "sso-required"
	FactInactiveAccounts    = "inactive-accounts-disabled"
	FactStorageEncryption   = "storage-encryption-enabled"
	FactAuditLogging        = "audit-logging-enabled"
	FactPublicAccessBlocked = "public-access-blocked"
	FactBranchProtection    = "branch-protection-enabled"
	FactReviewRequired      = "review-required"
	FactSecretScanning      = "secret-scanning-enabled"
)
