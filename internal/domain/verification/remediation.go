package verification

// RemediationKey identifies a remediation lookup: what failed, where.
type RemediationKey struct {
	Provider string
	FactType string
}

// remediationSteps maps a failed fact to ordered operator guidance. The
// table lives here, not in presentation code, so the lookup is testable
// on its own.
var remediationSteps = map[RemediationKey][]string{
	{Provider: "identity", FactType: FactMFAEnforced}: {
		"Open the identity provider admin console",
		"Enable MFA enforcement for all user groups",
		"Re-run verification for this control",
	},
	{Provider: "identity", FactType: FactSSORequired}: {
		"Require SSO for all applications in the identity provider",
		"Disable password-only sign-in",
	},
	{Provider: "identity", FactType: FactInactiveAccounts}: {
		"Review accounts inactive for more than 90 days",
		"Disable or remove inactive accounts",
	},
	{Provider: "cloud", FactType: FactStorageEncryption}: {
		"Enable default encryption on all storage buckets",
		"Rotate any keys created before encryption was enabled",
	},
	{Provider: "cloud", FactType: FactAuditLogging}: {
		"Enable account-level audit logging",
		"Route audit logs to a retained log sink",
	},
	{Provider: "cloud", FactType: FactPublicAccessBlocked}: {
		"Enable the account-wide public access block",
		"Audit existing buckets for public grants",
	},
	{Provider: "sourcecode", FactType: FactBranchProtection}: {
		"Enable branch protection on the default branch",
		"Disallow force pushes and branch deletion",
	},
	{Provider: "sourcecode", FactType: FactReviewRequired}: {
		"Require at least one approving review before merge",
		"Dismiss stale approvals on new commits",
	},
	{Provider: "sourcecode", FactType: FactSecretScanning}: {
		"Enable secret scanning on all repositories",
		"Triage and revoke any already-detected secrets",
	},
}

// RemediationFor returns the ordered remediation steps for a failed fact,
// or nil when no guidance is registered.
func RemediationFor(provider, factType string) []string {
	return remediationSteps[RemediationKey{Provider: provider, FactType: factType}]
}
