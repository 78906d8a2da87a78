package health

import (
	"fmt"
	"time"

	"github.com/evidentta/controlverify/internal/domain/control"
)

// Sub-score caps. The four sub-scores sum to at most 100.
const (
	MaxVerificationScore = 40
	MaxFreshnessScore    = 25
	MaxCoverageScore     = 20
	MaxReviewScore       = 15

	// Verification credit per status. Stale sits strictly between
	// verified and failed; unverified gets a small self-attestation floor.
	staleVerificationScore      = 20
	unverifiedVerificationScore = 8
)

// CoverageLevel is how completely a framework requirement mapping covers
// a control.
type CoverageLevel string

const (
	CoverageFull    CoverageLevel = "full"
	CoveragePartial CoverageLevel = "partial"
	CoverageMinimal CoverageLevel = "minimal"
)

// FrameworkMapping links a control to one framework requirement.
type FrameworkMapping struct {
	RequirementID string        `json:"requirement_id"`
	Coverage      CoverageLevel `json:"coverage"`
}

// EvidenceSource distinguishes integration-collected evidence from
// manually uploaded documents.
type EvidenceSource string

const (
	EvidenceManual      EvidenceSource = "manual"
	EvidenceIntegration EvidenceSource = "integration"
)

// EvidenceItem is the slice of an evidence record the scoring engine
// needs; evidence lifecycle itself lives elsewhere.
type EvidenceItem struct {
	Source      EvidenceSource `json:"source"`
	CollectedAt time.Time      `json:"collected_at"`
}

// ScorePolicy carries the tunables of the scoring engine.
type ScorePolicy struct {
	ValidityWindow      time.Duration
	RecommendationFloor int // sub-score percentage below which a recommendation fires
}

// DefaultScorePolicy returns production defaults.
func DefaultScorePolicy() ScorePolicy {
	return ScorePolicy{
		ValidityWindow:      DefaultValidityWindow,
		RecommendationFloor: 50,
	}
}

// Result is the composite health view of one control. Derived, never
// authoritative: the control row and the history ledger remain the source
// of truth.
type Result struct {
	Overall           int       `json:"overall"`
	VerificationScore int       `json:"verification_score"`
	FreshnessScore    int       `json:"freshness_score"`
	CoverageScore     int       `json:"coverage_score"`
	ReviewScore       int       `json:"review_score"`
	Recommendations   []string  `json:"recommendations"`
	CalculatedAt      time.Time `json:"calculated_at"`
}

// Score computes the 0-100 composite health score for a control. Pure:
// same inputs, same result. Missing inputs (no evidence, no mappings, no
// reviews) degrade to the lowest credit, never to an error.
func Score(c *control.Control, evidence []EvidenceItem, mappings []FrameworkMapping, now time.Time, policy ScorePolicy) Result {
	if policy.ValidityWindow <= 0 {
		policy.ValidityWindow = DefaultValidityWindow
	}
	if policy.RecommendationFloor <= 0 {
		policy.RecommendationFloor = 50
	}

	status := EvaluateStaleness(c, now, policy.ValidityWindow)

	r := Result{
		VerificationScore: verificationScore(status),
		FreshnessScore:    freshnessScore(c, evidence, now, policy.ValidityWindow),
		CoverageScore:     coverageScore(evidence, mappings),
		ReviewScore:       reviewScore(c, now),
		CalculatedAt:      now,
	}
	r.Overall = r.VerificationScore + r.FreshnessScore + r.CoverageScore + r.ReviewScore
	r.Recommendations = recommendations(r, c, status, evidence, now, policy)
	return r
}

func verificationScore(status control.VerificationStatus) int {
	switch status {
	case control.VerificationVerified:
		return MaxVerificationScore
	case control.VerificationStale:
		return staleVerificationScore
	case control.VerificationFailed:
		return 0
	default:
		return unverifiedVerificationScore
	}
}

// freshnessScore decays linearly by day from full credit at age zero to
// zero at the validity window, measured from the newest of the control's
// verification timestamp and its evidence items.
func freshnessScore(c *control.Control, evidence []EvidenceItem, now time.Time, window time.Duration) int {
	newest := newestEvidence(c, evidence)
	if newest.IsZero() {
		return 0
	}
	age := now.Sub(newest)
	if age >= window {
		return 0
	}
	if age < 0 {
		age = 0
	}
	ageDays := int(age.Hours() / 24)
	windowDays := int(window.Hours() / 24)
	if windowDays <= 0 {
		return 0
	}
	return MaxFreshnessScore - (MaxFreshnessScore * ageDays / windowDays)
}

func newestEvidence(c *control.Control, evidence []EvidenceItem) time.Time {
	var newest time.Time
	if c.VerifiedAt != nil {
		newest = *c.VerifiedAt
	}
	for _, e := range evidence {
		if e.CollectedAt.After(newest) {
			newest = e.CollectedAt
		}
	}
	return newest
}

// coverageScore rewards evidence volume, automated evidence above manual,
// and full-coverage framework mappings.
func coverageScore(evidence []EvidenceItem, mappings []FrameworkMapping) int {
	score := 0
	switch {
	case len(evidence) >= 3:
		score += 10
	case len(evidence) >= 1:
		score += 6
	}
	for _, e := range evidence {
		if e.Source == EvidenceIntegration {
			score += 6
			break
		}
	}
	for _, m := range mappings {
		if m.Coverage == CoverageFull {
			score += 4
			break
		}
	}
	if len(mappings) > 0 && score < 4 {
		score += 2
	}
	if score > MaxCoverageScore {
		score = MaxCoverageScore
	}
	return score
}

// reviewScore gives full credit inside the review cadence and decays
// linearly to zero at the overdue point.
func reviewScore(c *control.Control, now time.Time) int {
	if c.LastReviewedAt == nil {
		return 0
	}
	cadence := c.ReviewFrequencyDays
	if cadence <= 0 {
		cadence = 365
	}
	daysSince := int(now.Sub(*c.LastReviewedAt).Hours() / 24)
	if daysSince < 0 {
		daysSince = 0
	}
	if daysSince >= cadence {
		return 0
	}
	return MaxReviewScore - (MaxReviewScore * daysSince / cadence)
}

func recommendations(r Result, c *control.Control, status control.VerificationStatus, evidence []EvidenceItem, now time.Time, policy ScorePolicy) []string {
	var recs []string
	floor := policy.RecommendationFloor
	windowDays := int(policy.ValidityWindow.Hours() / 24)

	switch status {
	case control.VerificationFailed:
		recs = append(recs, "Automated verification is failing; review the integration findings and remediate")
		if c.VerificationDetails != nil {
			recs = append(recs, c.VerificationDetails.Remediation...)
		}
	case control.VerificationStale:
		recs = append(recs, fmt.Sprintf("Verification evidence is older than %d days; re-run a sync to refresh it", windowDays))
	case control.VerificationUnverified:
		recs = append(recs, "Connect an integration to verify this control automatically")
	}

	if r.FreshnessScore*100 < MaxFreshnessScore*floor {
		newest := newestEvidence(c, evidence)
		if newest.IsZero() {
			recs = append(recs, "No evidence has been collected for this control")
		} else {
			recs = append(recs, fmt.Sprintf("Most recent evidence is %d days old; collect fresh evidence", int(now.Sub(newest).Hours()/24)))
		}
	}

	if r.CoverageScore*100 < MaxCoverageScore*floor {
		hasAutomated := false
		for _, e := range evidence {
			if e.Source == EvidenceIntegration {
				hasAutomated = true
				break
			}
		}
		if !hasAutomated {
			recs = append(recs, "No automated evidence is linked; integration-sourced evidence scores higher than manual uploads")
		} else {
			recs = append(recs, "Link more evidence or map this control to framework requirements with full coverage")
		}
	}

	if r.ReviewScore*100 < MaxReviewScore*floor {
		if c.LastReviewedAt == nil {
			recs = append(recs, "This control has never been reviewed; complete an initial review")
		} else {
			recs = append(recs, fmt.Sprintf("Review is overdue against the %d-day cadence", c.ReviewFrequencyDays))
		}
	}

	return recs
}
