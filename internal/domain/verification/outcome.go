package verification

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evidentta/controlverify/internal/domain/control"
)

// Result is the reconciled pass/fail judgment for one control in one
// sync pass.
type Result string

const (
	ResultVerified Result = "verified"
	ResultFailed   Result = "failed"

	// ResultStale and ResultUnverified appear only in history entries
	// written by the staleness sweep and the manual reset path; the
	// reconciler never produces them.
	ResultStale      Result = "stale"
	ResultUnverified Result = "unverified"
)

// Outcome is the single authoritative verification result for a control
// in one sync pass. Immutable once created: it becomes the control's new
// verification state and a new history entry, and later outcomes supersede
// it rather than overwrite it.
type Outcome struct {
	ControlID  uuid.UUID          `json:"control_id"`
	Result     Result             `json:"result"`
	Confidence control.Confidence `json:"confidence"`
	Reason     string             `json:"reason"`
	Metrics    map[string]any     `json:"metrics,omitempty"`
	Provider   string             `json:"provider"`
	OccurredAt time.Time          `json:"occurred_at"`

	// Remediation holds the ordered operator steps for every failed
	// fact this pass. Empty on a verified outcome.
	Remediation []string `json:"remediation,omitempty"`
}

// MetricContributors is the outcome-metrics key holding every integration
// that produced a candidate this pass, so a control fed by several
// providers does not degrade to last-writer-wins.
const MetricContributors = "contributing_integrations"

// Reconcile combines all candidates produced for one control within one
// sync pass into exactly one outcome. The tie-break is conservative:
// any failing candidate overrides every passing one. Among passes the
// highest-confidence candidate supplies reason and metrics; among fails
// every reason is concatenated so no failing signal is silently dropped.
//
// Reconcile panics on an empty candidate set; callers only invoke it for
// controls that matched at least one finding.
func Reconcile(controlID uuid.UUID, candidates []Candidate, now time.Time) Outcome {
	if len(candidates) == 0 {
		panic(fmt.Sprintf("reconcile called with no candidates for control %s", controlID))
	}

	var passes, fails []Candidate
	for _, c := range candidates {
		if c.Passed {
			passes = append(passes, c)
		} else {
			fails = append(fails, c)
		}
	}

	contributors := contributorSet(candidates)

	if len(fails) > 0 {
		reasons := make([]string, 0, len(fails))
		seen := make(map[string]bool, len(fails))
		conf := control.ConfidenceLow
		for _, f := range fails {
			if !seen[f.Reason] {
				seen[f.Reason] = true
				reasons = append(reasons, f.Reason)
			}
			if f.Confidence.Rank() > conf.Rank() {
				conf = f.Confidence
			}
		}
		metrics := mergeMetrics(fails)
		metrics[MetricContributors] = contributors
		return Outcome{
			ControlID:   controlID,
			Result:      ResultFailed,
			Confidence:  conf,
			Reason:      strings.Join(reasons, "; "),
			Metrics:     metrics,
			Provider:    fails[0].Provider,
			OccurredAt:  now,
			Remediation: remediationFor(fails),
		}
	}

	best := passes[0]
	for _, p := range passes[1:] {
		if p.Confidence.Rank() > best.Confidence.Rank() {
			best = p
		}
	}
	metrics := make(map[string]any, len(best.Metrics)+1)
	for k, v := range best.Metrics {
		metrics[k] = v
	}
	metrics[MetricContributors] = contributors
	return Outcome{
		ControlID:  controlID,
		Result:     ResultVerified,
		Confidence: best.Confidence,
		Reason:     best.Reason,
		Metrics:    metrics,
		Provider:   best.Provider,
		OccurredAt: now,
	}
}

func contributorSet(candidates []Candidate) []string {
	set := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		set[c.Provider] = true
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// remediationFor collects the registered steps for every failed fact,
// deduplicated in candidate order.
func remediationFor(fails []Candidate) []string {
	var steps []string
	seen := make(map[string]bool)
	for _, f := range fails {
		for _, step := range RemediationFor(f.Provider, f.FactType) {
			if !seen[step] {
				seen[step] = true
				steps = append(steps, step)
			}
		}
	}
	return steps
}

func mergeMetrics(candidates []Candidate) map[string]any {
	merged := make(map[string]any)
	for _, c := range candidates {
		for k, v := range c.Metrics {
			merged[k] = v
		}
	}
	return merged
}

// Details converts the outcome into the snapshot stored on the control.
func (o Outcome) Details() control.VerificationDetails {
	return control.VerificationDetails{
		Confidence:  o.Confidence,
		Reason:      o.Reason,
		Metrics:     o.Metrics,
		Remediation: o.Remediation,
	}
}
