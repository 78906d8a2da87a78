package verification

import (
	"github.com/google/uuid"

	"github.com/evidentta/controlverify/internal/domain/control"
)

// MatchRule maps a (provider, fact type) pair to one control. A control
// declares one rule per fact it accepts as evidence; several controls may
// declare rules for the same fact, in which case one finding fans out to
// candidates for each of them.
type MatchRule struct {
	ControlID uuid.UUID `json:"control_id"`
	Provider  string    `json:"provider"`
	FactType  string    `json:"fact_type"`

	// Confidence the rule assigns to a matching finding. A rule marks
	// itself low-confidence when its provider is known to return partial
	// data (e.g. under rate limiting).
	Confidence control.Confidence `json:"confidence"`

	// PassReason and FailReason are the human-readable judgments recorded
	// on the candidate.
	PassReason string `json:"pass_reason"`
	FailReason string `json:"fail_reason"`
}

// Candidate is a finding interpreted against one control's matching rule.
type Candidate struct {
	ControlID  uuid.UUID          `json:"control_id"`
	Provider   string             `json:"provider"`
	FactType   string             `json:"fact_type"`
	Passed     bool               `json:"passed"`
	Confidence control.Confidence `json:"confidence"`
	Reason     string             `json:"reason"`
	Metrics    map[string]any     `json:"metrics,omitempty"`
}

// Normalize interprets one finding against the supplied rules and returns
// a candidate per matching rule. A finding that matches no rule is
// discarded: the provider reported a fact no control cares about, which
// is normal, not an error. Normalize is pure; it never mutates its inputs.
func Normalize(f Finding, rules []MatchRule) []Candidate {
	var out []Candidate
	for _, r := range rules {
		if r.Provider != f.Provider || r.FactType != f.FactType {
			continue
		}
		reason := r.PassReason
		if !f.Passed {
			reason = r.FailReason
		}
		out = append(out, Candidate{
			ControlID:  r.ControlID,
			Provider:   f.Provider,
			FactType:   f.FactType,
			Passed:     f.Passed,
			Confidence: r.Confidence,
			Reason:     reason,
			Metrics:    f.Metrics,
		})
	}
	return out
}

// NormalizeAll runs Normalize over a whole pass worth of findings and
// groups the candidates by control.
func NormalizeAll(findings []Finding, rules []MatchRule) map[uuid.UUID][]Candidate {
	grouped := make(map[uuid.UUID][]Candidate)
	for _, f := range findings {
		for _, c := range Normalize(f, rules) {
			grouped[c.ControlID] = append(grouped[c.ControlID], c)
		}
	}
	return grouped
}
