package citation

import (
	"fmt"
	"strings"
)

// TargetEvidence is the evidence set size at which evidence coverage stops
// contributing risk.
const TargetEvidence = 5

// Level buckets a risk score.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Risk labels.
const (
	RiskLowCitationCoverage = "low_citation_coverage"
	RiskLowEvidenceCoverage = "low_evidence_coverage"
	RiskBudgetExhausted     = "iteration_budget_exhausted"
	RiskUpstreamFailure     = "upstream_failure"
	RiskNoEvidence          = "no_evidence"
)

var recommendations = map[string]string{
	RiskLowCitationCoverage: "Verify the answer against the cited policy documents before relying on it.",
	RiskLowEvidenceCoverage: "Few supporting passages were found; consult the full policy text.",
	RiskBudgetExhausted:     "Retrieval stopped at its iteration limit; try a more specific question.",
	RiskUpstreamFailure:     "A backing service was unavailable; retry the question later.",
	RiskNoEvidence:          "No supporting passages were found; rephrase the question or check the corpus.",
}

// Input carries the coverage signals of one answer.
type Input struct {
	// Claims is how many citations the draft proposed.
	Claims int
	// Verified is how many of them survived verification.
	Verified int
	// EvidenceSize is the size of the evidence set used for generation.
	EvidenceSize int
	// BudgetExhausted is set when the iteration limit was hit without
	// sufficient evidence.
	BudgetExhausted bool
	// Degraded is set when generation failed.
	Degraded bool
}

// Assessment is the derived risk of an answer.
type Assessment struct {
	Level           Level    `json:"level"`
	Score           float64  `json:"score"`
	Confidence      float64  `json:"confidence"`
	Risks           []string `json:"risks"`
	Recommendations []string `json:"recommendations"`
}

// Assess scores an answer from coverage signals only:
//
//	score = 0.40*(1-coverage) + 0.35*(1-min(E,5)/5) + 0.25*exhausted
//
// where coverage is Verified/Claims (0 without claims). A degraded answer
// always scores 1. The score never rises with more verified citations or
// more evidence and never falls when the budget is exhausted.
func Assess(in Input) Assessment {
	coverage := 0.0
	if in.Claims > 0 {
		v := min(max(in.Verified, 0), in.Claims)
		coverage = float64(v) / float64(in.Claims)
	}
	e := min(max(in.EvidenceSize, 0), TargetEvidence)
	evidence := float64(e) / TargetEvidence

	score := 0.40*(1-coverage) + 0.35*(1-evidence)
	if in.BudgetExhausted {
		score += 0.25
	}
	if in.Degraded {
		score = 1
	}
	score = min(max(score, 0), 1)

	var risks []string
	if in.Degraded {
		risks = append(risks, RiskUpstreamFailure)
	}
	if in.EvidenceSize == 0 {
		risks = append(risks, RiskNoEvidence)
	} else if in.EvidenceSize < TargetEvidence {
		risks = append(risks, RiskLowEvidenceCoverage)
	}
	if !in.Degraded && coverage < 0.5 {
		risks = append(risks, RiskLowCitationCoverage)
	}
	if in.BudgetExhausted {
		risks = append(risks, RiskBudgetExhausted)
	}

	a := Assessment{
		Level:           levelFor(score),
		Score:           score,
		Confidence:      1 - score,
		Risks:           []string{},
		Recommendations: []string{},
	}
	for _, r := range risks {
		a.Risks = append(a.Risks, r)
		a.Recommendations = append(a.Recommendations, recommendations[r])
	}
	return a
}

func levelFor(score float64) Level {
	switch {
	case score < 0.34:
		return LevelLow
	case score < 0.67:
		return LevelMedium
	default:
		return LevelHigh
	}
}

// String renders the assessment on one line, e.g.
// "medium (score 0.45, confidence 0.55): low_evidence_coverage. Few supporting ...".
func (a Assessment) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (score %.2f, confidence %.2f)", a.Level, a.Score, a.Confidence)
	if len(a.Risks) == 0 {
		return b.String()
	}
	b.WriteString(": ")
	b.WriteString(strings.Join(a.Risks, ", "))
	b.WriteString(". ")
	b.WriteString(strings.Join(a.Recommendations, " "))
	return b.String()
}
