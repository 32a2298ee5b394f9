// Package review defines the structured feedback model and turns raw model
// output into validated findings.
package review

import (
	"encoding/json"
	"strings"
)

// Severity of a single finding.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// DefaultReasoning fills the reasoning field when the model omits it.
const DefaultReasoning = "no reasoning provided"

// Finding is one line-level review remark.
type Finding struct {
	Line      *int     `json:"line,omitempty"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Reasoning string   `json:"reasoning"`
}

// Synthetic wraps raw, unparseable generator output in a single
// medium-severity finding so the job still completes with degraded feedback
// instead of failing.
func Synthetic(raw string) []Finding {
	return []Finding{{
		Severity:  SeverityMedium,
		Message:   raw,
		Reasoning: "model output could not be parsed as structured feedback",
	}}
}

// findingsEnvelope tolerates models that wrap the array in an object.
type findingsEnvelope struct {
	Findings []Finding `json:"findings"`
}

// ParseFindings decodes generator output into findings. It accepts a bare
// JSON array or a {"findings": [...]} object, optionally inside a markdown
// code fence. Anything else becomes a single synthetic finding carrying the
// raw text. Decoded findings are normalized: severity defaults to medium,
// reasoning to a placeholder; line stays optional.
func ParseFindings(raw string) []Finding {
	text := stripFence(strings.TrimSpace(raw))

	var findings []Finding
	if err := json.Unmarshal([]byte(text), &findings); err != nil {
		var env findingsEnvelope
		if err := json.Unmarshal([]byte(text), &env); err != nil || env.Findings == nil {
			return Synthetic(raw)
		}
		findings = env.Findings
	}

	out := findings[:0]
	for _, f := range findings {
		out = append(out, normalize(f))
	}
	if len(out) == 0 {
		return Synthetic(raw)
	}
	return out
}

func normalize(f Finding) Finding {
	switch Severity(strings.ToLower(string(f.Severity))) {
	case SeverityHigh:
		f.Severity = SeverityHigh
	case SeverityLow:
		f.Severity = SeverityLow
	default:
		f.Severity = SeverityMedium
	}
	if strings.TrimSpace(f.Reasoning) == "" {
		f.Reasoning = DefaultReasoning
	}
	return f
}

// stripFence removes a surrounding markdown code fence, if present.
func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
