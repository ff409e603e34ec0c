package telemetry

import "time"

// Severity is an ordered threat-level enum: LOW < MEDIUM < HIGH < CRITICAL.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityFromScore maps a 0-100 rule score to a severity per §4.5, with
// scores below 30 suppressed entirely (ok=false).
func SeverityFromScore(score float64) (sev Severity, ok bool) {
	switch {
	case score < 30:
		return "", false
	case score < 50:
		return SeverityLow, true
	case score < 75:
		return SeverityMedium, true
	case score < 90:
		return SeverityHigh, true
	default:
		return SeverityCritical, true
	}
}

// Alert is a rule-derived record produced by SecurityAnalyzer: one per rule
// family per span that triggered it, never mutated after creation.
type Alert struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	TraceID     string    `json:"trace_id"`
	SpanID      string    `json:"span_id"`
	RuleName    string    `json:"rule_name"`
	Severity    Severity  `json:"severity"`
	Score       float64   `json:"score"`
	Description string    `json:"description"`
	Evidence    string    `json:"evidence"`
	CreatedAt   time.Time `json:"created_at"`
}
