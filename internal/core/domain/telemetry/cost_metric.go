package telemetry

// CostMetric is a rule-derived usage/price record produced by CostAggregator,
// aggregated in the columnar store by summing numeric fields on identical
// (project_id, model, timestamp).
type CostMetric struct {
	ProjectID        string  `json:"project_id"`
	Model            string  `json:"model"`
	SpanKind         string  `json:"span_kind"`
	TimestampSecond  int64   `json:"timestamp"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}
