package columnar

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2"

	"brokle/internal/core/domain/telemetry"
	apperrors "brokle/pkg/errors"
)

const costMetricInsertSQL = `INSERT INTO cost_metrics (
	project_id, model, span_kind, timestamp, prompt_tokens, completion_tokens, total_tokens, cost_usd
)`

// CostMetricRepository bulk-inserts CostAggregator's derived rows. The
// table's engine aggregates identical (project_id, model, timestamp) keys by
// summing numeric columns, per §6 — this repository inserts raw per-span
// rows and relies on that engine-level aggregation rather than aggregating
// in the application.
type CostMetricRepository struct {
	conn clickhouse.Conn
}

func NewCostMetricRepository(conn clickhouse.Conn) *CostMetricRepository {
	return &CostMetricRepository{conn: conn}
}

func (r *CostMetricRepository) CreateBatch(ctx context.Context, rows []*telemetry.CostMetric) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, costMetricInsertSQL)
	if err != nil {
		return apperrors.NewUnavailableError("columnar: failed to prepare cost_metrics batch", 5, err)
	}

	for _, m := range rows {
		if err := batch.Append(
			m.ProjectID, m.Model, m.SpanKind, m.TimestampSecond, m.PromptTokens, m.CompletionTokens, m.TotalTokens, m.CostUSD,
		); err != nil {
			return apperrors.NewUnavailableError("columnar: failed to append cost metric to batch", 5, err)
		}
	}

	if err := batch.Send(); err != nil {
		return apperrors.NewUnavailableError("columnar: failed to send cost_metrics batch", 5, err)
	}
	return nil
}
