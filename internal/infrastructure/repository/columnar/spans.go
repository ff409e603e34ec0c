// Package columnar wraps the ClickHouse insert contracts §6 fixes for the
// spans, security_alerts, and cost_metrics tables, following the
// PrepareBatch/Append/Send pattern of the teacher's span_repository.go.
package columnar

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"brokle/internal/core/domain/telemetry"
	apperrors "brokle/pkg/errors"
)

const spanInsertSQL = `INSERT INTO spans (
	span_id, trace_id, parent_span_id, project_id, name, service_name,
	status, start_time, end_time, duration_ms, attributes, events, ingested_at
)`

// SpanRepository bulk-inserts validated, project-tagged spans.
type SpanRepository struct {
	conn clickhouse.Conn
}

func NewSpanRepository(conn clickhouse.Conn) *SpanRepository {
	return &SpanRepository{conn: conn}
}

// CreateBatch inserts every span in one columnar batch, failing the whole
// batch (and none of the EventBus messages get acknowledged) if the insert
// does not complete, per §4.4's durability-then-acknowledge ordering.
func (r *SpanRepository) CreateBatch(ctx context.Context, spans []*telemetry.Span) error {
	if len(spans) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, spanInsertSQL)
	if err != nil {
		return apperrors.NewUnavailableError("columnar: failed to prepare spans batch", 5, err)
	}

	for _, s := range spans {
		eventsJSON, err := json.Marshal(s.Events)
		if err != nil {
			return apperrors.NewFatalError("columnar: failed to marshal span events", err)
		}

		startUs := s.StartTimeNs / 1000
		endUs := s.EndTimeNs / 1000

		if err := batch.Append(
			s.SpanID, s.TraceID, s.ParentSpanID, s.ProjectID, s.Name, s.ServiceName,
			string(s.Status), startUs, endUs, s.DurationMs, s.Attributes, string(eventsJSON), time.Now().UTC(),
		); err != nil {
			return apperrors.NewUnavailableError("columnar: failed to append span to batch", 5, err)
		}
	}

	if err := batch.Send(); err != nil {
		return apperrors.NewUnavailableError("columnar: failed to send spans batch", 5, err)
	}
	return nil
}
