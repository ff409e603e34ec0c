package columnar

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2"

	"brokle/internal/core/domain/telemetry"
	apperrors "brokle/pkg/errors"
)

const alertInsertSQL = `INSERT INTO security_alerts (
	id, project_id, trace_id, span_id, rule_name, severity, score, description, evidence, created_at
)`

// AlertRepository bulk-inserts SecurityAnalyzer's derived alerts.
type AlertRepository struct {
	conn clickhouse.Conn
}

func NewAlertRepository(conn clickhouse.Conn) *AlertRepository {
	return &AlertRepository{conn: conn}
}

// CreateBatch inserts one row per alert. Per §4.5, the testable invariant
// "every alert in alerts.live has a matching row in security_alerts with
// equal id" depends on the caller appending to alerts.live and calling this
// with the same Alert.ID before acknowledging the source span.
func (r *AlertRepository) CreateBatch(ctx context.Context, alerts []*telemetry.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, alertInsertSQL)
	if err != nil {
		return apperrors.NewUnavailableError("columnar: failed to prepare alerts batch", 5, err)
	}

	for _, a := range alerts {
		if err := batch.Append(
			a.ID, a.ProjectID, a.TraceID, a.SpanID, a.RuleName, string(a.Severity), a.Score, a.Description, a.Evidence, a.CreatedAt,
		); err != nil {
			return apperrors.NewUnavailableError("columnar: failed to append alert to batch", 5, err)
		}
	}

	if err := batch.Send(); err != nil {
		return apperrors.NewUnavailableError("columnar: failed to send alerts batch", 5, err)
	}
	return nil
}
