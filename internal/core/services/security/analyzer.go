package security

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"brokle/internal/core/domain/telemetry"
	"brokle/internal/infrastructure/eventbus"
	"brokle/internal/infrastructure/repository/columnar"
	"brokle/internal/infrastructure/wire"
)

const (
	streamSpansIngest = "spans.ingest"
	streamAlertsLive  = "alerts.live"
	consumerGroup     = "security"
)

// Analyzer is the SecurityAnalyzer consumer of spans.ingest: it applies the
// rule pipeline to every span, and for each hit constructs one Alert per
// rule family, appends it to alerts.live, and inserts it into the columnar
// alert table, per §4.5. The source span's message is only acknowledged
// after both sinks succeed; on sink failure the message is left
// unacknowledged so the normal Read redelivery retries it on the next poll
// cycle, per §4.5's "MUST NOT block... beyond the poll cycle".
type Analyzer struct {
	bus        eventbus.EventBus
	alertRepo  *columnar.AlertRepository
	logger     *logrus.Logger
	consumerName string
	pollInterval time.Duration

	rules []SecurityRule

	lastSuccessfulOp atomic.Int64 // unix nanoseconds
}

func NewAnalyzer(bus eventbus.EventBus, alertRepo *columnar.AlertRepository, logger *logrus.Logger, consumerName string) *Analyzer {
	return &Analyzer{
		bus:          bus,
		alertRepo:    alertRepo,
		logger:       logger,
		consumerName: consumerName,
		pollInterval: 500 * time.Millisecond,
		rules: []SecurityRule{
			InjectionRule{},
			PIIRule{},
			NewDurationOutlierRule(),
			TokenExplosionRule{},
		},
	}
}

// EnsureGroup creates the security consumer group if it does not already
// exist, idempotently, per §4.1.
func (a *Analyzer) EnsureGroup(ctx context.Context) error {
	return a.bus.CreateGroup(ctx, streamSpansIngest, consumerGroup, eventbus.FromOldest)
}

// Run executes the Reading/processing loop until ctx is cancelled. On
// shutdown, the in-flight cycle finishes before the loop exits, per §5.
func (a *Analyzer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := a.bus.Read(ctx, streamSpansIngest, consumerGroup, a.consumerName, 100, a.pollInterval)
		if err != nil {
			a.logger.WithError(err).Warn("security: read failed, retrying next cycle")
			continue
		}

		for _, msg := range msgs {
			a.process(ctx, msg)
		}
	}
}

func (a *Analyzer) process(ctx context.Context, msg eventbus.Message) {
	span, err := wire.DecodeSpan(msg.Payload)
	if err != nil {
		_ = eventbus.MoveToDLQ(ctx, a.bus, streamSpansIngest, consumerGroup, msg, 1, err, time.Now())
		return
	}

	alerts := a.evaluate(span)
	if len(alerts) == 0 {
		if err := a.bus.Acknowledge(ctx, streamSpansIngest, consumerGroup, []string{msg.ID}); err != nil {
			a.logger.WithError(err).Warn("security: ack failed, will redeliver")
			return
		}
		a.lastSuccessfulOp.Store(time.Now().UnixNano())
		return
	}

	if !a.publishAndStore(ctx, alerts) {
		// Sink failure: leave unacknowledged and retry on the next cycle's
		// redelivery, per §4.5. No inline retry/sleep here — Run must keep
		// polling.
		return
	}

	if err := a.bus.Acknowledge(ctx, streamSpansIngest, consumerGroup, []string{msg.ID}); err != nil {
		a.logger.WithError(err).Warn("security: ack failed, will redeliver")
		return
	}
	a.lastSuccessfulOp.Store(time.Now().UnixNano())
}

// evaluate runs every rule in order and constructs at most one Alert per
// rule family that produced a hit, scoring and mapping severity per §4.5.
func (a *Analyzer) evaluate(span *telemetry.Span) []*telemetry.Alert {
	var alerts []*telemetry.Alert

	for _, rule := range a.rules {
		hits := rule.Apply(span)
		if len(hits) == 0 {
			continue
		}

		var totalScore float64
		var evidence string
		var ruleName string
		for _, h := range hits {
			totalScore += h.Score
			if evidence == "" {
				evidence = h.Evidence
			}
			ruleName = h.RuleName
		}
		if totalScore > 100 {
			totalScore = 100
		}

		severity, ok := telemetry.SeverityFromScore(totalScore)
		if !ok {
			continue
		}

		alerts = append(alerts, &telemetry.Alert{
			ID:          ulid.Make().String(),
			ProjectID:   span.ProjectID,
			TraceID:     span.TraceID,
			SpanID:      span.SpanID,
			RuleName:    ruleName,
			Severity:    severity,
			Score:       totalScore,
			Description: fmt.Sprintf("%s rule triggered on span %s", ruleName, span.SpanID),
			Evidence:    evidence,
			CreatedAt:   time.Now().UTC(),
		})
	}

	return alerts
}

// publishAndStore appends each alert to alerts.live and inserts the batch
// into security_alerts. It returns true once both sinks have succeeded; on
// either sink's failure it returns false without retrying or sleeping, per
// §4.5 — the source span stays unacknowledged and the next poll cycle's
// redelivery is what retries the alert write, never a blocking in-process
// backoff.
func (a *Analyzer) publishAndStore(ctx context.Context, alerts []*telemetry.Alert) bool {
	for _, alert := range alerts {
		payload, err := wire.EncodeAlert(alert)
		if err != nil {
			a.logger.WithError(err).Error("security: failed to encode alert")
			return false
		}
		if _, err := a.bus.Append(ctx, streamAlertsLive, payload); err != nil {
			a.logger.WithError(err).Warn("security: failed to append alert to alerts.live")
			return false
		}
	}

	if err := a.alertRepo.CreateBatch(ctx, alerts); err != nil {
		a.logger.WithError(err).Warn("security: failed to insert alerts into columnar store")
		return false
	}
	return true
}

// LastSuccessfulOperation supports the /ready freshness check.
func (a *Analyzer) LastSuccessfulOperation() time.Time {
	ns := a.lastSuccessfulOp.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
