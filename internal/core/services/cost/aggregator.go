// Package cost implements CostAggregator: the EventBus consumer that derives
// per-span cost rows from LLM token-usage attributes, following the
// graceful-degradation style of the teacher's CostCalculatorService.
package cost

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"brokle/internal/core/domain/telemetry"
	"brokle/internal/infrastructure/eventbus"
	"brokle/internal/infrastructure/repository/columnar"
	"brokle/internal/infrastructure/wire"
)

const (
	streamSpansIngest = "spans.ingest"
	consumerGroup     = "cost"

	defaultFlushBatchSize = 1000
	defaultFlushInterval  = 1000 * time.Millisecond

	modelAttrKey        = "llm.model"
	promptTokensAttrKey = "llm.tokens.in"
	compTokensAttrKey   = "llm.tokens.out"
	spanKindAttrKey     = "llm.span_kind"
	defaultSpanKind     = "llm"
)

// Aggregator is the CostAggregator consumer of spans.ingest, per §4.6.
type Aggregator struct {
	bus            eventbus.EventBus
	costRepo       *columnar.CostMetricRepository
	prices         *PriceTable
	logger         *logrus.Logger
	consumerName   string
	pollInterval   time.Duration
	flushBatchSize int
	flushInterval  time.Duration

	lastSuccessfulOp atomic.Int64
}

func NewAggregator(bus eventbus.EventBus, costRepo *columnar.CostMetricRepository, prices *PriceTable, logger *logrus.Logger, consumerName string) *Aggregator {
	return &Aggregator{
		bus:            bus,
		costRepo:       costRepo,
		prices:         prices,
		logger:         logger,
		consumerName:   consumerName,
		pollInterval:   500 * time.Millisecond,
		flushBatchSize: defaultFlushBatchSize,
		flushInterval:  defaultFlushInterval,
	}
}

func (a *Aggregator) EnsureGroup(ctx context.Context) error {
	return a.bus.CreateGroup(ctx, streamSpansIngest, consumerGroup, eventbus.FromOldest)
}

// Run drives the same Reading/Accumulating/Flushing shape as PersistenceWriter,
// batching identically per §4.6's "Batching identical to §4.4" rule.
func (a *Aggregator) Run(ctx context.Context) error {
	var metrics []*telemetry.CostMetric
	var ackIDs []string
	lastFlush := time.Now()

	for {
		select {
		case <-ctx.Done():
			if len(metrics) > 0 {
				a.flush(context.Background(), metrics, ackIDs)
			}
			return nil
		default:
		}

		msgs, err := a.bus.Read(ctx, streamSpansIngest, consumerGroup, a.consumerName, int64(a.flushBatchSize), a.pollInterval)
		if err != nil {
			a.logger.WithError(err).Warn("cost: read failed, retrying next cycle")
		} else {
			for _, msg := range msgs {
				metric, ok := a.deriveMetric(ctx, msg)
				if !ok {
					// No llm.model attribute: nothing to aggregate, ack and move on.
					if err := a.bus.Acknowledge(ctx, streamSpansIngest, consumerGroup, []string{msg.ID}); err != nil {
						a.logger.WithError(err).Warn("cost: ack failed, will redeliver")
					}
					continue
				}
				metrics = append(metrics, metric)
				ackIDs = append(ackIDs, msg.ID)
			}
		}

		shouldFlush := len(metrics) >= a.flushBatchSize || (len(metrics) > 0 && time.Since(lastFlush) >= a.flushInterval)
		if shouldFlush {
			a.flush(ctx, metrics, ackIDs)
			metrics = nil
			ackIDs = nil
			lastFlush = time.Now()
		}
	}
}

// deriveMetric decodes the span and, if it carries an llm.model attribute,
// computes its cost row. A span without that attribute is not an LLM call
// and is skipped entirely, per §4.6.
func (a *Aggregator) deriveMetric(ctx context.Context, msg eventbus.Message) (*telemetry.CostMetric, bool) {
	span, err := wire.DecodeSpan(msg.Payload)
	if err != nil {
		_ = eventbus.MoveToDLQ(ctx, a.bus, streamSpansIngest, consumerGroup, msg, 1, err, time.Now())
		return nil, false
	}

	model, ok := span.Attributes[modelAttrKey]
	if !ok || model == "" {
		return nil, false
	}

	promptTokens := parseTokenCount(span.Attributes[promptTokensAttrKey])
	completionTokens := parseTokenCount(span.Attributes[compTokensAttrKey])

	spanKind := span.Attributes[spanKindAttrKey]
	if spanKind == "" {
		spanKind = defaultSpanKind
	}

	costUSD := a.computeCost(model, promptTokens, completionTokens)

	return &telemetry.CostMetric{
		ProjectID:        span.ProjectID,
		Model:            model,
		SpanKind:         spanKind,
		TimestampSecond:  span.StartTimeNs / int64(time.Second),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		CostUSD:          costUSD,
	}, true
}

// computeCost looks up the model's pricing and applies §4.6's formula. An
// unknown model degrades to cost 0 with a once-per-model DEBUG log, mirroring
// the teacher's zeroCostBreakdown fallback.
func (a *Aggregator) computeCost(model string, promptTokens, completionTokens int64) float64 {
	price, ok := a.prices.Lookup(model)
	if !ok {
		if a.prices.ShouldWarnUnknown(model) {
			a.logger.WithField("model", model).Debug("cost: no pricing configured, recording zero cost")
		}
		return 0
	}

	prompt := decimal.NewFromInt(promptTokens)
	completion := decimal.NewFromInt(completionTokens)
	thousand := decimal.NewFromInt(1000)

	promptCost := prompt.Mul(price.PricePerThousandPromptUSD).Div(thousand)
	completionCost := completion.Mul(price.PricePerThousandCompletionUSD).Div(thousand)

	total, _ := promptCost.Add(completionCost).Float64()
	return total
}

// parseTokenCount accepts a string-encoded integer, defaulting to 0 when
// absent or unparseable, per §4.6's "accept strings parseable as integers;
// missing → 0" rule.
func parseTokenCount(raw string) int64 {
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (a *Aggregator) flush(ctx context.Context, metrics []*telemetry.CostMetric, ackIDs []string) {
	if len(metrics) == 0 {
		return
	}
	if err := a.costRepo.CreateBatch(ctx, metrics); err != nil {
		a.logger.WithError(err).Warn("cost: flush failed, will redeliver on next read")
		return
	}
	if err := a.bus.Acknowledge(ctx, streamSpansIngest, consumerGroup, ackIDs); err != nil {
		a.logger.WithError(err).Warn("cost: ack after successful flush failed, will redeliver")
		return
	}
	a.lastSuccessfulOp.Store(time.Now().UnixNano())
}

func (a *Aggregator) LastSuccessfulOperation() time.Time {
	ns := a.lastSuccessfulOp.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
