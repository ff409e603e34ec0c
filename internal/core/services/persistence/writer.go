// Package persistence implements PersistenceWriter: the EventBus consumer
// that bulk-persists spans to the columnar store without losing data on
// transient failures, following the Reading/Accumulating/Flushing state
// machine of §4.4.
package persistence

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"brokle/internal/core/domain/telemetry"
	"brokle/internal/infrastructure/eventbus"
	"brokle/internal/infrastructure/repository/columnar"
	"brokle/internal/infrastructure/retry"
	"brokle/internal/infrastructure/spill"
	"brokle/internal/infrastructure/wire"
)

const (
	streamSpansIngest = "spans.ingest"
	consumerGroup     = "persistence"

	defaultFlushBatchSize   = 1000
	defaultFlushIntervalMs  = 1000
	defaultRetryBudget      = 10
	defaultHardMemoryCap    = 50_000
	defaultRecentIDCacheCap = 100_000
)

type bufferedSpan struct {
	messageID string
	span      *telemetry.Span
}

// Writer is the PersistenceWriter state machine. Config fields default to
// the values in §4.4 when left zero.
type Writer struct {
	bus      eventbus.EventBus
	spanRepo *columnar.SpanRepository
	logger   *logrus.Logger

	consumerName    string
	pollInterval    time.Duration
	flushBatchSize  int
	flushInterval   time.Duration
	retryBudget     int
	hardMemoryCap   int
	spillPath       string

	backoff retry.Backoff

	recentIDs *lru.Cache[string, struct{}]

	lastSuccessfulOp atomic.Int64
}

// Config carries the tunables §6's WORKER_BATCH_SIZE/WORKER_FLUSH_INTERVAL_MS
// and §4.4's retry budget map to.
type Config struct {
	ConsumerName   string
	FlushBatchSize int
	FlushInterval  time.Duration
	RetryBudget    int
	HardMemoryCap  int
	SpillPath      string
}

func NewWriter(bus eventbus.EventBus, spanRepo *columnar.SpanRepository, logger *logrus.Logger, cfg Config) *Writer {
	if cfg.FlushBatchSize <= 0 {
		cfg.FlushBatchSize = defaultFlushBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushIntervalMs * time.Millisecond
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = defaultRetryBudget
	}
	if cfg.HardMemoryCap <= 0 {
		cfg.HardMemoryCap = defaultHardMemoryCap
	}

	recentIDs, _ := lru.New[string, struct{}](defaultRecentIDCacheCap)

	return &Writer{
		bus:            bus,
		spanRepo:       spanRepo,
		logger:         logger,
		consumerName:   cfg.ConsumerName,
		pollInterval:   500 * time.Millisecond,
		flushBatchSize: cfg.FlushBatchSize,
		flushInterval:  cfg.FlushInterval,
		retryBudget:    cfg.RetryBudget,
		hardMemoryCap:  cfg.HardMemoryCap,
		spillPath:      cfg.SpillPath,
		backoff:        retry.Default(),
		recentIDs:      recentIDs,
	}
}

func (w *Writer) EnsureGroup(ctx context.Context) error {
	return w.bus.CreateGroup(ctx, streamSpansIngest, consumerGroup, eventbus.FromOldest)
}

// Run drives Reading → Accumulating → Flushing until ctx is cancelled. On
// shutdown it flushes the current buffer with its normal retry budget before
// returning, per §5.
func (w *Writer) Run(ctx context.Context) error {
	var buffer []bufferedSpan
	lastFlush := time.Now()

	for {
		select {
		case <-ctx.Done():
			if len(buffer) > 0 {
				w.flush(context.Background(), buffer)
			}
			return nil
		default:
		}

		// Reading: stop pulling new messages once the hard memory cap is hit,
		// per §4.4's backpressure rule, until the buffer drains via flush.
		if len(buffer) < w.hardMemoryCap {
			msgs, err := w.bus.Read(ctx, streamSpansIngest, consumerGroup, w.consumerName, int64(w.flushBatchSize), w.pollInterval)
			if err != nil {
				w.logger.WithError(err).Warn("persistence: read failed, retrying next cycle")
			} else {
				buffer = w.accumulate(buffer, msgs)
			}
		}

		shouldFlush := len(buffer) >= w.flushBatchSize || (len(buffer) > 0 && time.Since(lastFlush) >= w.flushInterval)
		if shouldFlush {
			if w.flush(ctx, buffer) {
				buffer = nil
			}
			lastFlush = time.Now()
		}
	}
}

func (w *Writer) accumulate(buffer []bufferedSpan, msgs []eventbus.Message) []bufferedSpan {
	for _, msg := range msgs {
		span, err := wire.DecodeSpan(msg.Payload)
		if err != nil {
			_ = eventbus.MoveToDLQ(context.Background(), w.bus, streamSpansIngest, consumerGroup, msg, 1, err, time.Now())
			continue
		}
		if _, seen := w.recentIDs.Get(msg.ID); seen {
			// Already durably written in this process's dedup window; ack and
			// drop, tolerating re-delivery after a crash mid-ack per §4.4.
			_ = w.bus.Acknowledge(context.Background(), streamSpansIngest, consumerGroup, []string{msg.ID})
			continue
		}
		buffer = append(buffer, bufferedSpan{messageID: msg.ID, span: span})
	}
	return buffer
}

// flush issues the bulk insert and, on success, acknowledges every buffered
// message as one operation. On failure it retries with exponential backoff
// up to retryBudget attempts; beyond that, the whole buffer is written to the
// spill file when a spill path is configured. It reports whether the caller
// may clear the buffer: false when ctx ends during the retries, or when the
// budget is exhausted with no spill path, so the buffer is retried later.
func (w *Writer) flush(ctx context.Context, buffer []bufferedSpan) bool {
	spans := make([]*telemetry.Span, len(buffer))
	ids := make([]string, len(buffer))
	for i, b := range buffer {
		spans[i] = b.span
		ids[i] = b.messageID
	}

	for attempt := 0; attempt < w.retryBudget; attempt++ {
		if err := w.spanRepo.CreateBatch(ctx, spans); err != nil {
			w.logger.WithError(err).WithField("attempt", attempt+1).Warn("persistence: flush failed, retaining buffer")
			select {
			case <-ctx.Done():
				return false
			case <-time.After(w.backoff.Delay(attempt)):
			}
			continue
		}

		if err := w.bus.Acknowledge(ctx, streamSpansIngest, consumerGroup, ids); err != nil {
			w.logger.WithError(err).Warn("persistence: ack after successful flush failed, will redeliver")
			return true
		}
		for _, id := range ids {
			w.recentIDs.Add(id, struct{}{})
		}
		w.lastSuccessfulOp.Store(time.Now().UnixNano())
		return true
	}

	w.spillOldest(buffer)
	return w.spillPath != ""
}

// spillOldest persists the buffer to the local spill file after the retry
// budget is exhausted, per §4.4. The messages remain unacknowledged in the
// EventBus; they will be redelivered and re-processed on restart.
// Writer.DrainSpill replays the file into the columnar store, but the worker
// startup path does not call it.
func (w *Writer) spillOldest(buffer []bufferedSpan) {
	if w.spillPath == "" {
		w.logger.Error("persistence: retry budget exhausted and no spill path configured, buffer retained in memory")
		return
	}

	sw, err := spill.Open(w.spillPath)
	if err != nil {
		w.logger.WithError(err).Error("persistence: failed to open spill file")
		return
	}
	defer sw.Close()

	for _, b := range buffer {
		encoded, err := wire.EncodeSpan(b.span)
		if err != nil {
			continue
		}
		if err := sw.WriteRecord(encoded); err != nil {
			w.logger.WithError(err).Error("persistence: spill write failed")
			return
		}
	}
	w.logger.WithField("count", len(buffer)).Warn("persistence: spilled buffer to disk after exhausting retry budget")
}

// DrainSpill replays any records left in the spill file from a prior outage,
// inserting them into the columnar store before the consumer resumes normal
// reads. It is a best-effort startup step; genuine I/O failures are Fatal
// per §7.
func (w *Writer) DrainSpill(ctx context.Context) error {
	if w.spillPath == "" {
		return nil
	}
	r, err := spill.OpenReader(w.spillPath)
	if err != nil {
		return err
	}
	if r == nil {
		return nil
	}
	defer r.Close()

	var spans []*telemetry.Span
	for {
		payload, err := r.Next()
		if err != nil {
			break
		}
		span, decodeErr := wire.DecodeSpan(payload)
		if decodeErr != nil {
			continue
		}
		spans = append(spans, span)
	}

	if len(spans) == 0 {
		return nil
	}
	if err := w.spanRepo.CreateBatch(ctx, spans); err != nil {
		return err
	}
	w.logger.WithField("count", len(spans)).Info("persistence: drained spill file into columnar store")
	return nil
}

func (w *Writer) LastSuccessfulOperation() time.Time {
	ns := w.lastSuccessfulOp.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
