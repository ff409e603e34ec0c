package security

import (
	"fmt"
	"math"
	"sync"

	"brokle/internal/core/domain/telemetry"
)

const (
	rollingWindowSize = 512
	minSamplesToFlag  = 32
	outlierStdDevs    = 3
)

// welfordStats maintains a rolling mean/variance over the most recent
// rollingWindowSize durations for one span name, using Welford's algorithm
// for numerically stable online variance, evicting the oldest sample once
// the window is full. There is no precedent for this in the example pack;
// it is implemented directly from the algorithm's standard formulation.
type welfordStats struct {
	mu      sync.Mutex
	samples []float64 // ring buffer of the last N durations, oldest first
	head    int
	count   int
	mean    float64
	m2      float64
}

func newWelfordStats() *welfordStats {
	return &welfordStats{samples: make([]float64, rollingWindowSize)}
}

// observe folds in a new duration and returns the pre-update mean/stddev/n
// so the caller can test the just-arrived value against the distribution it
// would have been drawn from, without the new value skewing its own check.
func (w *welfordStats) observe(duration float64) (mean, stddev float64, n int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	mean = w.mean
	if w.count > 1 {
		stddev = math.Sqrt(w.m2 / float64(w.count-1))
	}
	n = w.count

	if w.count < rollingWindowSize {
		w.count++
		delta := duration - w.mean
		w.mean += delta / float64(w.count)
		delta2 := duration - w.mean
		w.m2 += delta * delta2
		w.samples[w.head] = duration
		w.head = (w.head + 1) % rollingWindowSize
		return
	}

	// Window full: evict the oldest sample and fold in the new one, per a
	// sliding-window variant of Welford's algorithm.
	oldest := w.samples[w.head]
	w.samples[w.head] = duration
	w.head = (w.head + 1) % rollingWindowSize

	oldMean := w.mean
	w.mean += (duration - oldest) / float64(rollingWindowSize)
	w.m2 += (duration - oldest) * (duration - w.mean + oldest - oldMean)
	if w.m2 < 0 {
		w.m2 = 0
	}
	return
}

// DurationOutlierRule flags a span whose duration exceeds mean + 3*stddev of
// the last 512 spans sharing its name, once at least 32 samples have been
// observed, per §4.5's Duration outlier row (fixed score 50).
type DurationOutlierRule struct {
	mu         sync.Mutex
	statsByName map[string]*welfordStats
}

func NewDurationOutlierRule() *DurationOutlierRule {
	return &DurationOutlierRule{statsByName: make(map[string]*welfordStats)}
}

func (r *DurationOutlierRule) Name() string { return "duration_outlier" }

func (r *DurationOutlierRule) Apply(span *telemetry.Span) []RuleHit {
	stats := r.statsFor(span.Name)
	mean, stddev, n := stats.observe(span.DurationMs)

	if n < minSamplesToFlag {
		return nil
	}
	if span.DurationMs <= mean+outlierStdDevs*stddev {
		return nil
	}

	return []RuleHit{{
		RuleName: "duration_outlier",
		Score:    50,
		Evidence: fmt.Sprintf("duration_ms=%.2f mean=%.2f stddev=%.2f n=%d", span.DurationMs, mean, stddev, n),
	}}
}

func (r *DurationOutlierRule) statsFor(name string) *welfordStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.statsByName[name]
	if !ok {
		s = newWelfordStats()
		r.statsByName[name] = s
	}
	return s
}
