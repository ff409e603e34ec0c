package security

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"brokle/internal/core/domain/telemetry"
)

func TestDurationOutlierRule_SuppressedBelowMinSamples(t *testing.T) {
	r := NewDurationOutlierRule()
	for i := 0; i < minSamplesToFlag-1; i++ {
		span := &telemetry.Span{Name: "llm.chat", DurationMs: 100}
		assert.Empty(t, r.Apply(span))
	}
	// one more, still short of the threshold sample count at observation time
	span := &telemetry.Span{Name: "llm.chat", DurationMs: 10_000}
	assert.Empty(t, r.Apply(span))
}

func TestDurationOutlierRule_FlagsExtremeOutlierAfterWarmup(t *testing.T) {
	r := NewDurationOutlierRule()
	for i := 0; i < 100; i++ {
		span := &telemetry.Span{Name: "llm.chat", DurationMs: 100}
		r.Apply(span)
	}

	outlier := &telemetry.Span{Name: "llm.chat", DurationMs: 100_000}
	hits := r.Apply(outlier)
	if assert.Len(t, hits, 1) {
		assert.Equal(t, "duration_outlier", hits[0].RuleName)
		assert.Equal(t, 50.0, hits[0].Score)
	}
}

func TestDurationOutlierRule_KeepsSeparateStatsPerName(t *testing.T) {
	r := NewDurationOutlierRule()
	for i := 0; i < 100; i++ {
		r.Apply(&telemetry.Span{Name: "fast.op", DurationMs: 10})
	}
	// A different name with no history yet should not be flagged just
	// because "fast.op" has a tight distribution.
	assert.Empty(t, r.Apply(&telemetry.Span{Name: "slow.op", DurationMs: 10_000}))
}
