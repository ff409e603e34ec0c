package cost

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokle/internal/core/domain/telemetry"
	"brokle/internal/infrastructure/eventbus"
	"brokle/internal/infrastructure/wire"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeBus struct {
	dlq []eventbus.Message
}

func (f *fakeBus) Append(ctx context.Context, stream string, payload []byte) (string, error) {
	f.dlq = append(f.dlq, eventbus.Message{Payload: payload})
	return "0-1", nil
}
func (f *fakeBus) Read(ctx context.Context, stream, group, consumer string, maxCount int64, blockFor time.Duration) ([]eventbus.Message, error) {
	return nil, nil
}
func (f *fakeBus) Acknowledge(ctx context.Context, stream, group string, messageIDs []string) error {
	return nil
}
func (f *fakeBus) CreateGroup(ctx context.Context, stream, group string, startingPosition eventbus.StartingPosition) error {
	return nil
}
func (f *fakeBus) LastSuccessfulOperation() time.Time {
	return time.Now()
}

func encode(t *testing.T, span *telemetry.Span) []byte {
	t.Helper()
	b, err := wire.EncodeSpan(span)
	require.NoError(t, err)
	return b
}

func TestDeriveMetric_SkipsSpanWithoutModelAttribute(t *testing.T) {
	a := NewAggregator(&fakeBus{}, nil, NewPriceTable(), testLogger(), "c1")
	span := &telemetry.Span{SpanID: "s1", ProjectID: "p1", Attributes: map[string]string{}}

	_, ok := a.deriveMetric(context.Background(), eventbus.Message{ID: "1-1", Payload: encode(t, span)})
	assert.False(t, ok)
}

func TestDeriveMetric_ComputesCostForKnownModel(t *testing.T) {
	a := NewAggregator(&fakeBus{}, nil, NewPriceTable(), testLogger(), "c1")
	span := &telemetry.Span{
		SpanID:    "s1",
		ProjectID: "p1",
		Attributes: map[string]string{
			"llm.model":      "gpt-4o",
			"llm.tokens.in":  "1000",
			"llm.tokens.out": "500",
		},
	}

	metric, ok := a.deriveMetric(context.Background(), eventbus.Message{ID: "1-1", Payload: encode(t, span)})
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", metric.Model)
	assert.Equal(t, int64(1000), metric.PromptTokens)
	assert.Equal(t, int64(500), metric.CompletionTokens)
	assert.Equal(t, int64(1500), metric.TotalTokens)
	// 1000*0.005/1000 + 500*0.015/1000 = 0.005 + 0.0075 = 0.0125
	assert.InDelta(t, 0.0125, metric.CostUSD, 1e-9)
}

func TestDeriveMetric_ComputesScenario1FigureForGPT4(t *testing.T) {
	a := NewAggregator(&fakeBus{}, nil, NewPriceTable(), testLogger(), "c1")
	span := &telemetry.Span{
		SpanID:    "s1",
		ProjectID: "p1",
		Attributes: map[string]string{
			"llm.model":      "gpt-4",
			"llm.tokens.in":  "100",
			"llm.tokens.out": "50",
		},
	}

	metric, ok := a.deriveMetric(context.Background(), eventbus.Message{ID: "1-1", Payload: encode(t, span)})
	require.True(t, ok)
	// 100*0.03/1000 + 50*0.06/1000 = 0.003 + 0.003 = 0.006, per spec.md's
	// happy-path scenario.
	assert.InDelta(t, 0.006, metric.CostUSD, 1e-9)
}

func TestDeriveMetric_UnknownModelYieldsZeroCost(t *testing.T) {
	a := NewAggregator(&fakeBus{}, nil, NewPriceTable(), testLogger(), "c1")
	span := &telemetry.Span{
		SpanID:    "s1",
		ProjectID: "p1",
		Attributes: map[string]string{
			"llm.model":      "totally-unknown-model",
			"llm.tokens.in":  "100",
			"llm.tokens.out": "100",
		},
	}

	metric, ok := a.deriveMetric(context.Background(), eventbus.Message{ID: "1-1", Payload: encode(t, span)})
	require.True(t, ok)
	assert.Equal(t, 0.0, metric.CostUSD)
}

func TestDeriveMetric_MissingTokenAttributesDefaultToZero(t *testing.T) {
	a := NewAggregator(&fakeBus{}, nil, NewPriceTable(), testLogger(), "c1")
	span := &telemetry.Span{
		SpanID:     "s1",
		ProjectID:  "p1",
		Attributes: map[string]string{"llm.model": "gpt-4o"},
	}

	metric, ok := a.deriveMetric(context.Background(), eventbus.Message{ID: "1-1", Payload: encode(t, span)})
	require.True(t, ok)
	assert.Equal(t, int64(0), metric.TotalTokens)
	assert.Equal(t, 0.0, metric.CostUSD)
}

func TestDeriveMetric_DecodeFailureRoutesToDLQ(t *testing.T) {
	bus := &fakeBus{}
	a := NewAggregator(bus, nil, NewPriceTable(), testLogger(), "c1")

	_, ok := a.deriveMetric(context.Background(), eventbus.Message{ID: "1-1", Payload: []byte("garbage")})
	assert.False(t, ok)
	assert.Len(t, bus.dlq, 1)
}
