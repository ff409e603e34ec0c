package persistence

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokle/internal/core/domain/telemetry"
	"brokle/internal/infrastructure/eventbus"
	"brokle/internal/infrastructure/spill"
	"brokle/internal/infrastructure/wire"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeBus is a minimal in-memory EventBus stand-in so the Writer's
// accumulate/flush logic can be exercised without a real Redis instance.
type fakeBus struct {
	pending []eventbus.Message
	acked   [][]string
	dlq     []eventbus.Message
}

func (f *fakeBus) Append(ctx context.Context, stream string, payload []byte) (string, error) {
	f.dlq = append(f.dlq, eventbus.Message{Payload: payload})
	return "0-1", nil
}

func (f *fakeBus) Read(ctx context.Context, stream, group, consumer string, maxCount int64, blockFor time.Duration) ([]eventbus.Message, error) {
	out := f.pending
	f.pending = nil
	return out, nil
}

func (f *fakeBus) Acknowledge(ctx context.Context, stream, group string, messageIDs []string) error {
	f.acked = append(f.acked, messageIDs)
	return nil
}

func (f *fakeBus) CreateGroup(ctx context.Context, stream, group string, startingPosition eventbus.StartingPosition) error {
	return nil
}

func (f *fakeBus) LastSuccessfulOperation() time.Time {
	return time.Now()
}

func TestAccumulate_DecodeFailureRoutesToDLQAndSkipsBuffer(t *testing.T) {
	bus := &fakeBus{}
	w := NewWriter(bus, nil, testLogger(), Config{})

	buffer := w.accumulate(nil, []eventbus.Message{{ID: "1-1", Payload: []byte("not msgpack")}})

	assert.Empty(t, buffer)
	assert.Len(t, bus.dlq, 1)
}

func TestAccumulate_SkipsAlreadySeenMessageID(t *testing.T) {
	bus := &fakeBus{}
	w := NewWriter(bus, nil, testLogger(), Config{})
	w.recentIDs.Add("1-1", struct{}{})

	span := &telemetry.Span{SpanID: "s1", TraceID: "t1", ProjectID: "p1", Name: "op", StartTimeNs: 1, EndTimeNs: 2}
	payload, err := wire.EncodeSpan(span)
	require.NoError(t, err)

	buffer := w.accumulate(nil, []eventbus.Message{{ID: "1-1", Payload: payload}})

	assert.Empty(t, buffer)
	assert.Len(t, bus.acked, 1)
}

func TestAccumulate_BuffersValidSpan(t *testing.T) {
	bus := &fakeBus{}
	w := NewWriter(bus, nil, testLogger(), Config{})

	span := &telemetry.Span{SpanID: "s1", TraceID: "t1", ProjectID: "p1", Name: "op", StartTimeNs: 1, EndTimeNs: 2}
	payload, err := wire.EncodeSpan(span)
	require.NoError(t, err)

	buffer := w.accumulate(nil, []eventbus.Message{{ID: "1-1", Payload: payload}})

	require.Len(t, buffer, 1)
	assert.Equal(t, "s1", buffer[0].span.SpanID)
}

func TestSpillOldest_WritesAndDrainRestoresRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spill.agsp")

	bus := &fakeBus{}
	w := NewWriter(bus, nil, testLogger(), Config{SpillPath: path})

	span := &telemetry.Span{SpanID: "s1", TraceID: "t1", ProjectID: "p1", Name: "op", StartTimeNs: 1, EndTimeNs: 2}
	w.spillOldest([]bufferedSpan{{messageID: "1-1", span: span}})

	// DrainSpill requires a real SpanRepository to insert into; here we only
	// assert the file was created and is readable with the expected record.
	r, err := spill.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	payload, err := r.Next()
	require.NoError(t, err)

	decoded, err := wire.DecodeSpan(payload)
	require.NoError(t, err)
	assert.Equal(t, "s1", decoded.SpanID)
}
