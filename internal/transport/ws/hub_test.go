package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokle/internal/core/domain/telemetry"
	"brokle/internal/infrastructure/eventbus"
	"brokle/internal/infrastructure/wire"
)

type fakeBus struct {
	acked [][]string
}

func (f *fakeBus) Append(ctx context.Context, stream string, payload []byte) (string, error) {
	return "0-1", nil
}
func (f *fakeBus) Read(ctx context.Context, stream, group, consumer string, maxCount int64, blockFor time.Duration) ([]eventbus.Message, error) {
	return nil, nil
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

func TestHub_FanOutFiltersByProject(t *testing.T) {
	bus := &fakeBus{}
	hub := NewHub(bus, testLogger(), "c1")

	connA := &fakeConn{}
	connB := &fakeConn{}
	hub.subscribers["a"] = newSubscriber("a", "proj-1", connA, 16, testLogger())
	hub.subscribers["b"] = newSubscriber("b", "proj-2", connB, 16, testLogger())
	defer hub.subscribers["a"].close()
	defer hub.subscribers["b"].close()

	alert := &telemetry.Alert{ID: "alert-1", ProjectID: "proj-1"}
	payload, err := wire.EncodeAlert(alert)
	require.NoError(t, err)

	hub.process(context.Background(), eventbus.Message{ID: "1-1", Payload: payload})

	require.Eventually(t, func() bool { return connA.writtenCount() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, connB.writtenCount())
	assert.Len(t, bus.acked, 1)
}

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	bus := &fakeBus{}
	hub := NewHub(bus, testLogger(), "c1")

	hub.Subscribe("sub-1", "", &fakeConn{})
	assert.Equal(t, 1, hub.SubscriberCount())

	hub.Unsubscribe("sub-1")
	assert.Equal(t, 0, hub.SubscriberCount())
}
