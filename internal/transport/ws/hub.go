// Package ws implements BroadcastHub: the EventBus consumer that fans
// alerts.live out to subscribed long-lived client connections, filtered by
// project, per §4.7.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"brokle/internal/core/domain/telemetry"
	"brokle/internal/infrastructure/eventbus"
	"brokle/internal/infrastructure/wire"
)

const (
	streamAlertsLive = "alerts.live"
	consumerGroup    = "broadcast"

	defaultQueueSize = 256
)

// Hub owns the subscriber registry and the alerts.live consumer loop,
// generalizing the teacher's Broadcaster (channels/subscribers/eventLoop)
// down to this spec's single implicit "channel" (all alerts), scoped per
// subscriber by an optional project filter instead of named channels.
type Hub struct {
	bus    eventbus.EventBus
	logger *logrus.Logger

	consumerName string
	pollInterval time.Duration
	queueSize    int

	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	lastSuccessfulOp atomicTime
}

func NewHub(bus eventbus.EventBus, logger *logrus.Logger, consumerName string) *Hub {
	return &Hub{
		bus:          bus,
		logger:       logger,
		consumerName: consumerName,
		pollInterval: 500 * time.Millisecond,
		queueSize:    defaultQueueSize,
		subscribers:  make(map[string]*Subscriber),
	}
}

func (h *Hub) EnsureGroup(ctx context.Context) error {
	return h.bus.CreateGroup(ctx, streamAlertsLive, consumerGroup, eventbus.NewOnly)
}

// Subscribe registers a subscriber, bounded at queueSize outgoing messages,
// per §4.7. projectFilter is nullable; empty string means "no filter".
func (h *Hub) Subscribe(subscriberID, projectFilter string, conn wsConn) *Subscriber {
	sub := newSubscriber(subscriberID, projectFilter, conn, h.queueSize, h.logger)

	h.mu.Lock()
	h.subscribers[subscriberID] = sub
	h.mu.Unlock()

	return sub
}

// Unsubscribe removes a subscriber atomically, per §4.7.
func (h *Hub) Unsubscribe(subscriberID string) {
	h.mu.Lock()
	sub, ok := h.subscribers[subscriberID]
	delete(h.subscribers, subscriberID)
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Run consumes alerts.live and fans each alert out to every subscriber whose
// project filter matches, acknowledging once the fan-out attempt completes
// (delivery itself is best-effort per subscriber, so ack does not wait on
// individual subscriber queues draining).
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := h.bus.Read(ctx, streamAlertsLive, consumerGroup, h.consumerName, 100, h.pollInterval)
		if err != nil {
			h.logger.WithError(err).Warn("broadcast: read failed, retrying next cycle")
			continue
		}

		for _, msg := range msgs {
			h.process(ctx, msg)
		}
	}
}

func (h *Hub) process(ctx context.Context, msg eventbus.Message) {
	alert, err := wire.DecodeAlert(msg.Payload)
	if err != nil {
		_ = eventbus.MoveToDLQ(ctx, h.bus, streamAlertsLive, consumerGroup, msg, 1, err, time.Now())
		return
	}

	h.fanOut(alert)

	if err := h.bus.Acknowledge(ctx, streamAlertsLive, consumerGroup, []string{msg.ID}); err != nil {
		h.logger.WithError(err).Warn("broadcast: ack failed, will redeliver")
		return
	}
	h.lastSuccessfulOp.store(time.Now())
}

func (h *Hub) fanOut(alert *telemetry.Alert) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		if sub.projectFilter != "" && sub.projectFilter != alert.ProjectID {
			continue
		}
		sub.enqueue(alert)
	}
}

func (h *Hub) LastSuccessfulOperation() time.Time {
	return h.lastSuccessfulOp.load()
}

// atomicTime is a tiny helper matching the lastSuccessfulOp pattern used by
// the other consumer services in this repo.
type atomicTime struct {
	mu sync.RWMutex
	t  time.Time
}

func (a *atomicTime) store(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomicTime) load() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.t
}
