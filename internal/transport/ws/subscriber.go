package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"brokle/internal/core/domain/telemetry"
)

const (
	pingInterval       = 25 * time.Second
	idleCloseTimeout   = 60 * time.Second
	maxControlMessage  = 4 * 1024
	maxConsecutiveTimeouts = 3
	defaultWriteTimeout = 5 * time.Second
)

// wsConn is the subset of *websocket.Conn the Subscriber needs, narrowed so
// tests can substitute a fake transport.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPingHandler(h func(appData string) error)
	Close() error
}

// Subscriber is one BroadcastHub client connection. Outgoing alerts queue in
// a bounded, drop-oldest buffer per §4.7 ("If the queue is full, the OLDEST
// queued message is dropped... the newest is enqueued"), a deliberate
// departure from the teacher's Broadcaster, which drops the newest event on
// a full channel (see DESIGN.md).
type Subscriber struct {
	id            string
	projectFilter string
	conn          wsConn
	logger        *logrus.Logger

	mu             sync.Mutex
	queue          []*telemetry.Alert
	capacity       int
	dropCount      int64
	closed         bool
	closeCh        chan struct{}
	consecutiveTimeouts int
	writeTimeout        time.Duration
}

func newSubscriber(id, projectFilter string, conn wsConn, capacity int, logger *logrus.Logger) *Subscriber {
	s := &Subscriber{
		id:            id,
		projectFilter: projectFilter,
		conn:          conn,
		logger:        logger,
		capacity:      capacity,
		closeCh:       make(chan struct{}),
		writeTimeout:  defaultWriteTimeout,
	}
	go s.writePump()
	go s.readPump()
	return s
}

// enqueue appends alert to the outgoing queue, dropping the oldest entry
// when at capacity, per §4.7.
func (s *Subscriber) enqueue(alert *telemetry.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if len(s.queue) >= s.capacity {
		s.queue = s.queue[1:]
		s.dropCount++
	}
	s.queue = append(s.queue, alert)
}

func (s *Subscriber) dequeueAll() []*telemetry.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

// writePump drains the queue to the connection. A write timeout counts as a
// single "timeout"; three consecutive timeouts close the connection per
// §4.7's disconnect rule. A successful write resets the counter.
func (s *Subscriber) writePump() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
			alerts := s.dequeueAll()
			for _, alert := range alerts {
				payload, err := json.Marshal(alert)
				if err != nil {
					continue
				}
				if err := s.writeWithTimeout(payload); err != nil {
					s.mu.Lock()
					s.consecutiveTimeouts++
					shouldClose := s.consecutiveTimeouts >= maxConsecutiveTimeouts
					s.mu.Unlock()
					if shouldClose {
						s.logger.WithField("subscriber_id", s.id).Warn("broadcast: closing slow consumer after consecutive write timeouts")
						s.close()
						return
					}
					continue
				}
				s.mu.Lock()
				s.consecutiveTimeouts = 0
				s.mu.Unlock()
			}
		}
	}
}

func (s *Subscriber) writeWithTimeout(payload []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// readPump enforces the control protocol: 60s idle-close, 4KiB control
// message ceiling, and responding to the subscriber's 25s ping cadence with
// a pong, per §4.7. Messages over maxControlMessage are rejected by
// SetReadLimit, which closes the connection from ReadMessage's side.
func (s *Subscriber) readPump() {
	s.conn.SetReadLimit(maxControlMessage)
	_ = s.conn.SetReadDeadline(time.Now().Add(idleCloseTimeout))
	s.conn.SetPingHandler(func(appData string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(idleCloseTimeout))
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(defaultWriteTimeout))
	})

	for {
		_, _, err := s.conn.ReadMessage()
		if err != nil {
			s.close()
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(idleCloseTimeout))
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.closeCh)
	_ = s.conn.Close()
}

func (s *Subscriber) DropCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropCount
}
