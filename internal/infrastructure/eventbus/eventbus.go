// Package eventbus implements the durable, ordered, consumer-group stream
// abstraction the pipeline is built on, backed by Redis Streams.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	apperrors "brokle/pkg/errors"
)

// StartingPosition selects where a new consumer group begins reading from.
type StartingPosition string

const (
	FromOldest StartingPosition = "from-oldest"
	NewOnly    StartingPosition = "new-only"
)

// Message is one delivered EventBus entry: an opaque, monotonically
// increasing message_id and the payload bytes appended by the producer.
type Message struct {
	ID      string
	Payload []byte
}

// EventBus is the append/read/acknowledge/create_group contract of §4.1.
type EventBus interface {
	Append(ctx context.Context, stream string, payload []byte) (string, error)
	Read(ctx context.Context, stream, group, consumer string, maxCount int64, blockFor time.Duration) ([]Message, error)
	Acknowledge(ctx context.Context, stream, group string, messageIDs []string) error
	CreateGroup(ctx context.Context, stream, group string, startingPosition StartingPosition) error

	// LastSuccessfulOperation reports when this EventBus last completed an
	// operation without an Unavailable error, for the /ready handler's
	// 30s-freshness check.
	LastSuccessfulOperation() time.Time
}

// RedisEventBus implements EventBus on top of Redis Streams, following the
// producer/consumer shape of the teacher's telemetry stream adapter: XAdd
// with an approximate MAXLEN bound for append, XReadGroup with BLOCK for
// read, XAck for acknowledge, and idempotent XGroupCreateMkStream for
// create_group.
type RedisEventBus struct {
	client redis.Cmdable
	logger *logrus.Logger
	maxLen int64

	opMu             sync.Mutex
	lastSuccessfulOp time.Time
}

// NewRedisEventBus builds an EventBus bounding every stream it appends to at
// approximately maxLen entries (0 disables trimming), per §4.1's capacity
// policy.
func NewRedisEventBus(client redis.Cmdable, logger *logrus.Logger, maxLen int64) *RedisEventBus {
	return &RedisEventBus{client: client, logger: logger, maxLen: maxLen}
}

// LastSuccessfulOperation reports when Append/Read/Acknowledge/CreateGroup
// last completed without an Unavailable error, for the /ready handler's
// 30s-freshness check.
func (b *RedisEventBus) LastSuccessfulOperation() time.Time {
	b.opMu.Lock()
	defer b.opMu.Unlock()
	return b.lastSuccessfulOp
}

func (b *RedisEventBus) markSuccess() {
	b.opMu.Lock()
	b.lastSuccessfulOp = time.Now()
	b.opMu.Unlock()
}

func (b *RedisEventBus) Append(ctx context.Context, stream string, payload []byte) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"payload": payload},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}

	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", apperrors.NewUnavailableError(fmt.Sprintf("eventbus: append to %s failed", stream), 5, err)
	}
	b.markSuccess()
	return id, nil
}

func (b *RedisEventBus) Read(ctx context.Context, stream, group, consumer string, maxCount int64, blockFor time.Duration) ([]Message, error) {
	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    maxCount,
		Block:    blockFor,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			b.markSuccess()
			return nil, nil
		}
		return nil, apperrors.NewUnavailableError(fmt.Sprintf("eventbus: read from %s/%s failed", stream, group), 5, err)
	}

	var out []Message
	for _, streamRes := range res {
		for _, xm := range streamRes.Messages {
			payload, _ := xm.Values["payload"].(string)
			out = append(out, Message{ID: xm.ID, Payload: []byte(payload)})
		}
	}
	b.markSuccess()
	return out, nil
}

func (b *RedisEventBus) Acknowledge(ctx context.Context, stream, group string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := b.client.XAck(ctx, stream, group, messageIDs...).Err(); err != nil {
		return apperrors.NewUnavailableError(fmt.Sprintf("eventbus: ack on %s/%s failed", stream, group), 5, err)
	}
	b.markSuccess()
	return nil
}

// CreateGroup is idempotent: a BUSYGROUP error (group already exists) is
// swallowed per §4.1's "fails silently if the group already exists" contract.
func (b *RedisEventBus) CreateGroup(ctx context.Context, stream, group string, startingPosition StartingPosition) error {
	start := "0"
	if startingPosition == NewOnly {
		start = "$"
	}

	err := b.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return apperrors.NewFatalError(fmt.Sprintf("eventbus: create_group %s/%s failed", stream, group), err)
	}

	b.logger.WithFields(logrus.Fields{"stream": stream, "group": group, "start": start}).
		Info("created consumer group")
	b.markSuccess()
	return nil
}

// DLQStreamName returns the dead-letter stream name for a given stream, per
// §7's `<name>.dlq` convention.
func DLQStreamName(stream string) string {
	return stream + ".dlq"
}

// ParseStreamLen parses a stream's approximate length from its decimal string
// form. No readiness check or other code in this repository calls it.
func ParseStreamLen(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
