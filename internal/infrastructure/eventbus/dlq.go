package eventbus

import (
	"context"
	"encoding/json"
	"time"

	apperrors "brokle/pkg/errors"
)

// DLQEnvelope wraps a poisoned message with its failure history, mirroring
// the teacher's moveToDLQ record shape in telemetry_stream_consumer.go.
type DLQEnvelope struct {
	OriginalID string    `json:"original_id"`
	Payload    []byte    `json:"payload"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	FailedAt   time.Time `json:"failed_at"`
}

// MoveToDLQ appends a poisoned message to <stream>.dlq and acknowledges it on
// the source stream/group so the pending list does not grow unbounded. The
// consumers call it on a message's first decode failure, passing attempts=1;
// no delivery count is kept, so a message is not retried before it is
// dead-lettered.
func MoveToDLQ(ctx context.Context, bus EventBus, stream, group string, msg Message, attempts int, reason error, now time.Time) error {
	envelope := DLQEnvelope{
		OriginalID: msg.ID,
		Payload:    msg.Payload,
		Reason:     reason.Error(),
		Attempts:   attempts,
		FailedAt:   now,
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return apperrors.NewFatalError("dlq: failed to encode envelope", err)
	}

	if _, err := bus.Append(ctx, DLQStreamName(stream), encoded); err != nil {
		return err
	}
	return bus.Acknowledge(ctx, stream, group, []string{msg.ID})
}
