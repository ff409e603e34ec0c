// Package wire implements the EventBus payload codecs §6 fixes: MessagePack
// for span messages (compact, binary), JSON for alert messages (human
// inspectable).
package wire

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	"brokle/internal/core/domain/telemetry"
	apperrors "brokle/pkg/errors"
)

// EncodeSpan renders a span to its compact binary interchange form for
// appending to spans.ingest.
func EncodeSpan(s *telemetry.Span) ([]byte, error) {
	b, err := msgpack.Marshal(s)
	if err != nil {
		return nil, apperrors.NewFatalError("wire: failed to encode span", err)
	}
	return b, nil
}

// DecodeSpan is the consumer-side counterpart of EncodeSpan. A decode
// failure is a Poison condition: the message will never successfully decode
// on retry, so callers should route it to the DLQ rather than retrying.
func DecodeSpan(payload []byte) (*telemetry.Span, error) {
	var s telemetry.Span
	if err := msgpack.Unmarshal(payload, &s); err != nil {
		return nil, apperrors.NewPoisonError("wire: failed to decode span", err)
	}
	return &s, nil
}

// EncodeAlert renders an alert to JSON for appending to alerts.live.
func EncodeAlert(a *telemetry.Alert) ([]byte, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, apperrors.NewFatalError("wire: failed to encode alert", err)
	}
	return b, nil
}

// DecodeAlert is BroadcastHub's counterpart of EncodeAlert.
func DecodeAlert(payload []byte) (*telemetry.Alert, error) {
	var a telemetry.Alert
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, apperrors.NewPoisonError("wire: failed to decode alert", err)
	}
	return &a, nil
}
