// Package telemetry holds the pipeline's data model: spans accepted at
// ingress and the alerts/cost metrics derived from them by the workers.
package telemetry

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	apperrors "brokle/pkg/errors"
)

const (
	// MaxIDLength bounds span_id and trace_id per the wire contract.
	MaxIDLength = 128
	// MaxAttributes bounds the number of attribute entries on a span.
	MaxAttributes = 256
	// MaxAttributeValueBytes bounds a single attribute value.
	MaxAttributeValueBytes = 8 * 1024
	// MaxEvents bounds the number of span events.
	MaxEvents = 128
)

// Status is the terminal outcome of a span.
type Status string

const (
	StatusOK     Status = "OK"
	StatusError  Status = "ERROR"
	StatusUnset  Status = "UNSET"
)

func (s Status) valid() bool {
	switch s {
	case StatusOK, StatusError, StatusUnset:
		return true
	default:
		return false
	}
}

// Event is a timestamped occurrence within a span's lifetime.
type Event struct {
	Name       string            `json:"name"`
	TimestampNs int64            `json:"timestamp_ns"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Span is one unit of agent work, as accepted by Ingress and carried through
// the EventBus to every consumer. ProjectID is set by Ingress from the
// resolved API key and is never trusted from client input.
type Span struct {
	SpanID       string            `msgpack:"span_id" json:"span_id"`
	TraceID      string            `msgpack:"trace_id" json:"trace_id"`
	ParentSpanID string            `msgpack:"parent_span_id,omitempty" json:"parent_span_id,omitempty"`
	ProjectID    string            `msgpack:"project_id" json:"project_id"`
	Name         string            `msgpack:"name" json:"name"`
	ServiceName  string            `msgpack:"service_name" json:"service_name"`
	Status       Status            `msgpack:"status" json:"status"`
	StartTimeNs  int64             `msgpack:"start_time" json:"start_time"`
	EndTimeNs    int64             `msgpack:"end_time" json:"end_time"`
	DurationMs   float64           `msgpack:"duration_ms" json:"duration_ms"`
	Attributes   map[string]string `msgpack:"attributes,omitempty" json:"attributes,omitempty"`
	Events       []Event           `msgpack:"events,omitempty" json:"events,omitempty"`
}

// Validate checks the span against the invariants in §3: ID length and
// printability, start/end ordering, attribute/event bounds. It also fills in
// DurationMs when the caller left it zero, per the recompute-on-ingest rule.
// It never mutates ProjectID — that overwrite is Ingress's responsibility,
// performed after validation so a forged project_id cannot slip past it.
func (s *Span) Validate() error {
	if s.SpanID == "" || len(s.SpanID) > MaxIDLength || !utf8.ValidString(s.SpanID) || !printable(s.SpanID) {
		return apperrors.NewValidationError("invalid span_id", "must be a nonempty printable string of at most 128 characters")
	}
	if s.TraceID == "" || len(s.TraceID) > MaxIDLength || !utf8.ValidString(s.TraceID) || !printable(s.TraceID) {
		return apperrors.NewValidationError("invalid trace_id", "must be a nonempty printable string of at most 128 characters")
	}
	if s.Status == "" {
		s.Status = StatusUnset
	}
	if !s.Status.valid() {
		return apperrors.NewValidationError("invalid status", fmt.Sprintf("status %q is not one of OK, ERROR, UNSET", s.Status))
	}
	if s.StartTimeNs > s.EndTimeNs {
		return apperrors.NewValidationError("invalid span timing", "start_time must be <= end_time")
	}
	if len(s.Attributes) > MaxAttributes {
		return apperrors.NewValidationError("too many attributes", fmt.Sprintf("attributes has %d entries, limit %d", len(s.Attributes), MaxAttributes))
	}
	for k, v := range s.Attributes {
		if len(v) > MaxAttributeValueBytes {
			return apperrors.NewValidationError("attribute value too large", fmt.Sprintf("attribute %q exceeds %d bytes", k, MaxAttributeValueBytes))
		}
	}
	if len(s.Events) > MaxEvents {
		return apperrors.NewValidationError("too many events", fmt.Sprintf("events has %d entries, limit %d", len(s.Events), MaxEvents))
	}

	recomputed := float64(s.EndTimeNs-s.StartTimeNs) / 1e6
	if s.DurationMs == 0 {
		s.DurationMs = recomputed
	}
	return nil
}

func printable(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// CoerceAttributeValue renders an arbitrary decoded JSON scalar or compound
// value to the canonical string form the wire contract requires: scalars
// stringify directly, compounds are re-encoded as JSON text. Per §9's Dynamic
// Typing note, this is how the Ingress collapses a client's loosely-typed
// attribute map into map[string]string before validation.
func CoerceAttributeValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
