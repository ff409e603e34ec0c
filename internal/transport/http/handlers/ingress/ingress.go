// Package ingress implements the Ingress component's single public
// operation, `ingest`, per §4.3: authenticated span intake over HTTP.
package ingress

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"brokle/internal/core/domain/telemetry"
	"brokle/internal/infrastructure/eventbus"
	"brokle/internal/infrastructure/keydirectory"
	"brokle/internal/infrastructure/wire"
	"brokle/internal/transport/http/middleware"
	apperrors "brokle/pkg/errors"
	"brokle/pkg/response"
)

const streamSpansIngest = "spans.ingest"

// defaultMaxBodyBytes is the post-decompression ceiling, per §4.3 (default
// 5 MiB), overridable via Config.MaxBodyBytes.
const defaultMaxBodyBytes = 5 * 1024 * 1024

// rawSpan mirrors the client-facing JSON shape for one span, kept separate
// from the internal telemetry.Span so wire-format drift does not leak into
// the domain model, following the teacher's handler/domain separation in
// internal/transport/http/handlers/observability/telemetry.go.
type rawSpan struct {
	SpanID       string            `json:"span_id"`
	TraceID      string            `json:"trace_id"`
	ParentSpanID string            `json:"parent_span_id"`
	ProjectID    string            `json:"project_id"`
	Name         string            `json:"name"`
	ServiceName  string            `json:"service_name"`
	Status       string            `json:"status"`
	StartTimeNs  int64             `json:"start_time_ns"`
	EndTimeNs    int64             `json:"end_time_ns"`
	DurationMs   float64           `json:"duration_ms"`
	Attributes   map[string]any    `json:"attributes"`
	Events       []rawEvent        `json:"events"`
}

type rawEvent struct {
	Name        string         `json:"name"`
	TimestampNs int64          `json:"timestamp_ns"`
	Attributes  map[string]any `json:"attributes"`
}

// batchShape accepts the three input shapes §4.3 requires: a single span
// object, a bare list, or {"spans": [...]}.
type batchShape struct {
	Spans []rawSpan `json:"spans"`
}

type Config struct {
	MaxBodyBytes int64
}

// Handler wires the Ingress algorithm together: it reads the project that
// the key-auth middleware resolved through KeyDirectory, and appends
// validated spans to the EventBus, per §4.3.
type Handler struct {
	bus          eventbus.EventBus
	logger       *logrus.Logger
	maxBodyBytes int64
}

func NewHandler(bus eventbus.EventBus, logger *logrus.Logger, cfg Config) *Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Handler{bus: bus, logger: logger, maxBodyBytes: maxBody}
}

// Ingest implements §4.3's six-step algorithm.
func (h *Handler) Ingest(c *gin.Context) {
	projectID, ok := c.Get(middleware.ProjectIDContextKey)
	projectIDStr, _ := projectID.(string)
	if !ok || projectIDStr == "" {
		response.IngressError(c, apperrors.NewUnauthorizedError("missing authenticated project"))
		return
	}

	body, err := h.readBody(c.Request)
	if err != nil {
		response.IngressError(c, err)
		return
	}

	specs, err := decodeBatch(body)
	if err != nil {
		response.IngressError(c, apperrors.NewValidationError("failed to decode request body", err.Error()))
		return
	}
	if len(specs) == 0 {
		response.IngressError(c, apperrors.NewValidationError("no recognizable span objects", ""))
		return
	}

	queued, lastErr := h.appendValidSpans(c.Request.Context(), specs, projectIDStr)
	if queued == 0 {
		var status error = apperrors.NewValidationError("no span in the batch validated and appended", "")
		if lastErr != nil {
			status = lastErr
		}
		response.IngressError(c, status)
		return
	}

	response.IngressAccepted(c, queued)
}

// readBody enforces the hard byte ceiling with a limiting reader BEFORE and
// AFTER gzip decompression, per §4.3(1)-(2). Content-Length is advisory only.
func (h *Handler) readBody(r *http.Request) ([]byte, error) {
	limited := io.LimitReader(r.Body, h.maxBodyBytes+1)

	var reader io.Reader = limited
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(limited)
		if err != nil {
			return nil, apperrors.NewValidationError("failed to open gzip body", err.Error())
		}
		defer gz.Close()
		reader = io.LimitReader(gz, h.maxBodyBytes+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, apperrors.NewValidationError("failed to read request body", err.Error())
	}
	if int64(len(body)) > h.maxBodyBytes {
		return nil, apperrors.NewCapacityError("request body exceeds the configured maximum size")
	}
	return body, nil
}

// decodeBatch accepts a single span object, a bare array, or {"spans": [...]},
// per §4.3(3).
func decodeBatch(body []byte) ([]rawSpan, error) {
	trimmed := leadingNonSpace(body)

	switch trimmed {
	case '[':
		var list []rawSpan
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, err
		}
		return list, nil
	case '{':
		var wrapped batchShape
		if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Spans != nil {
			return wrapped.Spans, nil
		}
		var single rawSpan
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, err
		}
		return []rawSpan{single}, nil
	default:
		return nil, apperrors.NewValidationError("request body is not a JSON object or array", "")
	}
}

func leadingNonSpace(body []byte) byte {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b
		}
	}
	return 0
}

// appendValidSpans validates each candidate span against §3's invariants,
// overwrites project_id with the resolved one, and appends valid spans
// individually to spans.ingest, per §4.3(4)-(5). Invalid spans are counted
// and discarded; per-span append failures produce a structured warning but
// do not fail the request if at least one span appended.
func (h *Handler) appendValidSpans(ctx context.Context, specs []rawSpan, projectID string) (int, error) {
	var queued int
	var lastErr error

	for _, raw := range specs {
		span := toDomainSpan(raw)
		span.ProjectID = projectID

		if err := span.Validate(); err != nil {
			h.logger.WithError(err).WithField("span_id", span.SpanID).Warn("ingress: discarding invalid span")
			lastErr = err
			continue
		}

		payload, err := wire.EncodeSpan(span)
		if err != nil {
			h.logger.WithError(err).Warn("ingress: failed to encode span for append")
			lastErr = err
			continue
		}

		if _, err := h.bus.Append(ctx, streamSpansIngest, payload); err != nil {
			h.logger.WithError(err).WithField("span_id", span.SpanID).Warn("ingress: failed to append span")
			lastErr = err
			continue
		}
		queued++
	}

	return queued, lastErr
}

func toDomainSpan(raw rawSpan) *telemetry.Span {
	attrs := make(map[string]string, len(raw.Attributes))
	for k, v := range raw.Attributes {
		attrs[k] = telemetry.CoerceAttributeValue(v)
	}

	events := make([]telemetry.Event, 0, len(raw.Events))
	for _, e := range raw.Events {
		eventAttrs := make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			eventAttrs[k] = telemetry.CoerceAttributeValue(v)
		}
		events = append(events, telemetry.Event{
			Name:        e.Name,
			TimestampNs: e.TimestampNs,
			Attributes:  eventAttrs,
		})
	}

	return &telemetry.Span{
		SpanID:       raw.SpanID,
		TraceID:      raw.TraceID,
		ParentSpanID: raw.ParentSpanID,
		ProjectID:    raw.ProjectID,
		Name:         raw.Name,
		ServiceName:  raw.ServiceName,
		Status:       telemetry.Status(raw.Status),
		StartTimeNs:  raw.StartTimeNs,
		EndTimeNs:    raw.EndTimeNs,
		DurationMs:   raw.DurationMs,
		Attributes:   attrs,
		Events:       events,
	}
}
