package ingress

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokle/internal/infrastructure/eventbus"
	"brokle/internal/infrastructure/wire"
	"brokle/internal/transport/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeBus struct {
	appended [][]byte
	failNext bool
}

func (f *fakeBus) Append(ctx context.Context, stream string, payload []byte) (string, error) {
	if f.failNext {
		return "", assert.AnError
	}
	f.appended = append(f.appended, payload)
	return "0-1", nil
}
func (f *fakeBus) Read(ctx context.Context, stream, group, consumer string, maxCount int64, blockFor time.Duration) ([]eventbus.Message, error) {
	return nil, nil
}
func (f *fakeBus) Acknowledge(ctx context.Context, stream, group string, messageIDs []string) error {
	return nil
}
func (f *fakeBus) LastSuccessfulOperation() time.Time {
	return time.Now()
}
func (f *fakeBus) CreateGroup(ctx context.Context, stream, group string, startingPosition eventbus.StartingPosition) error {
	return nil
}

func newTestContext(body []byte, gzipped bool) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var buf bytes.Buffer
	if gzipped {
		gz := gzip.NewWriter(&buf)
		gz.Write(body)
		gz.Close()
	} else {
		buf.Write(body)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/traces", &buf)
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}
	c.Request = req
	c.Set(middleware.ProjectIDContextKey, "proj-1")
	return c, w
}

func validSpanJSON() []byte {
	b, _ := json.Marshal(map[string]any{
		"span_id":    "s1",
		"trace_id":   "t1",
		"name":       "llm.chat",
		"start_time_ns": 1,
		"end_time_ns":   2,
	})
	return b
}

func TestIngest_SingleSpanAccepted(t *testing.T) {
	bus := &fakeBus{}
	h := NewHandler(bus, testLogger(), Config{})

	c, w := newTestContext(validSpanJSON(), false)
	h.Ingest(c)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, bus.appended, 1)
}

func TestIngest_ListOfSpansAccepted(t *testing.T) {
	bus := &fakeBus{}
	h := NewHandler(bus, testLogger(), Config{})

	body, _ := json.Marshal([]json.RawMessage{validSpanJSON(), validSpanJSON()})
	c, w := newTestContext(body, false)
	h.Ingest(c)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, bus.appended, 2)
}

func TestIngest_WrappedSpansShapeAccepted(t *testing.T) {
	bus := &fakeBus{}
	h := NewHandler(bus, testLogger(), Config{})

	body, _ := json.Marshal(map[string]any{"spans": []json.RawMessage{validSpanJSON()}})
	c, w := newTestContext(body, false)
	h.Ingest(c)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, bus.appended, 1)
}

func TestIngest_GzipBodyDecompressedAndAccepted(t *testing.T) {
	bus := &fakeBus{}
	h := NewHandler(bus, testLogger(), Config{})

	c, w := newTestContext(validSpanJSON(), true)
	h.Ingest(c)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, bus.appended, 1)
}

func TestIngest_MalformedJSONRejectedWith400(t *testing.T) {
	bus := &fakeBus{}
	h := NewHandler(bus, testLogger(), Config{})

	c, w := newTestContext([]byte("not json"), false)
	h.Ingest(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, bus.appended)
}

func TestIngest_OversizedBodyRejectedWith413(t *testing.T) {
	bus := &fakeBus{}
	h := NewHandler(bus, testLogger(), Config{MaxBodyBytes: 10})

	c, w := newTestContext(validSpanJSON(), false)
	h.Ingest(c)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestIngest_InvalidSpanDiscardedButBatchStillSucceeds(t *testing.T) {
	bus := &fakeBus{}
	h := NewHandler(bus, testLogger(), Config{})

	invalid, _ := json.Marshal(map[string]any{"span_id": "", "trace_id": "t1"})
	body, _ := json.Marshal([]json.RawMessage{invalid, validSpanJSON()})
	c, w := newTestContext(body, false)
	h.Ingest(c)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, bus.appended, 1)
}

func TestIngest_AllSpansInvalidRejectedWith400(t *testing.T) {
	bus := &fakeBus{}
	h := NewHandler(bus, testLogger(), Config{})

	invalid, _ := json.Marshal(map[string]any{"span_id": "", "trace_id": "t1"})
	c, w := newTestContext(invalid, false)
	h.Ingest(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngest_MissingProjectContextRejectedWith401(t *testing.T) {
	bus := &fakeBus{}
	h := NewHandler(bus, testLogger(), Config{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(http.MethodPost, "/v1/traces", bytes.NewReader(validSpanJSON()))
	c.Request = req

	h.Ingest(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIngest_ProjectIDOverwrittenFromAuthContext(t *testing.T) {
	bus := &fakeBus{}
	h := NewHandler(bus, testLogger(), Config{})

	spoofed, _ := json.Marshal(map[string]any{
		"span_id": "s1", "trace_id": "t1", "project_id": "attacker-project",
		"start_time_ns": 1, "end_time_ns": 2,
	})
	c, w := newTestContext(spoofed, false)
	h.Ingest(c)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, bus.appended, 1)

	decoded, err := wire.DecodeSpan(bus.appended[0])
	require.NoError(t, err)
	assert.Equal(t, "proj-1", decoded.ProjectID)
}

func TestDecodeBatch_EmptyArrayYieldsNoSpans(t *testing.T) {
	specs, err := decodeBatch([]byte("[]"))
	require.NoError(t, err)
	assert.Empty(t, specs)
}
