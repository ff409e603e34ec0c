package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokle/internal/infrastructure/keydirectory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	records []keydirectory.ProjectKeyRecord
}

func (f *fakeStore) LookupAllProjectKeys(ctx context.Context) ([]keydirectory.ProjectKeyRecord, error) {
	return f.records, nil
}

func TestRequireAPIKey_MissingHeaderRejectedWith401(t *testing.T) {
	dir, err := keydirectory.New(&fakeStore{}, 0)
	require.NoError(t, err)
	m := NewKeyAuthMiddleware(dir)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/traces", nil)

	m.RequireAPIKey()(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.True(t, c.IsAborted())
}

func TestRequireAPIKey_MalformedKeyRejectedWithoutStoreAccess(t *testing.T) {
	store := &fakeStore{}
	dir, err := keydirectory.New(store, 0)
	require.NoError(t, err)
	m := NewKeyAuthMiddleware(dir)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/traces", nil)
	c.Request.Header.Set("X-API-Key", "too-short")

	m.RequireAPIKey()(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
