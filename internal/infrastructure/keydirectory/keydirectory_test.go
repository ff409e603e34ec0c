package keydirectory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	records []ProjectKeyRecord
	calls   int
}

func (f *fakeStore) LookupAllProjectKeys(ctx context.Context) ([]ProjectKeyRecord, error) {
	f.calls++
	return f.records, nil
}

func TestResolve_RejectsMalformedKeyWithoutStoreAccess(t *testing.T) {
	store := &fakeStore{}
	kd, err := New(store, 0)
	require.NoError(t, err)

	_, err = kd.Resolve(context.Background(), "too-short")
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.Equal(t, 0, store.calls)
}

func TestResolve_BoundaryLength27ReachesSlowPath(t *testing.T) {
	// "ak_" + 24 chars = 27, the shortest legal key per §4.2.
	key := "ak_" + strings.Repeat("a", 24)
	require.Len(t, key, 27)

	hash, err := HashVerifier(key)
	require.NoError(t, err)

	store := &fakeStore{records: []ProjectKeyRecord{{ProjectID: "proj_1", PasswordVerifierHash: hash}}}
	kd, err := New(store, 0)
	require.NoError(t, err)

	projectID, err := kd.Resolve(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "proj_1", projectID)
	assert.Equal(t, 1, store.calls)
}

func TestResolve_BoundaryLength26RejectsWithNoLookup(t *testing.T) {
	key := "ak_" + strings.Repeat("a", 23) // length 26
	require.Len(t, key, 26)

	store := &fakeStore{}
	kd, err := New(store, 0)
	require.NoError(t, err)

	_, err = kd.Resolve(context.Background(), key)
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.Equal(t, 0, store.calls)
}

func TestResolve_SlowPathRunsAtMostOncePerKey(t *testing.T) {
	key := "ak_" + strings.Repeat("b", 30)
	hash, err := HashVerifier(key)
	require.NoError(t, err)

	store := &fakeStore{records: []ProjectKeyRecord{{ProjectID: "proj_2", PasswordVerifierHash: hash}}}
	kd, err := New(store, 0)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		projectID, err := kd.Resolve(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, "proj_2", projectID)
	}
	// The metadata store is consulted once to populate the verifier set, not
	// once per Resolve call, because the fast-path cache hits thereafter.
	assert.Equal(t, 1, store.calls)
}

func TestResolve_UnknownKeyIsNegativelyCached(t *testing.T) {
	key := "ak_" + strings.Repeat("c", 30)
	store := &fakeStore{}
	kd, err := New(store, 0)
	require.NoError(t, err)

	_, err = kd.Resolve(context.Background(), key)
	assert.ErrorIs(t, err, ErrUnknownKey)

	_, err = kd.Resolve(context.Background(), key)
	assert.ErrorIs(t, err, ErrUnknownKey)
	// Second call hits the negative cache entry the first call stored for
	// this key, so the verifiers are not re-scanned.
	assert.Equal(t, 1, store.calls)
}
