package spill

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.spill")

	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteRecord([]byte("span-1")))
	require.NoError(t, w.WriteRecord([]byte("span-2")))
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	rec1, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("span-1"), rec1)

	rec2, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("span-2"), rec2)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenReader_MissingFileReturnsNilWithoutError(t *testing.T) {
	r, err := OpenReader(filepath.Join(t.TempDir(), "missing.spill"))
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestAppend_ReusesExistingHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.spill")

	w1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w1.WriteRecord([]byte("a")))
	require.NoError(t, w1.Close())

	w2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w2.WriteRecord([]byte("b")))
	require.NoError(t, w2.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), first)

	second, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), second)
}
