package backend

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBackend(t *testing.T) Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	be, err := NewBoltBackend(Config{Path: path, CreateIfMissing: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = be.Close() })
	return be
}

func TestBoltBackendGetPutRoundTrip(t *testing.T) {
	be := openTestBackend(t)

	_, err := be.Get(DocStore, []byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, be.Put(DocStore, []byte("doc1"), []byte("body")))
	v, err := be.Get(DocStore, []byte("doc1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), v)
}

func TestBoltBackendDelete(t *testing.T) {
	be := openTestBackend(t)
	require.NoError(t, be.Put(DocStore, []byte("doc1"), []byte("body")))
	require.NoError(t, be.Delete(DocStore, []byte("doc1")))
	_, err := be.Get(DocStore, []byte("doc1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltBackendBatchIsAllOrNothing(t *testing.T) {
	be := openTestBackend(t)
	err := be.Batch([]Op{
		{Namespace: DocStore, Kind: OpPut, Key: []byte("a"), Value: []byte("1")},
		{Namespace: Namespace("not_a_real_bucket"), Kind: OpPut, Key: []byte("b"), Value: []byte("2")},
	})
	assert.Error(t, err)

	_, err = be.Get(DocStore, []byte("a"))
	assert.ErrorIs(t, err, ErrNotFound, "a partially applied batch must not leave earlier ops committed")
}

func TestBoltBackendRangeScanAscending(t *testing.T) {
	be := openTestBackend(t)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, be.Put(DocStore, []byte(k), []byte(k)))
	}

	scanner, err := be.RangeScan(DocStore, RangeOptions{Gte: []byte("b"), Lte: []byte("c")})
	require.NoError(t, err)
	defer scanner.Close()

	var keys []string
	for scanner.Next() {
		keys = append(keys, string(scanner.Row().Key))
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"b", "c"}, keys)
}

func TestBoltBackendRangeScanDescending(t *testing.T) {
	be := openTestBackend(t)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, be.Put(DocStore, []byte(k), []byte(k)))
	}

	scanner, err := be.RangeScan(DocStore, RangeOptions{Reverse: true, Lte: []byte("c")})
	require.NoError(t, err)
	defer scanner.Close()

	var keys []string
	for scanner.Next() {
		keys = append(keys, string(scanner.Row().Key))
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"c", "b", "a"}, keys)
}

func TestBoltBackendRangeScanLimit(t *testing.T) {
	be := openTestBackend(t)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, be.Put(DocStore, []byte(k), []byte(k)))
	}

	scanner, err := be.RangeScan(DocStore, RangeOptions{Limit: 2})
	require.NoError(t, err)
	defer scanner.Close()

	var keys []string
	for scanner.Next() {
		keys = append(keys, string(scanner.Row().Key))
	}
	assert.Equal(t, []string{"a", "b"}, keys)
}

func TestBoltBackendCreateIfMissingFalseRequiresExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.db")
	_, err := NewBoltBackend(Config{Path: path, CreateIfMissing: false})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBoltBackendDestroyRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "todestroy.db")
	be, err := NewBoltBackend(Config{Path: path, CreateIfMissing: true})
	require.NoError(t, err)
	require.NoError(t, be.Close())

	destroyer, ok := be.(Destroyer)
	require.True(t, ok)
	require.NoError(t, destroyer.Destroy(path))

	_, err = NewBoltBackend(Config{Path: path, CreateIfMissing: false})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFormatSizeClampsNegative(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = FormatSize(-5)
	})
}
