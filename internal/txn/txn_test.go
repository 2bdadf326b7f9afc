package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.lanterndb.dev/lantern/internal/backend"
)

func newTestBackend(t *testing.T) backend.Backend {
	t.Helper()
	be, err := backend.NewBoltBackend(backend.Config{
		Path:            t.TempDir() + "/txn.db",
		CreateIfMissing: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = be.Close() })
	return be
}

func TestTxnGetReadsThroughToBackend(t *testing.T) {
	be := newTestBackend(t)
	require.NoError(t, be.Put(backend.DocStore, []byte("doc1"), []byte("committed")))

	tx := New(be)
	v, err := tx.Get(backend.DocStore, []byte("doc1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("committed"), v)
}

func TestTxnReadYourOwnWrites(t *testing.T) {
	be := newTestBackend(t)
	tx := New(be)
	tx.Put(backend.DocStore, []byte("doc1"), []byte("staged"))

	v, err := tx.Get(backend.DocStore, []byte("doc1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("staged"), v)

	// Nothing reaches the backend until Execute.
	_, err = be.Get(backend.DocStore, []byte("doc1"))
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestTxnDeleteMasksBackendValue(t *testing.T) {
	be := newTestBackend(t)
	require.NoError(t, be.Put(backend.DocStore, []byte("doc1"), []byte("v1")))

	tx := New(be)
	tx.Delete(backend.DocStore, []byte("doc1"))

	_, err := tx.Get(backend.DocStore, []byte("doc1"))
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestTxnExecuteCommitsAtomically(t *testing.T) {
	be := newTestBackend(t)
	tx := New(be)
	tx.Put(backend.DocStore, []byte("doc1"), []byte("v1"))
	tx.Put(backend.BySeqStore, []byte("0000000001"), []byte("body"))

	require.NoError(t, tx.Execute())

	v, err := be.Get(backend.DocStore, []byte("doc1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	v, err = be.Get(backend.BySeqStore, []byte("0000000001"))
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), v)
}

func TestTxnExecuteTwiceErrors(t *testing.T) {
	be := newTestBackend(t)
	tx := New(be)
	tx.Put(backend.DocStore, []byte("doc1"), []byte("v1"))

	require.NoError(t, tx.Execute())
	assert.ErrorIs(t, tx.Execute(), ErrAlreadyExecuted)
}

func TestTxnExecuteWithNoPendingWritesIsNoop(t *testing.T) {
	be := newTestBackend(t)
	tx := New(be)
	assert.NoError(t, tx.Execute())
}

func TestTxnPendingCountsAcrossNamespaces(t *testing.T) {
	tx := New(newTestBackend(t))
	assert.Equal(t, 0, tx.Pending())

	tx.Put(backend.DocStore, []byte("a"), []byte("1"))
	tx.Put(backend.DocStore, []byte("b"), []byte("2"))
	tx.Delete(backend.BySeqStore, []byte("c"))

	assert.Equal(t, 3, tx.Pending())
}

func TestTxnLaterWriteOverridesEarlierInSameBatch(t *testing.T) {
	be := newTestBackend(t)
	tx := New(be)
	tx.Put(backend.DocStore, []byte("doc1"), []byte("v1"))
	tx.Put(backend.DocStore, []byte("doc1"), []byte("v2"))

	v, err := tx.Get(backend.DocStore, []byte("doc1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)
	assert.Equal(t, 1, tx.Pending())

	require.NoError(t, tx.Execute())
	v, err = be.Get(backend.DocStore, []byte("doc1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)
}
