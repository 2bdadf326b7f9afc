// Package txn implements the scoped transaction described in spec.md §4.B:
// a read-your-writes buffer over the backend that commits as one atomic
// batch. The buffering strategy mirrors jrchyang-etcd's
// server/mvcc/backend/tx_buffer.go (a per-bucket buffer merged into the
// read path before falling through to the store), adapted from bbolt's
// periodic-flush model to this engine's one-shot Execute model and backed
// by github.com/google/btree instead of a sorted slice, since a scoped
// transaction's lifetime is a single bulk write rather than a long-lived
// buffered tx that needs bulk writeback.
package txn

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/btree"

	"go.lanterndb.dev/lantern/internal/backend"
)

// ErrAlreadyExecuted is returned by Execute when called a second time on
// the same Txn (spec.md §4.B: "invoking execute twice is an error").
var ErrAlreadyExecuted = errors.New("txn: already executed")

type bufferItem struct {
	key   []byte
	op    backend.Op
	isDel bool
}

func (a *bufferItem) Less(than btree.Item) bool {
	b := than.(*bufferItem)
	return bytes.Compare(a.key, b.key) < 0
}

// Txn accumulates reads and writes against a single Backend. It is not
// safe for concurrent use; the operation queue (internal/queue) is what
// keeps at most one writer touching a Txn at a time.
type Txn struct {
	be       backend.Backend
	buffers  map[backend.Namespace]*btree.BTree
	executed bool
}

// New creates a scoped transaction over be.
func New(be backend.Backend) *Txn {
	return &Txn{be: be, buffers: make(map[backend.Namespace]*btree.BTree)}
}

func (t *Txn) bufferFor(ns backend.Namespace) *btree.BTree {
	b, ok := t.buffers[ns]
	if !ok {
		b = btree.New(32)
		t.buffers[ns] = b
	}
	return b
}

// Get returns the buffered value for (ns, key) if this transaction already
// staged a write for it (a put returns its value, a delete returns
// backend.ErrNotFound); otherwise it reads through to the backend.
func (t *Txn) Get(ns backend.Namespace, key []byte) ([]byte, error) {
	if b, ok := t.buffers[ns]; ok {
		if found := b.Get(&bufferItem{key: key}); found != nil {
			item := found.(*bufferItem)
			if item.isDel {
				return nil, backend.ErrNotFound
			}
			return item.op.Value, nil
		}
	}
	return t.be.Get(ns, key)
}

// Batch appends ops to the pending write set. Nothing touches the backend
// until Execute; later Get calls within this Txn observe these writes.
func (t *Txn) Batch(ops []backend.Op) {
	for _, op := range ops {
		b := t.bufferFor(op.Namespace)
		item := &bufferItem{key: op.Key, op: op, isDel: op.Kind == backend.OpDelete}
		b.ReplaceOrInsert(item)
	}
}

// Put is a convenience wrapper around Batch for a single write.
func (t *Txn) Put(ns backend.Namespace, key, value []byte) {
	t.Batch([]backend.Op{{Namespace: ns, Kind: backend.OpPut, Key: key, Value: value}})
}

// Delete is a convenience wrapper around Batch for a single delete.
func (t *Txn) Delete(ns backend.Namespace, key []byte) {
	t.Batch([]backend.Op{{Namespace: ns, Kind: backend.OpDelete, Key: key}})
}

// Pending reports how many writes are staged across all namespaces (one per
// distinct key), without touching the backend.
func (t *Txn) Pending() int {
	n := 0
	for _, ns := range backend.Namespaces {
		if b, ok := t.buffers[ns]; ok {
			n += b.Len()
		}
	}
	return n
}

// Execute flushes the staged write set as one atomic backend batch. It is
// an error to call Execute more than once on the same Txn.
func (t *Txn) Execute() error {
	if t.executed {
		return ErrAlreadyExecuted
	}
	t.executed = true

	var ops []backend.Op
	for _, ns := range backend.Namespaces {
		b, ok := t.buffers[ns]
		if !ok {
			continue
		}
		b.Ascend(func(it btree.Item) bool {
			ops = append(ops, it.(*bufferItem).op)
			return true
		})
	}
	if len(ops) == 0 {
		return nil
	}
	if err := t.be.Batch(ops); err != nil {
		return fmt.Errorf("txn: commit failed: %w", err)
	}
	return nil
}
