// Package backend provides a typed wrapper over an ordered key/value store
// (component A of the storage engine). It exposes get/put/del/batch and
// ordered range scans over namespaced buckets, following the shape of
// go.etcd.io/etcd/server/v3/mvcc/backend.Backend: a small interface in
// front of a single embedded database file, with a process-wide registry
// that hands out one shared handle per (backend name, database name) pair.
package backend

import (
	"errors"
	"io"
)

// ErrNotFound is returned by Get when the key is absent (a range scan that
// finds nothing simply ends, without an error). It is a backend-level
// sentinel; callers above this package convert it into
// the domain-specific kinds described in spec.md §7 and never surface it
// raw.
var ErrNotFound = errors.New("backend: not found")

// ErrUnavailable is returned by NewBoltBackend when no backend could be
// constructed for the requested configuration.
var ErrUnavailable = errors.New("backend: unavailable")

// Namespace identifies one of the six logical stores (spec.md §3). It is
// the bucket name used for lookups; the backend
// itself does not know document semantics, only opaque namespace/key/value
// triples.
type Namespace string

const (
	DocStore    Namespace = "doc_store"
	BySeqStore  Namespace = "by_seq_store"
	AttachStore Namespace = "attach_store"
	BinaryStore Namespace = "binary_store"
	LocalStore  Namespace = "local_store"
	MetaStore   Namespace = "meta_store"
)

// Namespaces lists every logical store, in the fixed order buckets are
// created in on first open.
var Namespaces = []Namespace{DocStore, BySeqStore, AttachStore, BinaryStore, LocalStore, MetaStore}

// OpKind distinguishes a put from a delete inside a Batch.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

// Op is one element of an atomic Batch (spec.md §4.A).
type Op struct {
	Namespace Namespace
	Kind      OpKind
	Key       []byte
	Value     []byte
}

// RangeOptions mirrors the options spec.md §4.A recognizes for range scans:
// inclusive lower/upper bounds, reverse order, and a row limit.
type RangeOptions struct {
	Gte     []byte
	Lte     []byte
	Reverse bool
	Limit   int // 0 means unlimited
}

// Row is one key/value pair yielded by a range scan.
type Row struct {
	Key   []byte
	Value []byte
}

// Backend is the narrow interface the rest of the engine depends on. A
// concrete implementation (NewBoltBackend builds the default) adapts a real
// ordered KV store; tests may substitute an in-memory fake that satisfies
// the same contract.
type Backend interface {
	Get(ns Namespace, key []byte) ([]byte, error)
	Put(ns Namespace, key, value []byte) error
	Delete(ns Namespace, key []byte) error

	// Batch commits every op as a single atomic unit: all or nothing,
	// satisfying the atomic-batch contract relied on by the scoped
	// transaction (spec.md §4.B).
	Batch(ops []Op) error

	// RangeScan streams rows in key order within ns, honoring opts. The
	// returned Scanner must be closed by the caller even on early break,
	// since a limited scan is expected to tear down the underlying cursor
	// (spec.md §4.F "upstream is torn down").
	RangeScan(ns Namespace, opts RangeOptions) (Scanner, error)

	Close() error
}

// Scanner is a torn-down-on-Close forward iterator over a range scan.
type Scanner interface {
	// Next advances to the next row. It returns false at end of range or
	// on error; callers must check Err() after a false return.
	Next() bool
	Row() Row
	Err() error
	io.Closer
}

// Destroyer is implemented by backends that support removing a database's
// on-disk state entirely (spec.md §4.A "static destroy(name)").
type Destroyer interface {
	Destroy(name string) error
}
