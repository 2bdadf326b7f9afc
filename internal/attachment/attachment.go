// Package attachment implements the content-addressed attachment store
// (component F, spec.md §4.E): digest computation, the per-digest
// serialization chain that keeps concurrent ref-map updates from racing
// within one bulk write, and the read path.
package attachment

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.lanterndb.dev/lantern/internal/backend"
)

// ErrBadBody is returned by DecodeInline when an inline attachment's
// string body is not valid base64 (spec.md §7 BadArgument).
var ErrBadBody = errors.New("attachment: body is not valid base64")

// Digest computes the reserved "md5-<b64>" content digest for raw bytes
// (spec.md §6).
func Digest(data []byte) string {
	sum := md5.Sum(data)
	return "md5-" + base64.StdEncoding.EncodeToString(sum[:])
}

// DecodeInline turns an inline attachment body into raw bytes. A string is
// treated as base64 (the wire representation spec.md §4.D step 5
// describes); any other type is routed through the supplied binary
// adapter, which stands in for the out-of-scope "binary-data type
// adaptation" collaborator spec.md §1 names.
func DecodeInline(raw interface{}, binaryAdapter func(interface{}) ([]byte, error)) ([]byte, error) {
	switch v := raw.(type) {
	case string:
		data, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadBody, err)
		}
		return data, nil
	case []byte:
		return v, nil
	default:
		if binaryAdapter != nil {
			return binaryAdapter(raw)
		}
		return nil, fmt.Errorf("attachment: unsupported inline body type %T", raw)
	}
}

// Record is the attach_store row shape (spec.md §3): a set of back
// references of the form "<docid>@<rev>". A legacy row with Refs == nil is
// preserved but never written to again (spec.md §4.E ref-update rule).
type Record struct {
	Refs map[string]bool `json:"refs,omitempty"`
}

func RefKey(id, rev string) string { return id + "@" + rev }

// DecodeRecord parses a stored attach_store value. An empty/absent value
// decodes to a zero Record with Refs == nil, which ApplyRef treats as "not
// present yet".
func DecodeRecord(raw []byte) (Record, bool, error) {
	if raw == nil {
		return Record{}, false, nil
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

func EncodeRecord(r Record) []byte {
	buf, _ := json.Marshal(r)
	return buf
}

// RefUpdate is the outcome of applying the ref-update rule for one
// (digest, refKey) pair.
type RefUpdate struct {
	// NewRecord is the record to write back to attach_store, or nil if the
	// row must be left untouched (the legacy-row-without-refs case).
	NewRecord *Record
	// WriteBody is true when the binary_store body must be written: the
	// row was previously absent and the body is non-empty (spec.md §4.E
	// "Body write").
	WriteBody bool
}

// ApplyRef implements spec.md §4.E's ref-update rule:
//   - absent row            -> create {refs: {refKey: true}}
//   - row with refs         -> add refKey to the existing set
//   - legacy row, no refs   -> leave untouched, never back-filled
func ApplyRef(existing Record, existed bool, refKey string, bodyLen int) RefUpdate {
	if !existed {
		return RefUpdate{
			NewRecord: &Record{Refs: map[string]bool{refKey: true}},
			WriteBody: bodyLen > 0,
		}
	}
	if existing.Refs == nil {
		return RefUpdate{NewRecord: nil, WriteBody: false}
	}
	refs := make(map[string]bool, len(existing.Refs)+1)
	for k, v := range existing.Refs {
		refs[k] = v
	}
	refs[refKey] = true
	return RefUpdate{NewRecord: &Record{Refs: refs}, WriteBody: false}
}

// Chain serializes operations per digest: within one bulk write, the
// fetch-existing-refs -> add-new-ref -> buffer-put sequence for a given
// digest must run start to finish before the next write for that same
// digest begins, while unrelated digests proceed in parallel (spec.md
// §4.E, §5). This is the Go analogue of the source's per-digest promise
// chain — a lazily created per-digest mutex rather than a linked list of
// waiters, since goroutines blocking on Lock already queue in arrival
// order.
type Chain struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewChain() *Chain {
	return &Chain{locks: make(map[string]*sync.Mutex)}
}

// Run executes fn holding the per-digest lock for digest.
func (c *Chain) Run(digest string, fn func() error) error {
	c.mu.Lock()
	l, ok := c.locks[digest]
	if !ok {
		l = &sync.Mutex{}
		c.locks[digest] = l
	}
	c.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn()
}

// Getter is satisfied by both backend.Backend and *txn.Txn, so Get can read
// through either the raw backend or a scoped transaction's read-your-writes
// view.
type Getter interface {
	Get(ns backend.Namespace, key []byte) ([]byte, error)
}

// Get implements the read path (spec.md §4.E "Read path"): backend bytes
// if present, an empty slice if the body is legally absent (a zero-length
// attachment never gets a binary_store row), or the underlying error for
// anything else.
func Get(be Getter, digest string) ([]byte, error) {
	data, err := be.Get(backend.BinaryStore, []byte(digest))
	if err == nil {
		return data, nil
	}
	if errors.Is(err, backend.ErrNotFound) {
		return []byte{}, nil
	}
	return nil, err
}
