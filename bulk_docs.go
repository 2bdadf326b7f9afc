package lantern

import (
	"errors"
	"strconv"
	"sync/atomic"

	"go.lanterndb.dev/lantern/bulkwrite"
	"go.lanterndb.dev/lantern/internal/attachment"
	"go.lanterndb.dev/lantern/internal/backend"
	"go.lanterndb.dev/lantern/internal/queue"
	"go.lanterndb.dev/lantern/internal/txn"
)

// BulkDocsOptions mirrors spec.md §4.D's bulk_write options.
type BulkDocsOptions struct {
	NewEdits      bool
	BinaryAdapter func(interface{}) ([]byte, error)
}

// BulkResult is one positional outcome of BulkDocs.
type BulkResult struct {
	OK  bool
	ID  string
	Rev string
	Err error
}

// codecAdapter implements bulkwrite.Codec over this package's jsonx-backed
// Metadata/body encoding, letting bulkwrite stay independent of the root
// package's types (avoiding an import cycle, since the root package
// imports bulkwrite).
type codecAdapter struct{}

func (codecAdapter) EncodeMetadata(m *bulkwrite.DocMetadata) ([]byte, error) {
	return encodeMetadata(&Metadata{
		ID:         m.ID,
		RevTree:    m.RevTree,
		RevMap:     m.RevMap,
		WinningRev: m.WinningRev,
		Deleted:    m.Deleted,
		Seq:        m.Seq,
	})
}

func (codecAdapter) DecodeMetadata(raw []byte) (*bulkwrite.DocMetadata, error) {
	m, err := decodeMetadata(raw)
	if err != nil {
		return nil, err
	}
	return &bulkwrite.DocMetadata{
		ID:         m.ID,
		RevTree:    m.RevTree,
		RevMap:     m.RevMap,
		WinningRev: m.WinningRev,
		Deleted:    m.Deleted,
		Seq:        m.Seq,
	}, nil
}

func (codecAdapter) EncodeBody(body map[string]interface{}) ([]byte, error) {
	return encodeBody(body)
}

func (codecAdapter) DecodeBody(raw []byte) (map[string]interface{}, error) {
	return decodeBody(raw)
}

func (codecAdapter) SeqKey(seq int64) []byte { return seqKey(seq) }

// BulkDocs implements spec.md §4.D's bulk_write(): parse, verify, merge,
// and commit a batch of document edits as a single scoped transaction, on
// the write side of the operation queue.
func (db *Database) BulkDocs(docs []map[string]interface{}, opts BulkDocsOptions) ([]BulkResult, error) {
	if db.isClosed() {
		return nil, ErrNotOpen
	}
	var (
		results []BulkResult
		err     error
	)
	db.q.Submit(queue.Write, func() {
		results, err = db.bulkDocsLocked(docs, opts)
	})
	return results, err
}

func (db *Database) bulkDocsLocked(docs []map[string]interface{}, opts BulkDocsOptions) ([]BulkResult, error) {
	t := txn.New(db.be)
	startSeq := atomic.LoadInt64(&db.updateSeq)
	startCount := atomic.LoadInt64(&db.docCount)

	out, err := bulkwrite.Run(bulkwrite.Input{
		Store:     t,
		Codec:     codecAdapter{},
		Chain:     db.attach,
		StartSeq:  startSeq,
		IsLocalID: isLocalID,
	}, docs, bulkwrite.Options{
		NewEdits:       opts.NewEdits,
		AutoCompaction: db.opts.AutoCompaction,
		BinaryAdapter:  opts.BinaryAdapter,
	})
	if err != nil {
		return nil, translateBulkError(err)
	}

	newCount := startCount + out.DocCountDelta
	t.Put(backend.MetaStore, []byte(metaLastUpdateSeq), []byte(strconv.FormatInt(out.EndSeq, 10)))
	t.Put(backend.MetaStore, []byte(metaDocCount), []byte(strconv.FormatInt(newCount, 10)))

	if err := t.Execute(); err != nil {
		return nil, err
	}

	atomic.StoreInt64(&db.updateSeq, out.EndSeq)
	atomic.StoreInt64(&db.docCount, newCount)
	notifyChanges(db.dbName)

	results := make([]BulkResult, len(out.Results))
	for i, r := range out.Results {
		results[i] = BulkResult{OK: r.OK, ID: r.ID, Rev: r.Rev, Err: translateBulkError(r.Err)}
	}
	return results, nil
}

// translateBulkError converts bulkwrite's package-local error taxonomy
// into the root package's public one, so callers only ever see
// *lantern.MissingStubError etc. regardless of which internal stage raised
// the condition.
func translateBulkError(err error) error {
	if err == nil {
		return nil
	}
	var stub *bulkwrite.MissingStubError
	if errors.As(err, &stub) {
		return &MissingStubError{Digest: stub.Digest}
	}
	if errors.Is(err, attachment.ErrBadBody) {
		return &BadArgumentError{Field: "_attachments", Reason: err.Error()}
	}
	return err
}

