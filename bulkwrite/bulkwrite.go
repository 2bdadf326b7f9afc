// Package bulkwrite implements the write pipeline (component E, spec.md
// §4.D): the single largest piece of the engine's core. It owns revision
// merge, attachment digesting and ref-counting, update-sequence
// allocation, and document-count bookkeeping, all inside one scoped
// transaction per call.
//
// The pipeline is a plain function, not a type with its own goroutines:
// the operation queue (internal/queue) already guarantees at most one
// write pipeline runs at a time per database, so there is nothing here to
// synchronize beyond the attachment package's per-digest chain.
package bulkwrite

import (
	"fmt"

	"go.lanterndb.dev/lantern/internal/attachment"
	"go.lanterndb.dev/lantern/internal/backend"
	"go.lanterndb.dev/lantern/internal/revtree"
	"go.lanterndb.dev/lantern/internal/txn"
)

// Doc is one input document to Run: the raw body as submitted by the
// caller, including any "_id", "_rev", "_deleted", and "_attachments"
// fields.
type Doc = map[string]interface{}

// Options mirrors the options spec.md §4.D's bulk_write recognizes.
type Options struct {
	// NewEdits, when false, takes each document's "_rev" verbatim instead
	// of computing a fresh one (a replication-style write).
	NewEdits bool
	// AutoCompaction, when true, prunes compactable revisions of every
	// touched document in the same transaction as step 6 describes.
	AutoCompaction bool
	// BinaryAdapter decodes a non-string, non-[]byte inline attachment
	// body, standing in for the out-of-scope binary-type bridge spec.md
	// §1 names.
	BinaryAdapter func(interface{}) ([]byte, error)
}

// Result is one positional outcome of Run, aligned with the input slice.
type Result struct {
	OK  bool
	ID  string
	Rev string
	Err error
}

// MetadataStore is the narrow persistence surface Run needs from the
// caller: get/put doc_store metadata and by_seq_store bodies, all
// funneled through a shared *txn.Txn so every write in the batch commits
// atomically. Kept as an interface (rather than a concrete *txn.Txn
// parameter) so tests can substitute a fake without standing up a real
// backend.
type MetadataStore interface {
	Get(ns backend.Namespace, key []byte) ([]byte, error)
	Put(ns backend.Namespace, key, value []byte)
	Delete(ns backend.Namespace, key []byte)
}

var _ MetadataStore = (*txn.Txn)(nil)

// Codec adapts the root package's metadata/body JSON encoding without
// bulkwrite importing the root package (which would be a cycle, since
// lantern.go calls into bulkwrite). The root package supplies its own
// jsonx-backed implementation at the call site.
type Codec interface {
	EncodeMetadata(*DocMetadata) ([]byte, error)
	DecodeMetadata([]byte) (*DocMetadata, error)
	EncodeBody(map[string]interface{}) ([]byte, error)
	DecodeBody([]byte) (map[string]interface{}, error)
	SeqKey(seq int64) []byte
}

// DocMetadata mirrors the root package's Metadata shape (spec.md §3's
// per-document metadata), duplicated here to keep this package
// self-contained and importable from tests without the root package.
type DocMetadata struct {
	ID         string
	RevTree    revtree.Tree
	RevMap     map[string]int64
	WinningRev string
	Deleted    bool
	Seq        int64
}

// Input is everything Run needs beyond the documents themselves: the
// transaction to write through, the codec to (de)serialize rows, the
// current update sequence (read once, advanced in memory as the batch is
// processed), and the attachment per-digest chain. The doc count is not an
// input: Run reports only its change, as Output.DocCountDelta.
type Input struct {
	Store     MetadataStore
	Codec     Codec
	Chain     *attachment.Chain
	StartSeq  int64 // last allocated update_seq before this call
	IsLocalID func(id string) bool
}

// Output is Run's result: the per-doc results plus how the engine's
// in-memory counters (and meta_store) must move.
type Output struct {
	Results       []Result
	EndSeq        int64
	DocCountDelta int64
}

// Run executes the bulk-write pipeline (spec.md §4.D stages 1-6; stage 7,
// the final meta_store commit and transaction execution, is the caller's
// job since it also owns the in-memory counters and the change
// broadcaster notification).
func Run(in Input, docs []Doc, opts Options) (Output, error) {
	batchSize.Observe(float64(len(docs)))
	out := Output{Results: make([]Result, len(docs)), EndSeq: in.StartSeq}
	seq := in.StartSeq

	// Stage 3: existing-doc fetch, cached per id so later docs in the same
	// batch observe earlier docs' writes (spec.md §4.D "cache... update
	// the local metadata cache").
	cache := map[string]*DocMetadata{}
	getMeta := func(id string) (*DocMetadata, error) {
		if m, ok := cache[id]; ok {
			return m, nil
		}
		raw, err := in.Store.Get(backend.DocStore, []byte(id))
		if err != nil {
			if err == backend.ErrNotFound {
				m := &DocMetadata{ID: id, RevMap: map[string]int64{}}
				cache[id] = m
				return m, nil
			}
			return nil, err
		}
		m, err := in.Codec.DecodeMetadata(raw)
		if err != nil {
			return nil, err
		}
		cache[id] = m
		return m, nil
	}

	// Stage 1 + 2: parse each doc and verify attachment stubs up front, so
	// a missing stub anywhere fails the whole batch before any write lands
	// (spec.md §4.D step 2: "fail the whole batch with MissingStub").
	type parsed struct {
		idx  int
		info revtree.DocInfo
	}
	var parsedDocs []parsed
	for i, d := range docs {
		id, _ := d["_id"].(string)
		if in.IsLocalID != nil && in.IsLocalID(id) {
			out.Results[i] = Result{OK: false, ID: id, Err: fmt.Errorf("bulkwrite: local documents are not written via bulk write")}
			continue
		}

		if err := verifyStubs(in.Store, d); err != nil {
			return Output{}, err
		}

		prior, err := getMeta(id)
		if err != nil {
			return Output{}, err
		}
		info, err := revtree.ParseDoc(d, prior.WinningRev, opts.NewEdits)
		if err != nil {
			out.Results[i] = Result{OK: false, ID: id, Err: err}
			continue
		}
		parsedDocs = append(parsedDocs, parsed{idx: i, info: info})
	}

	// Stage 4 + 5: revision merge and write-doc, in input order so
	// sequence allocation reflects submission order (spec.md §4.D
	// "Ordering inside a batch").
	for _, p := range parsedDocs {
		id := p.info.ID
		prior, err := getMeta(id)
		if err != nil {
			return Output{}, err
		}

		decision := revtree.Decide(prior.RevTree, p.info)

		if !decision.IsUpdate {
			// Idempotence guard (spec.md §4.D step 5): the exact edit was
			// already recorded; report success without touching anything.
			out.Results[p.idx] = Result{OK: true, ID: id, Rev: decision.Rev}
			continue
		}

		seq++
		out.EndSeq = seq

		if err := writeAttachments(in, opts, id, decision.Rev, p.info); err != nil {
			return Output{}, err
		}
		syncAttachmentStubs(p.info)

		bodyRaw, err := in.Codec.EncodeBody(p.info.Data)
		if err != nil {
			return Output{}, err
		}
		in.Store.Put(backend.BySeqStore, in.Codec.SeqKey(seq), bodyRaw)

		prior.RevTree = decision.Tree
		prior.RevMap[decision.Rev] = seq
		prior.WinningRev = decision.WinningRev
		prior.Deleted = decision.WinningRevDeleted
		prior.Seq = seq
		cache[id] = prior

		metaRaw, err := in.Codec.EncodeMetadata(prior)
		if err != nil {
			return Output{}, err
		}
		in.Store.Put(backend.DocStore, []byte(id), metaRaw)

		out.DocCountDelta += int64(decision.DocCountDelta)
		out.Results[p.idx] = Result{OK: true, ID: id, Rev: decision.Rev}
		docsWritten.Inc()

		if opts.AutoCompaction {
			compactRevs := revtree.CompactableRevs(prior.RevTree)
			if len(compactRevs) > 0 {
				if err := CompactNoLock(in, id, prior, compactRevs); err != nil {
					return Output{}, err
				}
			}
		}
	}

	for i := range out.Results {
		if out.Results[i].ID == "" && out.Results[i].Err == nil && docs[i] != nil {
			id, _ := docs[i]["_id"].(string)
			out.Results[i].ID = id
		}
	}

	return out, nil
}

// verifyStubs implements spec.md §4.D step 2: every attachment declared
// with stub=true must already have an attach_store row for its digest.
func verifyStubs(store MetadataStore, d Doc) error {
	am, ok := d["_attachments"].(map[string]interface{})
	if !ok {
		return nil
	}
	for _, v := range am {
		entry, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		stub, _ := entry["stub"].(bool)
		if !stub {
			continue
		}
		digest, _ := entry["digest"].(string)
		if digest == "" {
			continue
		}
		if _, err := store.Get(backend.AttachStore, []byte(digest)); err != nil {
			if err == backend.ErrNotFound {
				return &MissingStubError{Digest: digest}
			}
			return err
		}
	}
	return nil
}

// syncAttachmentStubs writes info.Attachments (updated in place by
// writeAttachments with the computed digest/length for every inline body)
// back into info.Data's "_attachments" map, so the persisted document body
// carries the resolvable stub the read path (lantern.inflateAttachments)
// expects rather than the raw inline data the caller originally submitted.
func syncAttachmentStubs(info revtree.DocInfo) {
	if len(info.Attachments) == 0 {
		delete(info.Data, "_attachments")
		return
	}
	out := make(map[string]interface{}, len(info.Attachments))
	for name, stub := range info.Attachments {
		out[name] = map[string]interface{}{
			"content_type": stub.ContentType,
			"digest":       stub.Digest,
			"length":       stub.Length,
			"stub":         true,
		}
	}
	info.Data["_attachments"] = out
}

// writeAttachments computes digests for every inline (non-stub) attachment
// on info and applies the ref-counting rule (spec.md §4.E), running each
// digest's fetch-modify-write sequence serialized through in.Chain so
// concurrent docs in the same batch sharing a digest don't race the ref
// map, while unrelated digests proceed independently.
func writeAttachments(in Input, opts Options, id, rev string, info revtree.DocInfo) error {
	for name, stub := range info.Attachments {
		if stub.Stub {
			continue
		}
		// Decode the body as submitted: a string is base64, a []byte passes
		// through, anything else goes to opts.BinaryAdapter.
		var data []byte
		if am, ok := info.Data["_attachments"].(map[string]interface{}); ok {
			if entry, ok := am[name].(map[string]interface{}); ok && entry["data"] != nil {
				decoded, err := attachment.DecodeInline(entry["data"], opts.BinaryAdapter)
				if err != nil {
					return err
				}
				data = decoded
			}
		}
		digest := attachment.Digest(data)
		stub.Digest = digest
		stub.Length = int64(len(data))
		stub.Stub = false
		info.Attachments[name] = stub

		refKey := attachment.RefKey(id, rev)
		if err := in.Chain.Run(digest, func() error {
			raw, err := in.Store.Get(backend.AttachStore, []byte(digest))
			existed := true
			if err != nil {
				if err != backend.ErrNotFound {
					return err
				}
				existed = false
			}
			record, _, err := attachment.DecodeRecord(raw)
			if err != nil {
				return err
			}
			update := attachment.ApplyRef(record, existed, refKey, len(data))
			if update.NewRecord != nil {
				in.Store.Put(backend.AttachStore, []byte(digest), attachment.EncodeRecord(*update.NewRecord))
			}
			if update.WriteBody {
				in.Store.Put(backend.BinaryStore, []byte(digest), data)
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

