package lantern

import (
	"go.lanterndb.dev/lantern/bulkwrite"
	"go.lanterndb.dev/lantern/internal/backend"
	"go.lanterndb.dev/lantern/internal/queue"
	"go.lanterndb.dev/lantern/internal/txn"
)

// CompactOptions mirrors spec.md §4.H's compact() options.
type CompactOptions struct {
	// RevsToRemove names the exact revisions to reclaim. A typical caller
	// computes this from revtree.CompactableRevs against the document's
	// current tree (the same helper AutoCompaction uses internally).
	RevsToRemove []string
}

// Compact implements spec.md §4.H's compact(doc_id, revs_to_remove, opts,
// cb) on the write side of the operation queue: mark the named revisions
// missing, drop their stored bodies, and collect orphaned attachment
// binaries.
func (db *Database) Compact(id string, opts CompactOptions) error {
	if db.isClosed() {
		return ErrNotOpen
	}
	var err error
	db.q.Submit(queue.Write, func() {
		err = db.compactLocked(id, opts.RevsToRemove)
	})
	return err
}

func (db *Database) compactLocked(id string, revs []string) error {
	if len(revs) == 0 {
		return nil
	}
	raw, err := db.be.Get(backend.DocStore, []byte(id))
	if isNotFound(err) {
		return newMissing(id, "missing")
	}
	if err != nil {
		return err
	}
	meta, err := decodeMetadata(raw)
	if err != nil {
		return err
	}

	t := txn.New(db.be)
	bwMeta := &bulkwrite.DocMetadata{
		ID:         meta.ID,
		RevTree:    meta.RevTree,
		RevMap:     meta.RevMap,
		WinningRev: meta.WinningRev,
		Deleted:    meta.Deleted,
		Seq:        meta.Seq,
	}
	if err := bulkwrite.CompactNoLock(bulkwrite.Input{
		Store: t,
		Codec: codecAdapter{},
	}, id, bwMeta, revs); err != nil {
		return err
	}

	return t.Execute()
}
