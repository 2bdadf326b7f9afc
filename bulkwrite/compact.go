package bulkwrite

import (
	"go.lanterndb.dev/lantern/internal/attachment"
	"go.lanterndb.dev/lantern/internal/backend"
	"go.lanterndb.dev/lantern/internal/revtree"
)

// CompactNoLock implements spec.md §4.H steps 1-4: mark the named revs
// missing in meta's rev tree, drop their by_seq_store bodies, and collect
// each removed body's attachment digests so their attach_store refs (and,
// once unreferenced, their binary_store bodies) can be dropped too.
//
// It is "no lock" in the sense spec.md §4.H uses the term: it stages
// writes into in.Store without beginning or committing a transaction of
// its own, so it composes directly into bulk write's existing transaction
// (step 6) and into Compact's own transaction (spec.md §4.H step 5, which
// the caller performs after this returns).
func CompactNoLock(in Input, id string, meta *DocMetadata, revsToRemove []string) error {
	if len(revsToRemove) == 0 {
		return nil
	}
	revtree.MarkMissing(meta.RevTree, revsToRemove)

	metaRaw, err := in.Codec.EncodeMetadata(meta)
	if err != nil {
		return err
	}
	in.Store.Put(backend.DocStore, []byte(id), metaRaw)

	digests := map[string]bool{}
	removedRefs := map[string]bool{}
	for _, rev := range revsToRemove {
		seq, ok := meta.RevMap[rev]
		if !ok {
			continue
		}
		bodyRaw, err := in.Store.Get(backend.BySeqStore, in.Codec.SeqKey(seq))
		if err == nil {
			body, err := in.Codec.DecodeBody(bodyRaw)
			if err == nil {
				collectDigests(body, digests)
			}
		} else if err != backend.ErrNotFound {
			return err
		}
		in.Store.Delete(backend.BySeqStore, in.Codec.SeqKey(seq))
		delete(meta.RevMap, rev)
		removedRefs[attachment.RefKey(id, rev)] = true
	}

	// Store the metadata again now that the reclaimed revs are gone from
	// RevMap, so the persisted row matches the in-memory one.
	metaRaw, err = in.Codec.EncodeMetadata(meta)
	if err != nil {
		return err
	}
	in.Store.Put(backend.DocStore, []byte(id), metaRaw)

	for digest := range digests {
		if err := dropOrphanedRefs(in, digest, removedRefs); err != nil {
			return err
		}
	}
	return nil
}

func collectDigests(body map[string]interface{}, out map[string]bool) {
	am, ok := body["_attachments"].(map[string]interface{})
	if !ok {
		return
	}
	for _, v := range am {
		entry, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		if d, ok := entry["digest"].(string); ok && d != "" {
			out[d] = true
		}
	}
}

// dropOrphanedRefs implements spec.md §4.H step 4: remove every ref named
// in removed from digest's record; delete the record (and its binary body)
// once no refs remain.
func dropOrphanedRefs(in Input, digest string, removed map[string]bool) error {
	raw, err := in.Store.Get(backend.AttachStore, []byte(digest))
	if err != nil {
		if err == backend.ErrNotFound {
			return nil
		}
		return err
	}
	record, existed, err := attachment.DecodeRecord(raw)
	if err != nil {
		return err
	}
	if !existed || record.Refs == nil {
		return nil
	}
	for k := range removed {
		delete(record.Refs, k)
	}
	if len(record.Refs) > 0 {
		in.Store.Put(backend.AttachStore, []byte(digest), attachment.EncodeRecord(record))
		return nil
	}
	in.Store.Delete(backend.AttachStore, []byte(digest))
	in.Store.Delete(backend.BinaryStore, []byte(digest))
	return nil
}
