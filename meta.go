package lantern

// Reserved meta_store keys (spec.md §6).
const (
	metaLastUpdateSeq = "_local_last_update_seq"
	metaDocCount      = "_local_doc_count"
	metaUUID          = "_local_uuid"
)

// localDocPrefix marks ids routed to local_store, excluded from the rev
// tree, doc_store, and the change feed (spec.md §6, §3 invariant 6).
const localDocPrefix = "_local/"

// seqKeyWidth is the zero-padded width of by_seq_store keys (spec.md §6).
const seqKeyWidth = 16

func isLocalID(id string) bool {
	return len(id) >= len(localDocPrefix) && id[:len(localDocPrefix)] == localDocPrefix
}
