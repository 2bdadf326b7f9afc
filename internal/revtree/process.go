package revtree

// Decision is what the distilled spec's process_docs produces per
// document: the merged tree plus enough bookkeeping for the bulk-write
// pipeline to decide whether to write a body row, how doc_count moves, and
// what to report back to the caller (spec.md §4.D step 4).
type Decision struct {
	Tree Tree

	Rev               string
	WinningRev        string
	WinningRevDeleted bool
	NewRevDeleted     bool

	// IsUpdate is false when the exact edit was already present in the
	// tree (the idempotence case spec.md §8 requires byte-identical
	// re-application to be a no-op).
	IsUpdate bool
	// Conflict is true when attaching this edit created a sibling branch
	// rather than extending the sole branch at its attachment point.
	Conflict bool
	// DocCountDelta is how meta_store[_local_doc_count] should move: +1 if
	// the document transitioned from absent/deleted to live, -1 for the
	// reverse, 0 otherwise (spec.md §3 invariant 4).
	DocCountDelta int
}

// Decide merges info into tree and computes the resulting Decision.
func Decide(tree Tree, info DocInfo) Decision {
	prevRev, prevDeleted, hadWinner := WinningRev(tree)
	_ = prevRev
	prevLive := hadWinner && !prevDeleted

	newTree, isUpdate, conflict := Merge(tree, info.Path)
	winning, winDeleted, _ := WinningRev(newTree)

	delta := 0
	newLive := !winDeleted
	if !prevLive && newLive {
		delta = 1
	} else if prevLive && !newLive {
		delta = -1
	}

	return Decision{
		Tree:              newTree,
		Rev:               info.Rev(),
		WinningRev:        winning,
		WinningRevDeleted: winDeleted,
		NewRevDeleted:     info.Deleted,
		IsUpdate:          isUpdate,
		Conflict:          conflict,
		DocCountDelta:     delta,
	}
}
