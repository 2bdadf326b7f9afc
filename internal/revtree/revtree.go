// Package revtree implements the revision-tree primitives spec.md §1 and §9
// list as external collaborators (parse_doc, compact_tree,
// traverse_rev_tree, winning_rev, collect_conflicts, process_docs,
// filter_change, process_change). No package in the retrieval pack
// implements PouchDB-style MVCC revision trees, so this is grounded
// instead on the deterministic-tiebreak, generation-of-revisions shape of
// jrchyang-etcd's server/mvcc/key_index.go: a revision is a (pos, hash)
// pair compared the way key_index.go's revision.GreaterThan compares
// (main, sub), and the tree is walked the same depth-first way
// traverseRevTree walks etcd's generations.
package revtree

import (
	"fmt"
	"sort"
)

// Node is one revision in the tree: the node's own hash, its status
// ("available" or "missing", set by compaction), whether the edit it
// represents deleted the document, and its children (the edits made on
// top of it — more than one child means a conflict).
type Node struct {
	Hash     string `json:"hash"`
	Status   string `json:"status,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
	Children []Node `json:"children,omitempty"`
}

const (
	StatusAvailable = "available"
	StatusMissing   = "missing"
)

// Branch is one root-to-somewhere chain: Pos is the generation number of
// Root, and every Child is one generation deeper.
type Branch struct {
	Pos  int  `json:"pos"`
	Root Node `json:"root"`
}

// Tree is a document's full revision history: normally one Branch, more
// than one when conflicting edits were applied to the same parent.
type Tree []Branch

// Rev formats a (pos, hash) pair as the "<pos>-<hash>" string spec.md's
// GLOSSARY defines.
func Rev(pos int, hash string) string {
	return fmt.Sprintf("%d-%s", pos, hash)
}

// Leaf is one tip of the tree, as returned by Leaves.
type Leaf struct {
	Pos     int
	Hash    string
	Deleted bool
	Status  string
}

func (l Leaf) Rev() string { return Rev(l.Pos, l.Hash) }

// Leaves returns every tip of every branch, in no particular order.
func Leaves(tree Tree) []Leaf {
	var out []Leaf
	var walk func(n Node, pos int)
	walk = func(n Node, pos int) {
		if len(n.Children) == 0 {
			out = append(out, Leaf{Pos: pos, Hash: n.Hash, Deleted: n.Deleted, Status: n.Status})
			return
		}
		for _, c := range n.Children {
			walk(c, pos+1)
		}
	}
	for _, b := range tree {
		walk(b.Root, b.Pos)
	}
	return out
}

// WinningRev implements the deterministic leaf tiebreak spec.md's GLOSSARY
// calls "winning rev": not-deleted beats deleted, then higher pos wins,
// then the lexicographically greater hash wins. This mirrors key_index.go's
// revision.GreaterThan (main then sub) generalized to deleted-awareness.
func WinningRev(tree Tree) (rev string, deleted bool, ok bool) {
	leaves := Leaves(tree)
	if len(leaves) == 0 {
		return "", false, false
	}
	best := leaves[0]
	for _, l := range leaves[1:] {
		if leafBetter(l, best) {
			best = l
		}
	}
	return best.Rev(), best.Deleted, true
}

func leafBetter(a, b Leaf) bool {
	if a.Deleted != b.Deleted {
		return !a.Deleted // non-deleted beats deleted
	}
	if a.Pos != b.Pos {
		return a.Pos > b.Pos
	}
	return a.Hash > b.Hash
}

// CollectConflicts returns every leaf rev other than the winning one that
// is not itself deleted — PouchDB/CouchDB's definition of "_conflicts".
func CollectConflicts(tree Tree) []string {
	winning, _, ok := WinningRev(tree)
	if !ok {
		return nil
	}
	var out []string
	for _, l := range Leaves(tree) {
		if l.Rev() == winning || l.Deleted {
			continue
		}
		out = append(out, l.Rev())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}

// FindNode walks every branch looking for the node named by rev, returning
// the node and the branch index it lives in, DFS, following the same
// pos-incrementing descent TraverseRevTree uses.
func FindNode(tree Tree, rev string) (node *Node, branchIdx int, found bool) {
	pos, hash, err := ParseRev(rev)
	if err != nil {
		return nil, -1, false
	}
	for bi := range tree {
		if n := findAt(&tree[bi].Root, tree[bi].Pos, pos, hash); n != nil {
			return n, bi, true
		}
	}
	return nil, -1, false
}

func findAt(n *Node, nodePos, targetPos int, targetHash string) *Node {
	if nodePos == targetPos {
		if n.Hash == targetHash {
			return n
		}
		return nil
	}
	if nodePos > targetPos {
		return nil
	}
	for i := range n.Children {
		if found := findAt(&n.Children[i], nodePos+1, targetPos, targetHash); found != nil {
			return found
		}
	}
	return nil
}

// TraverseRevTree visits every node, depth first, calling visit with the
// node's full rev string. Matches the distilled spec's external
// traverse_rev_tree helper.
func TraverseRevTree(tree Tree, visit func(rev string, n *Node)) {
	var walk func(n *Node, pos int)
	walk = func(n *Node, pos int) {
		visit(Rev(pos, n.Hash), n)
		for i := range n.Children {
			walk(&n.Children[i], pos+1)
		}
	}
	for bi := range tree {
		walk(&tree[bi].Root, tree[bi].Pos)
	}
}

// IsDeleted reports whether the node named by rev represents a deletion.
// A missing node (already compacted) is treated as not deleted, since
// spec.md's get() only consults IsDeleted for revisions it can still load.
func IsDeleted(tree Tree, rev string) bool {
	n, _, ok := FindNode(tree, rev)
	return ok && n.Deleted
}

// ParseRev splits "<pos>-<hash>" into its parts.
func ParseRev(rev string) (pos int, hash string, err error) {
	for i := 0; i < len(rev); i++ {
		if rev[i] == '-' {
			var n int
			if _, err := fmt.Sscanf(rev[:i], "%d", &n); err != nil {
				return 0, "", fmt.Errorf("revtree: malformed rev %q", rev)
			}
			return n, rev[i+1:], nil
		}
	}
	return 0, "", fmt.Errorf("revtree: malformed rev %q", rev)
}

// CompactableRevs returns every non-leaf, non-missing revision across every
// branch: a node with children has been superseded by at least one newer
// edit and its body row can be reclaimed (spec.md §4.D step 6, §4.H).
func CompactableRevs(tree Tree) []string {
	var out []string
	var walk func(n Node, pos int)
	walk = func(n Node, pos int) {
		if len(n.Children) > 0 {
			if n.Status != StatusMissing {
				out = append(out, Rev(pos, n.Hash))
			}
			for _, c := range n.Children {
				walk(c, pos+1)
			}
		}
	}
	for _, b := range tree {
		walk(b.Root, b.Pos)
	}
	return out
}

// MarkMissing sets Status = "missing" on every rev named in revs,
// implementing compact.go step 1 ("mark revs in rev_tree by setting
// status = missing").
func MarkMissing(tree Tree, revs []string) {
	set := make(map[string]bool, len(revs))
	for _, r := range revs {
		set[r] = true
	}
	TraverseRevTree(tree, func(rev string, n *Node) {
		if set[rev] {
			n.Status = StatusMissing
		}
	})
}
