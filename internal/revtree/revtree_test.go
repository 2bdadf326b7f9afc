package revtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleBranchTree(hashes ...string) Tree {
	if len(hashes) == 0 {
		return nil
	}
	root := Node{Hash: hashes[len(hashes)-1], Status: StatusAvailable}
	for i := len(hashes) - 2; i >= 0; i-- {
		root = Node{Hash: hashes[i], Status: StatusAvailable, Children: []Node{root}}
	}
	return Tree{{Pos: 1, Root: root}}
}

func TestWinningRevSingleBranch(t *testing.T) {
	tree := singleBranchTree("a", "b", "c")
	rev, deleted, ok := WinningRev(tree)
	require.True(t, ok)
	assert.Equal(t, Rev(3, "c"), rev)
	assert.False(t, deleted)
}

func TestWinningRevPrefersHigherGeneration(t *testing.T) {
	short := singleBranchTree("a")
	long := singleBranchTree("a")
	long[0].Root.Children = []Node{{Hash: "b", Status: StatusAvailable}}
	tree := append(short, long...)
	rev, _, ok := WinningRev(tree)
	require.True(t, ok)
	assert.Equal(t, Rev(2, "b"), rev)
}

func TestWinningRevNonDeletedBeatsDeleted(t *testing.T) {
	tree := Tree{
		{Pos: 1, Root: Node{Hash: "a", Children: []Node{
			{Hash: "dead", Deleted: true},
		}}},
	}
	tree = append(tree, Branch{Pos: 2, Root: Node{Hash: "alive"}})
	rev, deleted, ok := WinningRev(tree)
	require.True(t, ok)
	assert.Equal(t, Rev(2, "alive"), rev)
	assert.False(t, deleted)
}

func TestWinningRevEmptyTree(t *testing.T) {
	_, _, ok := WinningRev(nil)
	assert.False(t, ok)
}

func TestCollectConflictsExcludesWinnerAndDeleted(t *testing.T) {
	tree := Tree{
		{Pos: 2, Root: Node{Hash: "winner"}},
		{Pos: 2, Root: Node{Hash: "loser"}},
		{Pos: 1, Root: Node{Hash: "tombstone", Deleted: true}},
	}
	conflicts := CollectConflicts(tree)
	assert.Equal(t, []string{Rev(2, "loser")}, conflicts)
}

func TestParseRevRoundTrip(t *testing.T) {
	pos, hash, err := ParseRev("3-abcdef")
	require.NoError(t, err)
	assert.Equal(t, 3, pos)
	assert.Equal(t, "abcdef", hash)
	assert.Equal(t, "3-abcdef", Rev(pos, hash))
}

func TestParseRevMalformed(t *testing.T) {
	_, _, err := ParseRev("not-a-rev-at-all-no-dash-digit")
	assert.Error(t, err)
	_, _, err = ParseRev("nodash")
	assert.Error(t, err)
}

func TestFindNodeAndIsDeleted(t *testing.T) {
	tree := singleBranchTree("a", "b")
	tree[0].Root.Children[0].Deleted = true

	node, _, ok := FindNode(tree, Rev(2, "b"))
	require.True(t, ok)
	assert.True(t, node.Deleted)
	assert.True(t, IsDeleted(tree, Rev(2, "b")))
	assert.False(t, IsDeleted(tree, Rev(1, "a")))

	_, _, ok = FindNode(tree, Rev(9, "nope"))
	assert.False(t, ok)
}

func TestCompactableRevsAndMarkMissing(t *testing.T) {
	tree := singleBranchTree("a", "b", "c")
	revs := CompactableRevs(tree)
	assert.ElementsMatch(t, []string{Rev(1, "a"), Rev(2, "b")}, revs)

	MarkMissing(tree, []string{Rev(1, "a")})
	node, _, ok := FindNode(tree, Rev(1, "a"))
	require.True(t, ok)
	assert.Equal(t, StatusMissing, node.Status)

	// A missing node is no longer compactable even though it still has
	// children, since it has already been reclaimed once.
	revs = CompactableRevs(tree)
	assert.Equal(t, []string{Rev(2, "b")}, revs)
}

func TestParseDocNewEditsComputesChain(t *testing.T) {
	info, err := ParseDoc(map[string]interface{}{
		"_id":  "doc1",
		"name": "alice",
	}, "", true)
	require.NoError(t, err)
	assert.Equal(t, "doc1", info.ID)
	assert.Equal(t, 1, info.Path.Pos)
	assert.False(t, info.Deleted)

	// Re-parsing the identical body against the same parent must produce
	// the identical hash: this is the idempotence law spec.md requires.
	info2, err := ParseDoc(map[string]interface{}{
		"_id":  "doc1",
		"name": "alice",
	}, "", true)
	require.NoError(t, err)
	assert.Equal(t, info.Rev(), info2.Rev())
}

func TestParseDocNewEditsFalseRequiresRev(t *testing.T) {
	_, err := ParseDoc(map[string]interface{}{"_id": "doc1"}, "", false)
	assert.Error(t, err)

	info, err := ParseDoc(map[string]interface{}{
		"_id":  "doc1",
		"_rev": "3-deadbeef",
	}, "", false)
	require.NoError(t, err)
	assert.Equal(t, "3-deadbeef", info.ExplicitRev)
	assert.Equal(t, 3, info.Path.Pos)
}

func TestParseDocMissingID(t *testing.T) {
	_, err := ParseDoc(map[string]interface{}{"name": "x"}, "", true)
	assert.Error(t, err)
}

func TestMergeExtendsExistingBranch(t *testing.T) {
	tree := singleBranchTree("a")
	path := Branch{Pos: 1, Root: Node{Hash: "a", Children: []Node{{Hash: "b"}}}}

	merged, isUpdate, conflict := Merge(tree, path)
	require.True(t, isUpdate)
	assert.False(t, conflict)
	leaves := Leaves(merged)
	require.Len(t, leaves, 1)
	assert.Equal(t, Rev(2, "b"), leaves[0].Rev())
}

func TestMergeIdempotentReplay(t *testing.T) {
	tree := singleBranchTree("a", "b")
	path := Branch{Pos: 1, Root: Node{Hash: "a", Children: []Node{{Hash: "b"}}}}

	_, isUpdate, _ := Merge(tree, path)
	assert.False(t, isUpdate)
}

func TestMergeSiblingIsConflict(t *testing.T) {
	tree := singleBranchTree("a", "b")
	path := Branch{Pos: 1, Root: Node{Hash: "a", Children: []Node{{Hash: "other"}}}}

	_, isUpdate, conflict := Merge(tree, path)
	assert.True(t, isUpdate)
	assert.True(t, conflict)
}

func TestDecideTracksDocCountDelta(t *testing.T) {
	info, err := ParseDoc(map[string]interface{}{"_id": "x"}, "", true)
	require.NoError(t, err)

	decision := Decide(nil, info)
	assert.Equal(t, 1, decision.DocCountDelta)
	assert.True(t, decision.IsUpdate)
	assert.False(t, decision.WinningRevDeleted)

	deleteInfo, err := ParseDoc(map[string]interface{}{
		"_id":      "x",
		"_deleted": true,
	}, decision.WinningRev, true)
	require.NoError(t, err)

	deleteDecision := Decide(decision.Tree, deleteInfo)
	assert.Equal(t, -1, deleteDecision.DocCountDelta)
	assert.True(t, deleteDecision.WinningRevDeleted)
}

func TestFilterChangeNilAcceptsEverything(t *testing.T) {
	c := ProcessChange("id", 1, "1-a", false, nil)
	ok, err := FilterChange(c, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilterChangePropagatesError(t *testing.T) {
	c := ProcessChange("id", 1, "1-a", false, nil)
	boom := assert.AnError
	_, err := FilterChange(c, func(Change) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)
}
