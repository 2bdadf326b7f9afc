package revtree

// Merge grafts path onto tree, implementing the distilled spec's
// process_docs/merge step. For a new_edits=true edit, path.Pos/path.Root
// name the revision the edit was made against (the "attachment point") and
// path.Root.Children holds the one new revision above it. For a
// new_edits=false edit, path.Root is the supplied revision itself with no
// children: it counts as already present when a node at that (pos, hash)
// exists, and is otherwise appended as a separate branch.
//
// Returns the updated tree, whether a brand-new leaf was produced
// (isUpdate — false means the exact edit was already present, the
// idempotence case spec.md §8's law requires), and whether attaching the
// path created a conflicting sibling branch rather than extending the
// current winner.
func Merge(tree Tree, path Branch) (merged Tree, isUpdate bool, conflict bool) {
	for i := range tree {
		b := &tree[i]
		if b.Pos == path.Pos && b.Root.Hash == path.Root.Hash {
			children, isNew, grew := mergeChildren(b.Root.Children, b.Pos+1, path.Root.Children)
			b.Root.Children = children
			return tree, isNew, grew
		}
		if newRoot, ok, isNew, grew := attachIntoNode(b.Root, b.Pos, path); ok {
			b.Root = newRoot
			return tree, isNew, grew
		}
	}
	// No attachment point found anywhere: either this is the very first
	// revision of a brand-new document (tree was empty) or path names a
	// disconnected history (a true conflict, e.g. new_edits=false
	// replaying a foreign branch).
	tree = append(tree, path)
	return tree, true, len(tree) > 1
}

func attachIntoNode(node Node, nodePos int, path Branch) (Node, bool, bool, bool) {
	if nodePos == path.Pos {
		if node.Hash != path.Root.Hash {
			return node, false, false, false
		}
		children, isNew, grew := mergeChildren(node.Children, nodePos+1, path.Root.Children)
		node.Children = children
		return node, true, isNew, grew
	}
	if nodePos > path.Pos {
		return node, false, false, false
	}
	for i := range node.Children {
		child, ok, isNew, grew := attachIntoNode(node.Children[i], nodePos+1, path)
		if ok {
			node.Children[i] = child
			return node, true, isNew, grew
		}
	}
	return node, false, false, false
}

// mergeChildren splices pathChildren (a single linear chain, by
// construction) onto existingChildren at depth childPos. It returns
// whether a new leaf was produced and whether the splice created a
// sibling (conflict) rather than extending an existing branch.
func mergeChildren(existingChildren []Node, childPos int, pathChildren []Node) ([]Node, bool, bool) {
	if len(pathChildren) == 0 {
		return existingChildren, false, false
	}
	head := pathChildren[0]
	for i := range existingChildren {
		if existingChildren[i].Hash == head.Hash {
			grandchildren, isNew, grew := mergeChildren(existingChildren[i].Children, childPos+1, head.Children)
			existingChildren[i].Children = grandchildren
			if !isNew {
				// Nothing deeper changed: this exact edit was already
				// recorded, the idempotence case.
				return existingChildren, false, false
			}
			return existingChildren, true, grew
		}
	}
	conflict := len(existingChildren) > 0
	return append(existingChildren, head), true, conflict
}
