package btree

import "github.com/pkg/errors"

// Insert adds (key, value), failing with ErrConflict if key already exists.
func (idx *Index) Insert(key, value []byte) error {
	if err := idx.checkKeySize(key); err != nil {
		return err
	}
	if err := idx.checkValueSize(value); err != nil {
		return err
	}

	promotedKey, newChild, err := idx.insertRec(idx.rootnode, key, value)
	if err != nil {
		return err
	}

	if newChild != 0 {
		if err := idx.growRoot(promotedKey, newChild); err != nil {
			return err
		}
	}

	idx.numkeys++
	return idx.writeSuperblock()
}

// growRoot wraps the old root and its freshly split sibling in a new root
// node, and repoints superblock.rootnode at it. This is the fix for the
// root-split bug in the original reference implementation, which allocated
// the new root block but never updated the superblock to point at it.
//
// The old root is re-tagged from Root to Interior: it is no longer the
// root, and leaving it tagged Root would let it escape sanity.go's
// fill-ceiling check (which only runs against Interior-typed nodes) and
// would give display/descent two different type tags for the same kind of
// spine node.
func (idx *Index) growRoot(promotedKey []byte, newChild uint64) error {
	oldRoot := idx.rootnode

	oldRootNode, err := idx.loadNode(oldRoot)
	if err != nil {
		return err
	}
	oldRootNode.header.NodeType = uint64(Interior)
	if err := idx.writeNode(oldRootNode); err != nil {
		return err
	}

	newRootID, err := idx.allocate()
	if err != nil {
		return err
	}
	newRoot := idx.newBlankNode(newRootID, Root)
	newRoot.header.NumKeys = 1
	if err := newRoot.SetKey(0, promotedKey); err != nil {
		return err
	}
	if err := newRoot.SetPtr(0, oldRoot); err != nil {
		return err
	}
	if err := newRoot.SetPtr(1, newChild); err != nil {
		return err
	}
	if err := idx.writeNode(newRoot); err != nil {
		return err
	}

	idx.rootnode = newRootID
	return nil
}

// insertRec recurses into nodeid, returning a (promotedKey, newChild) pair
// when the node split and the promotion must be absorbed by the parent;
// newChild == 0 means no split occurred.
func (idx *Index) insertRec(nodeid uint64, key, value []byte) ([]byte, uint64, error) {
	n, err := idx.loadNode(nodeid)
	if err != nil {
		return nil, 0, err
	}

	switch n.Type() {
	case Root:
		if n.NumKeys() == 0 {
			return idx.insertIntoEmptyRoot(n, key, value)
		}
		return idx.insertIntoInterior(n, key, value)
	case Interior:
		return idx.insertIntoInterior(n, key, value)
	case Leaf:
		return idx.insertIntoLeaf(n, key, value)
	default:
		return nil, 0, errors.Wrapf(ErrInsane, "unexpected node type %s at block %d", n.Type(), nodeid)
	}
}

// insertIntoEmptyRoot populates a never-yet-used tree: the root is rewritten
// as an interior node with one key and two leaf children. The new pair goes
// in the right leaf, with the left leaf empty, because descent is
// equal-goes-right: a search for this exact key must land on the child to
// the separator's right.
func (idx *Index) insertIntoEmptyRoot(root *Node, key, value []byte) ([]byte, uint64, error) {
	left, err := idx.allocate()
	if err != nil {
		return nil, 0, err
	}
	right, err := idx.allocate()
	if err != nil {
		return nil, 0, err
	}

	leftLeaf := idx.newBlankNode(left, Leaf)
	if err := idx.writeNode(leftLeaf); err != nil {
		return nil, 0, err
	}

	rightLeaf := idx.newBlankNode(right, Leaf)
	rightLeaf.header.NumKeys = 1
	if err := rightLeaf.SetKey(0, key); err != nil {
		return nil, 0, err
	}
	if err := rightLeaf.SetVal(0, value); err != nil {
		return nil, 0, err
	}
	if err := idx.writeNode(rightLeaf); err != nil {
		return nil, 0, err
	}

	root.header.NumKeys = 1
	if err := root.SetKey(0, key); err != nil {
		return nil, 0, err
	}
	if err := root.SetPtr(0, left); err != nil {
		return nil, 0, err
	}
	if err := root.SetPtr(1, right); err != nil {
		return nil, 0, err
	}
	if err := idx.writeNode(root); err != nil {
		return nil, 0, err
	}

	return nil, 0, nil
}

// insertIntoInterior descends into the appropriate child, absorbs its
// promotion if any, and splits itself if it is now overfull. The child index
// follows the equal-goes-right separator rule: a key equal to key[offset]
// descends one slot to the right of offset.
func (idx *Index) insertIntoInterior(n *Node, key, value []byte) ([]byte, uint64, error) {
	offset, exact := idx.lowerBound(n, key)
	childIdx := offset
	if exact {
		childIdx++
	}
	childID, err := n.GetPtr(childIdx)
	if err != nil {
		return nil, 0, err
	}

	promotedKey, newChild, err := idx.insertRec(childID, key, value)
	if err != nil {
		return nil, 0, err
	}
	if newChild == 0 {
		return nil, 0, nil
	}

	// newChild is the upper half of the split of the node at ptr[childIdx];
	// it belongs immediately to childIdx's right, with promotedKey as the
	// new separator between them.
	numkeys := int(n.NumKeys())
	for i := numkeys - 1; i >= childIdx; i-- {
		k, err := n.GetKey(i)
		if err != nil {
			return nil, 0, err
		}
		if err := n.SetKey(i+1, k); err != nil {
			return nil, 0, err
		}
	}
	for i := numkeys; i >= childIdx+1; i-- {
		p, err := n.GetPtr(i)
		if err != nil {
			return nil, 0, err
		}
		if err := n.SetPtr(i+1, p); err != nil {
			return nil, 0, err
		}
	}
	if err := n.SetKey(childIdx, promotedKey); err != nil {
		return nil, 0, err
	}
	if err := n.SetPtr(childIdx+1, newChild); err != nil {
		return nil, 0, err
	}
	n.header.NumKeys++
	if err := idx.writeNode(n); err != nil {
		return nil, 0, err
	}

	if int(n.NumKeys()) >= fillThreshold(n.CapacityInterior()) {
		return idx.splitInterior(n)
	}
	return nil, 0, nil
}

// insertIntoLeaf inserts (key, value) in sorted position, rejecting exact
// duplicates, and splits itself if it is now overfull.
func (idx *Index) insertIntoLeaf(n *Node, key, value []byte) ([]byte, uint64, error) {
	offset, exact := idx.lowerBound(n, key)
	if exact {
		return nil, 0, errors.Wrap(ErrConflict, "insert")
	}

	numkeys := int(n.NumKeys())
	for i := numkeys - 1; i >= offset; i-- {
		k, err := n.GetKey(i)
		if err != nil {
			return nil, 0, err
		}
		v, err := n.GetVal(i)
		if err != nil {
			return nil, 0, err
		}
		if err := n.SetKey(i+1, k); err != nil {
			return nil, 0, err
		}
		if err := n.SetVal(i+1, v); err != nil {
			return nil, 0, err
		}
	}
	if err := n.SetKey(offset, key); err != nil {
		return nil, 0, err
	}
	if err := n.SetVal(offset, value); err != nil {
		return nil, 0, err
	}
	n.header.NumKeys++
	if err := idx.writeNode(n); err != nil {
		return nil, 0, err
	}

	if int(n.NumKeys()) >= fillThreshold(n.CapacityLeaf()) {
		return idx.splitLeaf(n)
	}
	return nil, 0, nil
}

// splitLeaf moves the upper half of n's entries into a freshly allocated
// leaf, returning the new leaf's first key as the promotion.
func (idx *Index) splitLeaf(n *Node) ([]byte, uint64, error) {
	numkeys := int(n.NumKeys())
	h := numkeys / 2

	newID, err := idx.allocate()
	if err != nil {
		return nil, 0, err
	}
	newLeaf := idx.newBlankNode(newID, Leaf)

	for i := h; i < numkeys; i++ {
		k, err := n.GetKey(i)
		if err != nil {
			return nil, 0, err
		}
		v, err := n.GetVal(i)
		if err != nil {
			return nil, 0, err
		}
		if err := newLeaf.SetKey(i-h, k); err != nil {
			return nil, 0, err
		}
		if err := newLeaf.SetVal(i-h, v); err != nil {
			return nil, 0, err
		}
	}
	newLeaf.header.NumKeys = uint64(numkeys - h)
	if err := idx.writeNode(newLeaf); err != nil {
		return nil, 0, err
	}

	promoted, err := n.GetKey(h)
	if err != nil {
		return nil, 0, err
	}
	promotedCopy := make([]byte, len(promoted))
	copy(promotedCopy, promoted)

	n.header.NumKeys = uint64(h)
	if err := idx.writeNode(n); err != nil {
		return nil, 0, err
	}

	return promotedCopy, newID, nil
}

// splitInterior moves the upper half of n's keys and pointers into a
// freshly allocated interior node, removing the middle key from both (it
// is handed up to the parent as the promotion).
func (idx *Index) splitInterior(n *Node) ([]byte, uint64, error) {
	numkeys := int(n.NumKeys())
	last := numkeys/2 - 1

	promoted, err := n.GetKey(last + 1)
	if err != nil {
		return nil, 0, err
	}
	promotedCopy := make([]byte, len(promoted))
	copy(promotedCopy, promoted)

	newID, err := idx.allocate()
	if err != nil {
		return nil, 0, err
	}
	newNode := idx.newBlankNode(newID, Interior)

	newCount := numkeys - (last + 2)
	for i := 0; i < newCount; i++ {
		k, err := n.GetKey(last + 2 + i)
		if err != nil {
			return nil, 0, err
		}
		if err := newNode.SetKey(i, k); err != nil {
			return nil, 0, err
		}
	}
	for i := 0; i <= newCount; i++ {
		p, err := n.GetPtr(last + 2 + i)
		if err != nil {
			return nil, 0, err
		}
		if err := newNode.SetPtr(i, p); err != nil {
			return nil, 0, err
		}
	}
	newNode.header.NumKeys = uint64(newCount)
	if err := idx.writeNode(newNode); err != nil {
		return nil, 0, err
	}

	n.header.NumKeys = uint64(last + 1)
	if err := idx.writeNode(n); err != nil {
		return nil, 0, err
	}

	return promotedCopy, newID, nil
}
