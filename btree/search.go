package btree

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/jorenk/blocktree/bsearch"
)

// lowerBound returns the first slot offset in n whose key is >= key, using
// the adapted bsearch package in place of a linear scan; exact reports
// whether that slot's key equals key exactly. When no slot key is >= key,
// offset is n.NumKeys() (the descent-to-rightmost-child / append case).
//
// Interior descent uses this as an equal-goes-right separator rule: a
// separator equal to the search key routes to the child one slot to the
// right of offset, not the one at offset. This matches how promoted
// separators are constructed (insertIntoEmptyRoot puts the inserted pair in
// the right leaf; splitLeaf promotes the right leaf's first key while
// leaving it there) — the key that equals a separator always lives in the
// subtree to that separator's right, never its left.
func (idx *Index) lowerBound(n *Node, key []byte) (offset int, exact bool) {
	numkeys := int(n.header.NumKeys)
	off, err := bsearch.BinarySearchBy(numkeys, func(i int) int {
		k, _ := n.GetKey(i)
		return bytes.Compare(k, key)
	})
	return off, err == nil
}

// Lookup returns the value stored for key, or ErrNotFound.
func (idx *Index) Lookup(key []byte) ([]byte, error) {
	if err := idx.checkKeySize(key); err != nil {
		return nil, err
	}
	return idx.lookupOrUpdate(idx.rootnode, key, nil)
}

// Update overwrites the value stored for key in place, or returns
// ErrNotFound if key is absent.
func (idx *Index) Update(key, value []byte) error {
	if err := idx.checkKeySize(key); err != nil {
		return err
	}
	if err := idx.checkValueSize(value); err != nil {
		return err
	}
	_, err := idx.lookupOrUpdate(idx.rootnode, key, value)
	return err
}

// lookupOrUpdate is the shared descent for Lookup and Update. value == nil
// selects Lookup; a non-nil value selects Update.
func (idx *Index) lookupOrUpdate(nodeid uint64, key, value []byte) ([]byte, error) {
	n, err := idx.loadNode(nodeid)
	if err != nil {
		return nil, err
	}

	switch n.Type() {
	case Root, Interior:
		if n.NumKeys() == 0 {
			return nil, errors.Wrapf(ErrNotFound, "descended into empty node %d", nodeid)
		}
		offset, exact := idx.lowerBound(n, key)
		childIdx := offset
		if exact {
			childIdx++
		}
		child, err := n.GetPtr(childIdx)
		if err != nil {
			return nil, err
		}
		return idx.lookupOrUpdate(child, key, value)

	case Leaf:
		offset, exact := idx.lowerBound(n, key)
		if !exact {
			return nil, errors.Wrapf(ErrNotFound, "key not present in leaf %d", nodeid)
		}
		if value == nil {
			v, err := n.GetVal(offset)
			if err != nil {
				return nil, err
			}
			out := make([]byte, len(v))
			copy(out, v)
			return out, nil
		}
		if err := n.SetVal(offset, value); err != nil {
			return nil, err
		}
		return nil, idx.writeNode(n)

	default:
		return nil, errors.Wrapf(ErrInsane, "unexpected node type %s at block %d", n.Type(), nodeid)
	}
}
