package btree

import "github.com/pkg/errors"

// allocate pops a block off the free-list head, asserting it was indeed
// Unallocated, and advances superblock.freelist to its successor. The
// block's new type is left for the caller to set.
func (idx *Index) allocate() (uint64, error) {
	if idx.freelist == 0 {
		return 0, errors.Wrap(ErrNoSpace, "allocate")
	}

	blockid := idx.freelist
	n, err := idx.loadNode(blockid)
	if err != nil {
		return 0, err
	}
	if n.Type() != Unallocated {
		return 0, errors.Wrapf(ErrInsane, "free-list block %d is a %s, not Unallocated", blockid, n.Type())
	}

	idx.freelist = n.header.FreeList
	if err := idx.writeSuperblock(); err != nil {
		return 0, err
	}
	idx.cache.NotifyAllocateBlock(blockid)
	return blockid, nil
}

// deallocate pushes blockid back onto the free-list head.
func (idx *Index) deallocate(blockid uint64) error {
	n, err := idx.loadNode(blockid)
	if err != nil {
		return err
	}
	if n.Type() == Unallocated {
		return errors.Wrapf(ErrInsane, "block %d is already Unallocated", blockid)
	}

	n.header.NodeType = uint64(Unallocated)
	n.header.FreeList = idx.freelist
	if err := idx.writeNode(n); err != nil {
		return err
	}

	idx.freelist = blockid
	if err := idx.writeSuperblock(); err != nil {
		return err
	}
	idx.cache.NotifyDeallocateBlock(blockid)
	return nil
}
