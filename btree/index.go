// Package btree implements a disk-backed B-Tree index mapping fixed-width
// keys to fixed-width values. It owns the block codec, the persistent
// free-block list, and recursive lookup/insert with node splitting; it
// consumes storage strictly through the Cache interface and never imports a
// concrete cache implementation.
package btree

import (
	"github.com/pkg/errors"
)

// Index is a single attached B-Tree. Its lifecycle is explicit: Attach
// loads (or creates) the on-disk structure, Detach flushes superblock
// metadata. There is no background work and no global state; every
// operation runs to completion on the calling goroutine.
type Index struct {
	cache Cache

	keysize   uint64
	valuesize uint64
	blocksize uint64

	superblock *Node
	rootnode   uint64
	freelist   uint64
	numkeys    uint64
}

// New builds an Index over cache with the given fixed key/value widths.
// keysize and valuesize only take effect when Attach is called with
// create=true; attaching an existing index reads them back from the
// on-disk superblock instead.
func New(cache Cache, keysize, valuesize uint64) *Index {
	return &Index{
		cache:     cache,
		keysize:   keysize,
		valuesize: valuesize,
		blocksize: cache.GetBlockSize(),
	}
}

// Attach loads the index rooted at blockid, which must be 0. If create is
// true, a fresh superblock, root, and free-list chain are written first.
func (idx *Index) Attach(blockid uint64, create bool) error {
	if blockid != 0 {
		return errors.Wrapf(ErrInsane, "initblock must be 0, got %d", blockid)
	}

	idx.blocksize = idx.cache.GetBlockSize()

	if create {
		if err := idx.createFresh(); err != nil {
			return errors.Wrap(err, "creating fresh index")
		}
	}

	sb, err := idx.loadNode(0)
	if err != nil {
		return errors.Wrap(err, "loading superblock")
	}
	if sb.Type() != Superblock {
		return errors.Wrapf(ErrInsane, "block 0 is a %s, not a superblock", sb.Type())
	}

	idx.superblock = sb
	idx.keysize = sb.header.KeySize
	idx.valuesize = sb.header.ValueSize
	idx.rootnode = sb.header.RootNode
	idx.freelist = sb.header.FreeList
	idx.numkeys = sb.header.NumKeys
	return nil
}

// RootNode returns the block id of the current root, as recorded in the
// superblock. Exposed for introspection by callers such as the CLI and
// tests; the core itself never needs to be told this from outside.
func (idx *Index) RootNode() uint64 { return idx.rootnode }

// NumKeys returns the total live key count, as recorded in the superblock.
func (idx *Index) NumKeys() uint64 { return idx.numkeys }

// Detach flushes superblock metadata. Dirty nodes elsewhere in the cache
// are expected to have already been flushed by the operations that wrote
// them; Detach does not itself walk the tree.
func (idx *Index) Detach() error {
	return idx.writeSuperblock()
}

// Delete is unimplemented; key deletion and rebalancing are out of scope.
func (idx *Index) Delete(key []byte) error {
	return errors.Wrap(ErrUnimplemented, "Delete")
}

func (idx *Index) checkKeySize(key []byte) error {
	if uint64(len(key)) != idx.keysize {
		return errors.Wrapf(&SizeError{Index: len(key)}, "key must be %d bytes, got %d", idx.keysize, len(key))
	}
	return nil
}

func (idx *Index) checkValueSize(value []byte) error {
	if uint64(len(value)) != idx.valuesize {
		return errors.Wrapf(&SizeError{Index: len(value)}, "value must be %d bytes, got %d", idx.valuesize, len(value))
	}
	return nil
}

// createFresh initializes a brand-new on-disk image: a superblock at block
// 0 pointing at root block 1, with every remaining block threaded into an
// Unallocated free-list chain terminated by 0.
func (idx *Index) createFresh() error {
	numblocks := idx.cache.GetNumBlocks()
	if numblocks < 3 {
		return errors.Errorf("btree: need at least 3 blocks to create an index, have %d", numblocks)
	}

	sb := idx.newBlankNode(0, Superblock)
	sb.header.RootNode = 1
	sb.header.FreeList = 2
	sb.header.NumKeys = 0
	if err := idx.writeNode(sb); err != nil {
		return err
	}

	root := idx.newBlankNode(1, Root)
	if err := idx.writeNode(root); err != nil {
		return err
	}

	idx.cache.NotifyAllocateBlock(0)
	idx.cache.NotifyAllocateBlock(1)

	for id := uint64(2); id < numblocks; id++ {
		n := idx.newBlankNode(id, Unallocated)
		if id == numblocks-1 {
			n.header.FreeList = 0
		} else {
			n.header.FreeList = id + 1
		}
		if err := idx.writeNode(n); err != nil {
			return err
		}
	}

	return nil
}

// newBlankNode builds an in-memory node of type t for block id, stamped
// with the index's current key/value/block widths and root pointer. It is
// not written to the cache until the caller calls writeNode.
func (idx *Index) newBlankNode(id uint64, t NodeType) *Node {
	raw := make([]byte, idx.blocksize)
	n := newNodeView(id, raw)
	n.header.NodeType = uint64(t)
	n.header.KeySize = idx.keysize
	n.header.ValueSize = idx.valuesize
	n.header.BlockSize = idx.blocksize
	n.header.RootNode = idx.rootnode
	n.header.FreeList = 0
	n.header.NumKeys = 0
	return n
}

// loadNode reads block id's current image from the cache and returns its
// structured view.
func (idx *Index) loadNode(id uint64) (*Node, error) {
	raw := make([]byte, idx.blocksize)
	if err := idx.cache.ReadBlock(id, raw); err != nil {
		return nil, errors.Wrapf(err, "reading block %d", id)
	}
	return newNodeView(id, raw), nil
}

// writeNode persists n's current byte image back to the cache.
func (idx *Index) writeNode(n *Node) error {
	if err := idx.cache.WriteBlock(n.id, n.raw); err != nil {
		return errors.Wrapf(err, "writing block %d", n.id)
	}
	return nil
}

// writeSuperblock mirrors the index's in-memory rootnode/freelist/numkeys
// into the cached superblock node and persists it.
func (idx *Index) writeSuperblock() error {
	idx.superblock.header.RootNode = idx.rootnode
	idx.superblock.header.FreeList = idx.freelist
	idx.superblock.header.NumKeys = idx.numkeys
	return idx.writeNode(idx.superblock)
}
