package btree

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// NodeType is the tag stored in every block's header identifying how its
// slot region should be interpreted.
type NodeType uint64

const (
	Unallocated NodeType = iota
	Superblock
	Root
	Interior
	Leaf
)

func (t NodeType) String() string {
	switch t {
	case Unallocated:
		return "Unallocated"
	case Superblock:
		return "Superblock"
	case Root:
		return "Root"
	case Interior:
		return "Interior"
	case Leaf:
		return "Leaf"
	default:
		return fmt.Sprintf("NodeType(%d)", uint64(t))
	}
}

// header is overlaid directly onto the first bytes of a block's image with
// unsafe.Pointer, the same cast gorelly's btree/node.go and btree/meta.go
// use to read a page prefix as a struct. Every field is a uint64 so the
// struct carries no implicit padding, unlike a header built of mixed-width
// fields.
type header struct {
	NodeType  uint64
	KeySize   uint64
	ValueSize uint64
	BlockSize uint64
	RootNode  uint64
	FreeList  uint64
	NumKeys   uint64
}

var headerSize = int(unsafe.Sizeof(header{}))

const ptrSize = 8

// Node is the in-memory view of one block: a header overlay plus the raw
// slot bytes following it. A Node is owned exclusively by the stack frame
// that produced it; re-reading the same block yields an independent copy,
// and nothing shares a *Node across operations.
type Node struct {
	id     uint64
	raw    []byte
	header *header
}

func newNodeView(id uint64, raw []byte) *Node {
	return &Node{
		id:     id,
		raw:    raw,
		header: (*header)(unsafe.Pointer(&raw[0])),
	}
}

// ID returns the block id backing this node.
func (n *Node) ID() uint64 { return n.id }

// Type returns the node's kind.
func (n *Node) Type() NodeType { return NodeType(n.header.NodeType) }

// NumKeys returns the node's live slot count.
func (n *Node) NumKeys() uint64 { return n.header.NumKeys }

// CapacityInterior returns the maximum number of keys an interior/root node
// of this block size can hold.
func (n *Node) CapacityInterior() int {
	return (int(n.header.BlockSize) - headerSize) / (int(n.header.KeySize) + ptrSize)
}

// CapacityLeaf returns the maximum number of (key, value) pairs a leaf node
// of this block size can hold.
func (n *Node) CapacityLeaf() int {
	return (int(n.header.BlockSize) - headerSize) / (int(n.header.KeySize) + int(n.header.ValueSize))
}

func (n *Node) interiorStride() int {
	return int(n.header.KeySize) + ptrSize
}

func (n *Node) leafStride() int {
	return int(n.header.KeySize) + int(n.header.ValueSize)
}

func (n *Node) isInteriorShaped() bool {
	t := n.Type()
	return t == Root || t == Interior
}

// GetPtr returns child pointer i of an interior/root node.
func (n *Node) GetPtr(i int) (uint64, error) {
	if !n.isInteriorShaped() {
		return 0, &NodeTypeError{NodeType: n.Type(), Accessor: "GetPtr"}
	}
	if i < 0 || i > n.CapacityInterior() {
		return 0, &SizeError{Index: i}
	}
	off := headerSize + i*n.interiorStride()
	return binary.LittleEndian.Uint64(n.raw[off : off+ptrSize]), nil
}

// SetPtr sets child pointer i of an interior/root node.
func (n *Node) SetPtr(i int, ptr uint64) error {
	if !n.isInteriorShaped() {
		return &NodeTypeError{NodeType: n.Type(), Accessor: "SetPtr"}
	}
	if i < 0 || i > n.CapacityInterior() {
		return &SizeError{Index: i}
	}
	off := headerSize + i*n.interiorStride()
	binary.LittleEndian.PutUint64(n.raw[off:off+ptrSize], ptr)
	return nil
}

// GetKey returns key i. Valid for interior/root and leaf nodes alike, at
// different byte offsets within the slot region.
func (n *Node) GetKey(i int) ([]byte, error) {
	switch n.Type() {
	case Root, Interior:
		if i < 0 || i >= n.CapacityInterior() {
			return nil, &SizeError{Index: i}
		}
		off := headerSize + i*n.interiorStride() + ptrSize
		return n.raw[off : off+int(n.header.KeySize)], nil
	case Leaf:
		if i < 0 || i >= n.CapacityLeaf() {
			return nil, &SizeError{Index: i}
		}
		off := headerSize + i*n.leafStride()
		return n.raw[off : off+int(n.header.KeySize)], nil
	default:
		return nil, &NodeTypeError{NodeType: n.Type(), Accessor: "GetKey"}
	}
}

// SetKey sets key i, copying key's bytes into the slot.
func (n *Node) SetKey(i int, key []byte) error {
	switch n.Type() {
	case Root, Interior:
		if i < 0 || i >= n.CapacityInterior() {
			return &SizeError{Index: i}
		}
		off := headerSize + i*n.interiorStride() + ptrSize
		copy(n.raw[off:off+int(n.header.KeySize)], key)
		return nil
	case Leaf:
		if i < 0 || i >= n.CapacityLeaf() {
			return &SizeError{Index: i}
		}
		off := headerSize + i*n.leafStride()
		copy(n.raw[off:off+int(n.header.KeySize)], key)
		return nil
	default:
		return &NodeTypeError{NodeType: n.Type(), Accessor: "SetKey"}
	}
}

// GetVal returns value i of a leaf node.
func (n *Node) GetVal(i int) ([]byte, error) {
	if n.Type() != Leaf {
		return nil, &NodeTypeError{NodeType: n.Type(), Accessor: "GetVal"}
	}
	if i < 0 || i >= n.CapacityLeaf() {
		return nil, &SizeError{Index: i}
	}
	off := headerSize + i*n.leafStride() + int(n.header.KeySize)
	return n.raw[off : off+int(n.header.ValueSize)], nil
}

// SetVal sets value i of a leaf node, copying value's bytes into the slot.
func (n *Node) SetVal(i int, value []byte) error {
	if n.Type() != Leaf {
		return &NodeTypeError{NodeType: n.Type(), Accessor: "SetVal"}
	}
	if i < 0 || i >= n.CapacityLeaf() {
		return &SizeError{Index: i}
	}
	off := headerSize + i*n.leafStride() + int(n.header.KeySize)
	copy(n.raw[off:off+int(n.header.ValueSize)], value)
	return nil
}

// fillThreshold is the per-node numkeys at which a node of the given
// capacity is considered overfull and must split: true two-thirds of
// capacity, computed as capacity*2/3 rather than capacity*(2/3), which
// truncates to zero before the multiplication and would make every node
// split on its first insert.
func fillThreshold(capacity int) int {
	return capacity * 2 / 3
}
