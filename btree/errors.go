package btree

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors for the operation outcomes that carry no extra context.
var (
	ErrNotFound      = errors.New("btree: key not found")
	ErrConflict      = errors.New("btree: key already exists")
	ErrNoSpace       = errors.New("btree: free list exhausted")
	ErrUnimplemented = errors.New("btree: operation not implemented")
	ErrInsane        = errors.New("btree: structural invariant violated")
)

// SizeError reports a slot accessor called with an index outside the node's
// physical capacity.
type SizeError struct {
	Index int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("btree: slot index %d out of range", e.Index)
}

// NodeTypeError reports a slot accessor called against a node kind that
// does not support it (e.g. GetVal on an interior node).
type NodeTypeError struct {
	NodeType NodeType
	Accessor string
}

func (e *NodeTypeError) Error() string {
	return fmt.Sprintf("btree: %s is not valid for a %s node", e.Accessor, e.NodeType)
}
