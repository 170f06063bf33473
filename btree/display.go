package btree

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// DisplayMode selects how Display renders the tree.
type DisplayMode int

const (
	// Depth renders one line per node, unindented, depth-first: interior
	// nodes as "*ptr key *ptr key ... *ptr", leaves as their own block id
	// followed by "(key val)" pairs.
	Depth DisplayMode = iota
	// DepthDot renders the same depth-first traversal as a Graphviz digraph.
	DepthDot
	// SortedKeyVal renders only leaves, in ascending key order, one
	// "(key,val)" pair per line.
	SortedKeyVal
)

// Display walks the tree depth-first from the root and writes it to w in
// the given mode.
func (idx *Index) Display(w io.Writer, mode DisplayMode) error {
	switch mode {
	case Depth:
		return idx.displayDepth(w, idx.rootnode)
	case DepthDot:
		fmt.Fprintln(w, "digraph btree {")
		if err := idx.displayDot(w, idx.rootnode); err != nil {
			return err
		}
		fmt.Fprintln(w, "}")
		return nil
	case SortedKeyVal:
		return idx.displaySortedKeyVal(w, idx.rootnode)
	default:
		return errors.Errorf("btree: unknown display mode %d", mode)
	}
}

func (idx *Index) displayDepth(w io.Writer, nodeid uint64) error {
	n, err := idx.loadNode(nodeid)
	if err != nil {
		return err
	}

	switch n.Type() {
	case Root, Interior:
		numkeys := int(n.NumKeys())
		line := ""
		for i := 0; i < numkeys; i++ {
			ptr, err := n.GetPtr(i)
			if err != nil {
				return err
			}
			key, err := n.GetKey(i)
			if err != nil {
				return err
			}
			line += fmt.Sprintf("*%d %x ", ptr, key)
		}
		if numkeys == 0 {
			fmt.Fprintln(w, line)
			return nil
		}
		last, err := n.GetPtr(numkeys)
		if err != nil {
			return err
		}
		line += fmt.Sprintf("*%d", last)
		fmt.Fprintln(w, line)

		for i := 0; i <= numkeys; i++ {
			child, err := n.GetPtr(i)
			if err != nil {
				return err
			}
			if err := idx.displayDepth(w, child); err != nil {
				return err
			}
		}
		return nil

	case Leaf:
		numkeys := int(n.NumKeys())
		line := fmt.Sprintf("*%d", nodeid)
		for i := 0; i < numkeys; i++ {
			key, err := n.GetKey(i)
			if err != nil {
				return err
			}
			val, err := n.GetVal(i)
			if err != nil {
				return err
			}
			line += fmt.Sprintf(" (%x %x)", key, val)
		}
		fmt.Fprintln(w, line)
		return nil

	default:
		return errors.Wrapf(ErrInsane, "unexpected node type %s at block %d during display", n.Type(), nodeid)
	}
}

func (idx *Index) displayDot(w io.Writer, nodeid uint64) error {
	n, err := idx.loadNode(nodeid)
	if err != nil {
		return err
	}

	switch n.Type() {
	case Root, Interior:
		numkeys := int(n.NumKeys())
		fmt.Fprintf(w, "  %d [label=\"%s %d\"];\n", nodeid, n.Type(), nodeid)
		for i := 0; i <= numkeys; i++ {
			child, err := n.GetPtr(i)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "  %d -> %d;\n", nodeid, child)
			if err := idx.displayDot(w, child); err != nil {
				return err
			}
		}
		return nil

	case Leaf:
		numkeys := int(n.NumKeys())
		label := fmt.Sprintf("Leaf %d", nodeid)
		for i := 0; i < numkeys; i++ {
			key, err := n.GetKey(i)
			if err != nil {
				return err
			}
			val, err := n.GetVal(i)
			if err != nil {
				return err
			}
			label += fmt.Sprintf("\\n(%x,%x)", key, val)
		}
		fmt.Fprintf(w, "  %d [shape=box label=\"%s\"];\n", nodeid, label)
		return nil

	default:
		return errors.Wrapf(ErrInsane, "unexpected node type %s at block %d during display", n.Type(), nodeid)
	}
}

func (idx *Index) displaySortedKeyVal(w io.Writer, nodeid uint64) error {
	n, err := idx.loadNode(nodeid)
	if err != nil {
		return err
	}

	switch n.Type() {
	case Root, Interior:
		numkeys := int(n.NumKeys())
		if numkeys == 0 {
			return nil
		}
		for i := 0; i <= numkeys; i++ {
			child, err := n.GetPtr(i)
			if err != nil {
				return err
			}
			if err := idx.displaySortedKeyVal(w, child); err != nil {
				return err
			}
		}
		return nil

	case Leaf:
		numkeys := int(n.NumKeys())
		for i := 0; i < numkeys; i++ {
			key, err := n.GetKey(i)
			if err != nil {
				return err
			}
			val, err := n.GetVal(i)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "(%x,%x)\n", key, val)
		}
		return nil

	default:
		return errors.Wrapf(ErrInsane, "unexpected node type %s at block %d during display", n.Type(), nodeid)
	}
}
