// Package tree builds and persists immutable interval search trees.
//
// Every node covers one interval [Left,Right] and holds all entries
// registered for exactly that interval, sorted by object reference. Nodes
// are ordered by (Left, Right) and carry the maximum Right of their subtree
// so point and range queries can prune whole subtrees.
//
// A persisted tree is written in post-order. A node refers to its children
// by the distance back from its own offset, and to its entries' objects by
// deltas from a base reference shared by the whole tree:
//
//	left (zigzag) | right-left | max-right | childFlags
//	[offset-lowOffset] [offset-highOffset]
//	count | (refDelta, tag, termRef) * count
package tree

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"slices"

	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
)

const (
	hasLow  byte = 0x01
	hasHigh byte = 0x02
)

// Entry is one indexed object.
type Entry struct {
	Left      int64
	Right     int64
	ObjectRef int64
	Tag       uint32
	TermRef   int64
}

// Point returns an entry keyed by a single value.
func Point(key, objectRef int64, tag uint32, termRef int64) Entry {
	return Entry{Left: key, Right: key, ObjectRef: objectRef, Tag: tag, TermRef: termRef}
}

// Node is an in-memory tree node produced by Build.
type Node struct {
	Left    int64
	Right   int64
	Max     int64
	Entries []Entry
	Low     *Node
	High    *Node
}

// Build groups entries by interval and returns the root of a balanced tree,
// or nil for no entries. With unique set, an interval holding more than one
// entry is rejected.
func Build(entries []Entry, unique bool) (*Node, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int {
		if c := cmp.Compare(a.Left, b.Left); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Right, b.Right); c != 0 {
			return c
		}
		return cmp.Compare(a.ObjectRef, b.ObjectRef)
	})

	var nodes []*Node
	for i := 0; i < len(sorted); {
		e := sorted[i]
		if e.Right < e.Left {
			return nil, apperrors.Format("tree entry interval [%d,%d] is inverted", e.Left, e.Right)
		}
		j := i + 1
		for j < len(sorted) && sorted[j].Left == e.Left && sorted[j].Right == e.Right {
			j++
		}
		if unique && j-i > 1 {
			return nil, apperrors.Format("key [%d,%d] has %d entries in a single-point tree", e.Left, e.Right, j-i)
		}
		nodes = append(nodes, &Node{Left: e.Left, Right: e.Right, Entries: sorted[i:j:j]})
		i = j
	}
	return balance(nodes), nil
}

func balance(nodes []*Node) *Node {
	if len(nodes) == 0 {
		return nil
	}
	mid := len(nodes) / 2
	n := nodes[mid]
	n.Low = balance(nodes[:mid])
	n.High = balance(nodes[mid+1:])
	n.Max = n.Right
	if n.Low != nil {
		n.Max = max(n.Max, n.Low.Max)
	}
	if n.High != nil {
		n.Max = max(n.Max, n.High.Max)
	}
	return n
}

// Output is where Persist writes nodes. Offset reports the absolute file
// position of the next byte written.
type Output interface {
	Write(p []byte) (int, error)
	Offset() int64
}

// Persist writes the tree rooted at root and returns the root's offset, or
// -1 for an empty tree. Every ObjectRef must be >= base.
func Persist(root *Node, out Output, base int64) (int64, error) {
	if root == nil {
		return -1, nil
	}
	type frame struct {
		node     *Node
		expanded bool
	}
	offsets := make(map[*Node]int64)
	stack := []frame{{node: root}}
	buf := make([]byte, 0, 256)
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if !top.expanded {
			top.expanded = true
			n := top.node
			if n.High != nil {
				stack = append(stack, frame{node: n.High})
			}
			if n.Low != nil {
				stack = append(stack, frame{node: n.Low})
			}
			continue
		}
		n := top.node
		stack = stack[:len(stack)-1]

		at := out.Offset()
		var err error
		buf, err = appendNode(buf[:0], n, at, offsets, base)
		if err != nil {
			return 0, err
		}
		if _, err := out.Write(buf); err != nil {
			return 0, fmt.Errorf("writing tree node: %w", err)
		}
		offsets[n] = at
	}
	return offsets[root], nil
}

func appendNode(dst []byte, n *Node, at int64, offsets map[*Node]int64, base int64) ([]byte, error) {
	dst = binary.AppendVarint(dst, n.Left)
	dst = binary.AppendUvarint(dst, uint64(n.Right-n.Left))
	dst = binary.AppendUvarint(dst, uint64(n.Max-n.Right))
	var flags byte
	if n.Low != nil {
		flags |= hasLow
	}
	if n.High != nil {
		flags |= hasHigh
	}
	dst = append(dst, flags)
	for _, child := range []*Node{n.Low, n.High} {
		if child == nil {
			continue
		}
		off, ok := offsets[child]
		if !ok || off >= at {
			return nil, fmt.Errorf("child of node [%d,%d] not written before its parent", n.Left, n.Right)
		}
		dst = binary.AppendUvarint(dst, uint64(at-off))
	}
	dst = binary.AppendUvarint(dst, uint64(len(n.Entries)))
	prev := base
	for _, e := range n.Entries {
		if e.ObjectRef < prev {
			return nil, apperrors.Format("object reference %d below base %d or out of order", e.ObjectRef, prev)
		}
		dst = binary.AppendUvarint(dst, uint64(e.ObjectRef-prev))
		dst = binary.AppendUvarint(dst, uint64(e.Tag))
		dst = binary.AppendUvarint(dst, uint64(e.TermRef))
		prev = e.ObjectRef
	}
	return dst, nil
}
