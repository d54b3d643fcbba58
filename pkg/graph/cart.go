package graph

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

// cartNode48Cap is the fan-out at which a node is promoted from a
// sorted linear-scan child array (the shape ART calls Node4/Node16/Node48)
// to a direct 256-slot index (Node256), so a hub's children still dispatch
// in O(1) instead of walking a growing slice.
const cartNode48Cap = 48

// cartLeaf is a terminal entry keyed by the full 8-byte target id. Multiple
// edges between the same pair of nodes (a multigraph) collapse into one
// leaf holding all of their ids.
type cartLeaf struct {
	key   uint64
	fp    uint64 // xxhash of the key's big-endian bytes, checked before the exact compare
	edges []string
}

func (l *cartLeaf) addEdge(id string) {
	for _, e := range l.edges {
		if e == id {
			return
		}
	}
	l.edges = append(l.edges, id)
}

func (l *cartLeaf) removeEdge(id string) bool {
	for i, e := range l.edges {
		if e == id {
			l.edges = append(l.edges[:i], l.edges[i+1:]...)
			return true
		}
	}
	return false
}

// cartInner is an internal radix node. prefix is the run of key bytes this
// node consumes before branching (path compression); children are sorted
// by their branch byte until the node is promoted to the direct index.
type cartInner struct {
	prefix   []byte
	keys     []byte
	children []cartNodeRef
	index    []cartNodeRef // len 256 once promoted, nil otherwise
}

// cartNodeRef is either a *cartLeaf or a *cartInner. A plain interface{}
// keeps the tree free of an explicit tagged-union type while still letting
// leaves collapse single-key subtrees without materializing 8 levels of
// one-child inner nodes.
type cartNodeRef interface{}

func keyBytes(k uint64) [8]byte {
	var b [8]byte
	b[0] = byte(k >> 56)
	b[1] = byte(k >> 48)
	b[2] = byte(k >> 40)
	b[3] = byte(k >> 32)
	b[4] = byte(k >> 24)
	b[5] = byte(k >> 16)
	b[6] = byte(k >> 8)
	b[7] = byte(k)
	return b
}

// cartTree is a compressed adaptive radix tree mapping target node ids to
// the set of edge ids that land on them, used by the degree router for
// hub-sized adjacency lists (spec: O(log n) lookup with bounded memory,
// instead of a dense per-node slice that would grow without bound).
type cartTree struct {
	root cartNodeRef // nil, *cartLeaf, or *cartInner
	size int
}

func newCartTree() *cartTree {
	return &cartTree{}
}

func (t *cartTree) Len() int { return t.size }

func (t *cartTree) Put(key uint64, edgeID string) {
	bytes := keyBytes(key)
	fp := xxhash.Sum64(bytes[:])
	if t.root == nil {
		t.root = &cartLeaf{key: key, fp: fp, edges: []string{edgeID}}
		t.size++
		return
	}
	t.root = insertInto(t.root, bytes[:], key, fp, edgeID, t)
}

func insertInto(node cartNodeRef, remaining []byte, key uint64, fp uint64, edgeID string, t *cartTree) cartNodeRef {
	switch n := node.(type) {
	case *cartLeaf:
		if n.key == key {
			before := len(n.edges)
			n.addEdge(edgeID)
			if len(n.edges) > before {
				t.size++
			}
			return n
		}
		otherBytes := keyBytes(n.key)
		offset := 8 - len(remaining)
		common := commonPrefixLen(remaining, otherBytes[offset:])
		newLeaf := &cartLeaf{key: key, fp: fp, edges: []string{edgeID}}
		t.size++

		branch := &cartInner{prefix: append([]byte(nil), remaining[:common]...)}
		oldByte := otherBytes[offset+common]
		newByte := remaining[common]
		branch.addChild(oldByte, n)
		branch.addChild(newByte, newLeaf)
		return branch

	case *cartInner:
		common := commonPrefixLen(remaining, n.prefix)
		if common < len(n.prefix) {
			// Split: n's remaining prefix becomes a child of a new parent.
			// Both keys are fixed at 8 bytes, so a branch point can never
			// land exactly on a key's final byte for one side only — common
			// is always strictly less than len(remaining) here.
			oldByte := n.prefix[common]
			split := &cartInner{prefix: append([]byte(nil), n.prefix[:common]...)}
			n.prefix = n.prefix[common+1:]
			split.addChild(oldByte, n)

			newByte := remaining[common]
			leaf := &cartLeaf{key: key, fp: fp, edges: []string{edgeID}}
			t.size++
			split.addChild(newByte, leaf)
			return split
		}

		rest := remaining[common:]
		b := rest[0]
		child, ok := n.findChild(b)
		if !ok {
			leaf := &cartLeaf{key: key, fp: fp, edges: []string{edgeID}}
			t.size++
			n.addChild(b, leaf)
			return n
		}
		updated := insertInto(child, rest[1:], key, fp, edgeID, t)
		n.replaceChild(b, updated)
		return n
	}
	panic("graph: cart tree holds an unknown node type")
}

func (n *cartInner) findChild(b byte) (cartNodeRef, bool) {
	if n.index != nil {
		c := n.index[b]
		return c, c != nil
	}
	i := sort.Search(len(n.keys), func(i int) bool { return n.keys[i] >= b })
	if i < len(n.keys) && n.keys[i] == b {
		return n.children[i], true
	}
	return nil, false
}

func (n *cartInner) addChild(b byte, child cartNodeRef) {
	if n.index != nil {
		n.index[b] = child
		return
	}
	i := sort.Search(len(n.keys), func(i int) bool { return n.keys[i] >= b })
	n.keys = append(n.keys, 0)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = b
	n.children = append(n.children, nil)
	copy(n.children[i+1:], n.children[i:])
	n.children[i] = child

	if len(n.keys) > cartNode48Cap {
		n.promoteToIndex()
	}
}

func (n *cartInner) replaceChild(b byte, child cartNodeRef) {
	if n.index != nil {
		n.index[b] = child
		return
	}
	i := sort.Search(len(n.keys), func(i int) bool { return n.keys[i] >= b })
	if i < len(n.keys) && n.keys[i] == b {
		n.children[i] = child
	}
}

func (n *cartInner) removeChildByte(b byte) {
	if n.index != nil {
		n.index[b] = nil
		return
	}
	i := sort.Search(len(n.keys), func(i int) bool { return n.keys[i] >= b })
	if i < len(n.keys) && n.keys[i] == b {
		n.keys = append(n.keys[:i], n.keys[i+1:]...)
		n.children = append(n.children[:i], n.children[i+1:]...)
	}
}

func (n *cartInner) promoteToIndex() {
	idx := make([]cartNodeRef, 256)
	for i, b := range n.keys {
		idx[b] = n.children[i]
	}
	n.index = idx
	n.keys = nil
	n.children = nil
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// Get returns the edge ids landing on key, if any.
func (t *cartTree) Get(key uint64) ([]string, bool) {
	bytes := keyBytes(key)
	fp := xxhash.Sum64(bytes[:])
	node := t.root
	remaining := bytes[:]
	for {
		switch n := node.(type) {
		case nil:
			return nil, false
		case *cartLeaf:
			if n.fp == fp && n.key == key {
				return n.edges, true
			}
			return nil, false
		case *cartInner:
			common := commonPrefixLen(remaining, n.prefix)
			if common < len(n.prefix) {
				return nil, false
			}
			remaining = remaining[common:]
			if len(remaining) == 0 {
				return nil, false
			}
			child, ok := n.findChild(remaining[0])
			if !ok {
				return nil, false
			}
			node = child
			remaining = remaining[1:]
		}
	}
}

// Delete removes edgeID from key's entry, pruning the leaf (and any inner
// node left with no children) if it becomes empty.
func (t *cartTree) Delete(key uint64, edgeID string) {
	bytes := keyBytes(key)
	removed := false
	t.root = deleteFrom(t.root, bytes[:], key, edgeID, &removed)
	if removed {
		t.size--
	}
}

// deleteFrom returns the (possibly nil) replacement for node after removing
// edgeID from key's leaf and pruning any node left childless.
func deleteFrom(node cartNodeRef, remaining []byte, key uint64, edgeID string, removed *bool) cartNodeRef {
	switch n := node.(type) {
	case nil:
		return nil
	case *cartLeaf:
		if n.key != key {
			return n
		}
		if n.removeEdge(edgeID) {
			*removed = true
		}
		if len(n.edges) == 0 {
			return nil
		}
		return n
	case *cartInner:
		common := commonPrefixLen(remaining, n.prefix)
		if common < len(n.prefix) || common == len(remaining) {
			return n
		}
		b := remaining[common]
		child, ok := n.findChild(b)
		if !ok {
			return n
		}
		updated := deleteFrom(child, remaining[common+1:], key, edgeID, removed)
		if updated == nil {
			n.removeChildByte(b)
		} else {
			n.replaceChild(b, updated)
		}
		if n.childCount() == 0 {
			return nil
		}
		return n
	}
	return node
}

func (n *cartInner) childCount() int {
	if n.index != nil {
		count := 0
		for _, c := range n.index {
			if c != nil {
				count++
			}
		}
		return count
	}
	return len(n.keys)
}

// ForEach visits every (target id, edge ids) pair. Traversal order is not
// sorted by key; callers needing sorted output should sort the result.
func (t *cartTree) ForEach(fn func(key uint64, edgeIDs []string) bool) {
	forEachNode(t.root, fn)
}

func forEachNode(node cartNodeRef, fn func(uint64, []string) bool) bool {
	switch n := node.(type) {
	case nil:
		return true
	case *cartLeaf:
		if len(n.edges) == 0 {
			return true
		}
		return fn(n.key, n.edges)
	case *cartInner:
		if n.index != nil {
			for _, c := range n.index {
				if c == nil {
					continue
				}
				if !forEachNode(c, fn) {
					return false
				}
			}
			return true
		}
		for _, c := range n.children {
			if !forEachNode(c, fn) {
				return false
			}
		}
		return true
	}
	return true
}
