package graph

import (
	"fmt"
	"testing"
)

func TestCartTreePutGet(t *testing.T) {
	tree := newCartTree()
	tree.Put(10, "e1")
	tree.Put(20, "e2")
	tree.Put(300, "e3")

	edges, ok := tree.Get(20)
	if !ok || len(edges) != 1 || edges[0] != "e2" {
		t.Fatalf("Get(20) = %v, %v, want [e2] true", edges, ok)
	}
	if _, ok := tree.Get(999); ok {
		t.Fatalf("Get(999) should miss")
	}
	if tree.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tree.Len())
	}
}

func TestCartTreeMultigraphSameTarget(t *testing.T) {
	tree := newCartTree()
	tree.Put(42, "e1")
	tree.Put(42, "e2")

	edges, ok := tree.Get(42)
	if !ok || len(edges) != 2 {
		t.Fatalf("Get(42) = %v, want 2 edges", edges)
	}
}

func TestCartTreeDeletePrunesEmptyLeaf(t *testing.T) {
	tree := newCartTree()
	tree.Put(1, "e1")
	tree.Put(2, "e2")

	tree.Delete(1, "e1")
	if _, ok := tree.Get(1); ok {
		t.Fatalf("Get(1) should miss after deleting its only edge")
	}
	if tree.Len() != 1 {
		t.Fatalf("Len() after delete = %d, want 1", tree.Len())
	}
	edges, ok := tree.Get(2)
	if !ok || len(edges) != 1 {
		t.Fatalf("Get(2) should be unaffected by deleting key 1, got %v", edges)
	}
}

func TestCartTreeDeleteUnknownKeyIsNoop(t *testing.T) {
	tree := newCartTree()
	tree.Put(5, "e1")
	tree.Delete(999, "e1")
	if tree.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after deleting an absent key", tree.Len())
	}
}

func TestCartTreeManyKeysRoundTrip(t *testing.T) {
	tree := newCartTree()
	const n = 2000
	for i := uint64(0); i < n; i++ {
		tree.Put(i*7919+3, fmt.Sprintf("edge-%d", i))
	}
	if tree.Len() != n {
		t.Fatalf("Len() = %d, want %d", tree.Len(), n)
	}
	for i := uint64(0); i < n; i++ {
		key := i*7919 + 3
		edges, ok := tree.Get(key)
		if !ok || len(edges) != 1 || edges[0] != fmt.Sprintf("edge-%d", i) {
			t.Fatalf("Get(%d) = %v, %v, want [edge-%d] true", key, edges, ok, i)
		}
	}
}

func TestCartTreeForEachVisitsAllKeys(t *testing.T) {
	tree := newCartTree()
	want := map[uint64]bool{1: true, 1000: true, 1 << 40: true}
	for k := range want {
		tree.Put(k, "e")
	}
	got := make(map[uint64]bool)
	tree.ForEach(func(k uint64, edges []string) bool {
		got[k] = true
		return true
	})
	if len(got) != len(want) {
		t.Fatalf("ForEach visited %v, want keys %v", got, want)
	}
	for k := range want {
		if !got[k] {
			t.Fatalf("ForEach missed key %d", k)
		}
	}
}

func TestCartTreePromotesToIndex256UnderHighFanout(t *testing.T) {
	tree := newCartTree()
	// All keys share the same top 7 bytes and differ only in the last byte,
	// forcing one inner node to accumulate more than cartNode48Cap children.
	for b := 0; b < 200; b++ {
		tree.Put(uint64(b), fmt.Sprintf("edge-%d", b))
	}
	inner, ok := tree.root.(*cartInner)
	if !ok {
		t.Fatalf("root = %T, want *cartInner", tree.root)
	}
	if inner.index == nil {
		t.Fatalf("expected root to be promoted to a direct index after >48 children")
	}
	edges, ok := tree.Get(150)
	if !ok || len(edges) != 1 || edges[0] != "edge-150" {
		t.Fatalf("Get(150) = %v, %v, want [edge-150] true", edges, ok)
	}
}
