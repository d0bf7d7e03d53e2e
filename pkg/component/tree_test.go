package component

import (
	"context"
	"testing"

	"github.com/wehubfusion/Daedalus/pkg/bridge"
)

func staticResolvable() bridge.Resolvable {
	return bridge.Func(func(ctx context.Context) (bridge.ResolvedState, error) {
		return bridge.State{Data: 1, HTML: "<p>1</p>"}, nil
	})
}

func TestWalkVisitsPreOrder(t *testing.T) {
	tree := NewTree()
	a := tree.Static("<a>")
	b := tree.Bridge(staticResolvable(), "")
	c := tree.Static("<c>")
	inner := tree.Composite(b, c)
	d := tree.Static("<d>")
	root := tree.Composite(a, inner, d)
	tree.SetRoot(root)

	var visited []NodeID
	tree.Walk(func(id NodeID, _ *Node) bool {
		visited = append(visited, id)
		return true
	})

	want := []NodeID{root, a, inner, b, c, d}
	if len(visited) != len(want) {
		t.Fatalf("expected %d nodes visited, got %d", len(want), len(visited))
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("visit %d: expected node %d, got %d", i, want[i], visited[i])
		}
	}
}

func TestWalkStopsWhenCallbackReturnsFalse(t *testing.T) {
	tree := NewTree()
	a := tree.Static("<a>")
	b := tree.Static("<b>")
	tree.SetRoot(tree.Composite(a, b))

	count := 0
	tree.Walk(func(_ NodeID, _ *Node) bool {
		count++
		return count < 2
	})

	if count != 2 {
		t.Fatalf("expected walk to stop after 2 visits, got %d", count)
	}
}

func TestWalkWithoutRootVisitsNothing(t *testing.T) {
	tree := NewTree()
	tree.Static("<orphan>")

	tree.Walk(func(_ NodeID, _ *Node) bool {
		t.Fatal("walk visited a node with no root set")
		return false
	})
}

func TestBridgeCount(t *testing.T) {
	tree := NewTree()
	b1 := tree.Bridge(staticResolvable(), "")
	b2 := tree.Bridge(staticResolvable(), "")
	s := tree.Static("<s>")
	tree.SetRoot(tree.Composite(b1, s, tree.Composite(b2)))

	// A bridge outside the reachable tree must not count
	tree.Bridge(staticResolvable(), "")

	if got := tree.BridgeCount(); got != 2 {
		t.Fatalf("expected 2 reachable bridge nodes, got %d", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	tree := NewTree()
	a := tree.Static("<a>")
	b := tree.Bridge(staticResolvable(), "fallback")
	root := tree.Composite(a, b)
	tree.SetRoot(root)

	clone := tree.Clone()

	clone.Node(b).Kind = KindStatic
	clone.Node(b).HTML = "<resolved>"
	clone.Node(root).Children[0] = b

	if tree.Node(b).Kind != KindBridge {
		t.Fatal("mutating the clone changed the original's node kind")
	}
	if tree.Node(root).Children[0] != a {
		t.Fatal("mutating the clone changed the original's child order")
	}
	if clone.Root() != tree.Root() {
		t.Fatalf("expected clone root %d, got %d", tree.Root(), clone.Root())
	}
}

func TestMarkerSlots(t *testing.T) {
	tree := NewTree()
	h := tree.HydrationSlot()
	a := tree.AssetSlot("client")

	if n := tree.Node(h); n.Kind != KindStatic || n.Marker != MarkerHydration {
		t.Fatalf("unexpected hydration slot node: %+v", n)
	}
	if n := tree.Node(a); n.Marker != MarkerAsset || n.Asset != "client" {
		t.Fatalf("unexpected asset slot node: %+v", n)
	}
}
