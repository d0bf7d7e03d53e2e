// Package component models the ordered, rooted tree of components that a
// render pass consumes. Nodes live in an arena addressed by index: children
// reference each other by NodeID, never by owning pointers, so shared or
// back-referencing sub-structures cannot form ownership cycles.
package component

import "github.com/wehubfusion/Daedalus/pkg/bridge"

// Kind identifies what a node is
type Kind uint8

const (
	// KindStatic is a node with no async dependency that renders directly
	KindStatic Kind = iota

	// KindBridge is a node that must resolve asynchronous work before rendering
	KindBridge

	// KindComposite is a node that only groups children and has no markup
	// or resolution cost of its own
	KindComposite
)

// String returns the string representation of the node kind
func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindBridge:
		return "bridge"
	case KindComposite:
		return "composite"
	}
	return "unknown"
}

// Marker tags a static node as an insertion point the document rewriter
// must fill before the output leaves the session.
type Marker uint8

const (
	// MarkerNone means the node carries plain markup
	MarkerNone Marker = iota

	// MarkerHydration marks where the serialized hydration payload is injected
	MarkerHydration

	// MarkerAsset marks where a resolved asset reference is injected
	MarkerAsset
)

// NodeID addresses a node within its tree's arena. IDs are only meaningful
// relative to the tree that issued them.
type NodeID int32

// InvalidNode is the zero-value sentinel for "no node"
const InvalidNode NodeID = -1

// Node is one entry in the tree arena. Exactly one of the kind-specific
// fields is meaningful for a given Kind.
type Node struct {
	// Kind is the node's classification
	Kind Kind

	// Marker tags static nodes that are insertion points
	Marker Marker

	// HTML is the markup of a static node (already escaped or trusted)
	HTML string

	// Asset is the logical asset name for MarkerAsset nodes
	Asset string

	// Resolvable is the async contract of a bridge node
	Resolvable bridge.Resolvable

	// Fallback is the placeholder markup substituted for this bridge node
	// when it fails under best-effort mode; empty means the configured
	// session default applies
	Fallback string

	// Children holds the ordered child IDs of a composite node
	Children []NodeID
}

// Tree is an ordered, rooted component tree. Its structure is fixed for the
// duration of one render pass; builders must finish before rendering starts.
type Tree struct {
	nodes []Node
	root  NodeID
}

// NewTree creates an empty tree with no root
func NewTree() *Tree {
	return &Tree{root: InvalidNode}
}

func (t *Tree) add(n Node) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, n)
	return id
}

// Static adds a static markup node and returns its ID. The markup is
// emitted verbatim; callers escape untrusted text first (see markup.Text).
func (t *Tree) Static(html string) NodeID {
	return t.add(Node{Kind: KindStatic, HTML: html})
}

// Bridge adds an asynchronous node backed by the given resolvable.
// fallback is the markup substituted under best-effort mode if the
// resolution fails; pass "" to use the session default.
func (t *Tree) Bridge(r bridge.Resolvable, fallback string) NodeID {
	return t.add(Node{Kind: KindBridge, Resolvable: r, Fallback: fallback})
}

// Composite adds a grouping node with the given ordered children
func (t *Tree) Composite(children ...NodeID) NodeID {
	return t.add(Node{Kind: KindComposite, Children: children})
}

// HydrationSlot adds the insertion point for the serialized hydration
// payload. A document must contain exactly one.
func (t *Tree) HydrationSlot() NodeID {
	return t.add(Node{Kind: KindStatic, Marker: MarkerHydration})
}

// AssetSlot adds an insertion point for the asset with the given logical name
func (t *Tree) AssetSlot(name string) NodeID {
	return t.add(Node{Kind: KindStatic, Marker: MarkerAsset, Asset: name})
}

// SetRoot designates the tree's root node
func (t *Tree) SetRoot(id NodeID) {
	t.root = id
}

// Root returns the tree's root, or InvalidNode if none was set
func (t *Tree) Root() NodeID {
	return t.root
}

// Len returns the number of nodes in the arena
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Node returns the node stored at id. The returned pointer stays valid for
// the tree's lifetime; callers must not mutate it during a render pass.
func (t *Tree) Node(id NodeID) *Node {
	return &t.nodes[id]
}

// Walk visits every node reachable from the root in pre-order: a node first,
// then its children left to right. This is the traversal order that slot
// assignment and markup rendering share; fn returning false stops the walk.
func (t *Tree) Walk(fn func(id NodeID, n *Node) bool) {
	if t.root == InvalidNode {
		return
	}
	t.walk(t.root, fn)
}

func (t *Tree) walk(id NodeID, fn func(NodeID, *Node) bool) bool {
	n := &t.nodes[id]
	if !fn(id, n) {
		return false
	}
	for _, c := range n.Children {
		if !t.walk(c, fn) {
			return false
		}
	}
	return true
}

// BridgeCount returns the number of bridge nodes reachable from the root
func (t *Tree) BridgeCount() int {
	count := 0
	t.Walk(func(_ NodeID, n *Node) bool {
		if n.Kind == KindBridge {
			count++
		}
		return true
	})
	return count
}

// Clone returns a structural copy of the tree sharing no arena storage with
// the original. The scheduler resolves into a clone so the input tree stays
// untouched across a render pass.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		nodes: make([]Node, len(t.nodes)),
		root:  t.root,
	}
	copy(c.nodes, t.nodes)
	for i := range c.nodes {
		if len(t.nodes[i].Children) > 0 {
			c.nodes[i].Children = append([]NodeID(nil), t.nodes[i].Children...)
		}
	}
	return c
}
