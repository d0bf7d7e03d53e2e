// Package markup turns a resolved component tree into a lazy stream of
// markup chunks. The renderer walks the same pre-order the scheduler used
// for slot assignment, performs no I/O and never suspends; it is a pure
// transform over already-resolved data, deterministic for a fixed tree.
package markup

import (
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/component"
	"golang.org/x/net/html"
)

// Marker identifies the insertion point a chunk carries, if any
type Marker uint8

const (
	// MarkerNone means the chunk is plain markup
	MarkerNone Marker = iota

	// MarkerHydration means the chunk is the hydration payload insertion point
	MarkerHydration

	// MarkerAsset means the chunk is an asset reference insertion point
	MarkerAsset
)

// Chunk is one fragment of output markup. Marker chunks carry no bytes of
// their own; the document rewriter substitutes their content.
type Chunk struct {
	// Node is the originating node's ID
	Node component.NodeID

	// Marker tags insertion points the rewriter must fill
	Marker Marker

	// Asset is the logical asset name for MarkerAsset chunks
	Asset string

	// Bytes is the chunk's markup for MarkerNone chunks
	Bytes []byte
}

// Stream is a lazy, finite, non-restartable sequence of chunks produced by
// one render pass. It is not safe for concurrent use.
type Stream struct {
	tree  *component.Tree
	stack []component.NodeID
	done  bool
}

// Render starts a single rendering pass over a resolved tree. The tree must
// contain no bridge nodes; encountering one is a contract violation reported
// by Next.
func Render(tree *component.Tree) *Stream {
	s := &Stream{tree: tree}
	if root := tree.Root(); root != component.InvalidNode {
		s.stack = append(s.stack, root)
	}
	return s
}

// Next produces the next chunk of the stream. It returns false once the
// stream is exhausted; after that every call returns false. Composite nodes
// emit nothing themselves, only their children.
func (s *Stream) Next() (Chunk, bool, error) {
	for !s.done && len(s.stack) > 0 {
		id := s.stack[len(s.stack)-1]
		s.stack = s.stack[:len(s.stack)-1]
		n := s.tree.Node(id)

		switch n.Kind {
		case component.KindComposite:
			// Push children right to left so they pop in document order
			for i := len(n.Children) - 1; i >= 0; i-- {
				s.stack = append(s.stack, n.Children[i])
			}

		case component.KindStatic:
			switch n.Marker {
			case component.MarkerHydration:
				return Chunk{Node: id, Marker: MarkerHydration}, true, nil
			case component.MarkerAsset:
				return Chunk{Node: id, Marker: MarkerAsset, Asset: n.Asset}, true, nil
			default:
				if n.HTML == "" {
					continue
				}
				return Chunk{Node: id, Bytes: []byte(n.HTML)}, true, nil
			}

		case component.KindBridge:
			s.done = true
			return Chunk{}, false, fmt.Errorf("unresolved bridge node %d in render stream", id)
		}
	}
	s.done = true
	return Chunk{}, false, nil
}

// Text escapes untrusted text for safe inclusion in markup. Authored static
// nodes hold trusted markup; anything user-derived goes through here first.
func Text(s string) string {
	return html.EscapeString(s)
}
