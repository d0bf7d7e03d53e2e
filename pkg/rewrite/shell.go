package rewrite

import (
	"fmt"
	"io"
	"strings"

	"github.com/wehubfusion/Daedalus/pkg/component"
	"golang.org/x/net/html"
)

// Shell marker comments recognized in an HTML document shell:
//
//	<!--daedalus:outlet-->       where the application renders
//	<!--daedalus:hydration-->    where the hydration payload is injected
//	<!--daedalus:asset:NAME-->   where asset NAME's reference is injected
const (
	markerPrefix    = "daedalus:"
	markerOutlet    = "outlet"
	markerHydration = "hydration"
	assetPrefix     = "asset:"
)

type segmentKind uint8

const (
	segLiteral segmentKind = iota
	segOutlet
	segHydration
	segAsset
)

type segment struct {
	kind  segmentKind
	bytes []byte
	asset string
}

// Shell is a parsed HTML document shell: the literal byte runs between
// marker comments, in document order. A shell is parsed once at startup and
// reused across render sessions; it is immutable after ParseShell returns.
type Shell struct {
	segments     []segment
	hasOutlet    bool
	hasHydration bool
}

// ParseShell tokenizes an HTML document shell and splits it at marker
// comments. Unknown daedalus: markers are an error; everything else passes
// through byte-for-byte.
func ParseShell(r io.Reader) (*Shell, error) {
	z := html.NewTokenizer(r)
	sh := &Shell{}
	var literal []byte

	flush := func() {
		if len(literal) > 0 {
			sh.segments = append(sh.segments, segment{kind: segLiteral, bytes: literal})
			literal = nil
		}
	}

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to parse document shell: %w", z.Err())
		}

		if tt == html.CommentToken {
			text := strings.TrimSpace(string(z.Text()))
			if rest, ok := strings.CutPrefix(text, markerPrefix); ok {
				flush()
				switch {
				case rest == markerOutlet:
					sh.segments = append(sh.segments, segment{kind: segOutlet})
					sh.hasOutlet = true
				case rest == markerHydration:
					sh.segments = append(sh.segments, segment{kind: segHydration})
					sh.hasHydration = true
				case strings.HasPrefix(rest, assetPrefix):
					name := strings.TrimPrefix(rest, assetPrefix)
					if name == "" {
						return nil, fmt.Errorf("asset marker with empty name in document shell")
					}
					sh.segments = append(sh.segments, segment{kind: segAsset, asset: name})
				default:
					return nil, fmt.Errorf("unknown shell marker %q", text)
				}
				continue
			}
		}

		literal = append(literal, z.Raw()...)
	}
	flush()

	if !sh.hasOutlet {
		return nil, fmt.Errorf("document shell contains no outlet marker")
	}
	if !sh.hasHydration {
		return nil, fmt.Errorf("document shell contains no hydration marker")
	}
	return sh, nil
}

// Tree composes a full document tree from the shell and an application
// subtree. buildApp receives the tree under construction and returns the
// application root placed at the outlet marker.
func (sh *Shell) Tree(buildApp func(t *component.Tree) component.NodeID) *component.Tree {
	t := component.NewTree()
	children := make([]component.NodeID, 0, len(sh.segments))

	for _, seg := range sh.segments {
		switch seg.kind {
		case segLiteral:
			children = append(children, t.Static(string(seg.bytes)))
		case segOutlet:
			children = append(children, buildApp(t))
		case segHydration:
			children = append(children, t.HydrationSlot())
		case segAsset:
			children = append(children, t.AssetSlot(seg.asset))
		}
	}

	t.SetRoot(t.Composite(children...))
	return t
}
