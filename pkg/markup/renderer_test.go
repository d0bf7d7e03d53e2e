package markup

import (
	"bytes"
	"context"
	"testing"

	"github.com/wehubfusion/Daedalus/pkg/bridge"
	"github.com/wehubfusion/Daedalus/pkg/component"
)

func collect(t *testing.T, s *Stream) []Chunk {
	t.Helper()
	var chunks []Chunk
	for {
		chunk, ok, err := s.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !ok {
			return chunks
		}
		chunks = append(chunks, chunk)
	}
}

func TestStreamEmitsDocumentOrder(t *testing.T) {
	tree := component.NewTree()
	head := tree.Static("<head>")
	inner := tree.Composite(tree.Static("<main>"), tree.Static("</main>"))
	tail := tree.Static("</html>")
	tree.SetRoot(tree.Composite(head, inner, tail))

	var out bytes.Buffer
	for _, c := range collect(t, Render(tree)) {
		out.Write(c.Bytes)
	}
	if got := out.String(); got != "<head><main></main></html>" {
		t.Fatalf("unexpected document %q", got)
	}
}

func TestStreamEmitsMarkerChunks(t *testing.T) {
	tree := component.NewTree()
	tree.SetRoot(tree.Composite(
		tree.Static("<body>"),
		tree.HydrationSlot(),
		tree.AssetSlot("client"),
	))

	chunks := collect(t, Render(tree))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[1].Marker != MarkerHydration {
		t.Fatalf("expected hydration marker, got %v", chunks[1].Marker)
	}
	if chunks[1].Bytes != nil {
		t.Fatal("marker chunk carried bytes")
	}
	if chunks[2].Marker != MarkerAsset || chunks[2].Asset != "client" {
		t.Fatalf("unexpected asset chunk %+v", chunks[2])
	}
}

func TestStreamSkipsEmptyStatics(t *testing.T) {
	tree := component.NewTree()
	tree.SetRoot(tree.Composite(tree.Static(""), tree.Static("<p>"), tree.Static("")))

	chunks := collect(t, Render(tree))
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
}

func TestStreamIsNotRestartable(t *testing.T) {
	tree := component.NewTree()
	tree.SetRoot(tree.Composite(tree.Static("<p>")))

	stream := Render(tree)
	collect(t, stream)

	for i := 0; i < 3; i++ {
		if _, ok, err := stream.Next(); ok || err != nil {
			t.Fatalf("exhausted stream produced output (ok=%v err=%v)", ok, err)
		}
	}
}

func TestStreamRejectsUnresolvedBridge(t *testing.T) {
	tree := component.NewTree()
	tree.SetRoot(tree.Composite(tree.Bridge(bridge.Func(func(ctx context.Context) (bridge.ResolvedState, error) {
		return bridge.State{}, nil
	}), "")))

	stream := Render(tree)
	_, ok, err := stream.Next()
	if ok || err == nil {
		t.Fatalf("expected error for unresolved bridge node, got ok=%v err=%v", ok, err)
	}

	// The failure is terminal
	if _, ok, _ := stream.Next(); ok {
		t.Fatal("stream continued after a contract violation")
	}
}

func TestTextEscapes(t *testing.T) {
	if got := Text(`<script>"&'`); got != "&lt;script&gt;&#34;&amp;&#39;" {
		t.Fatalf("unexpected escape %q", got)
	}
}
