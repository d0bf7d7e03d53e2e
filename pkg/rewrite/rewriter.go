// Package rewrite streams a rendered chunk sequence into the final document,
// substituting the serialized hydration payload and resolved asset
// references at their insertion markers.
//
// Rewriting is chunk-at-a-time: nothing beyond the current chunk is ever
// buffered, so the first byte leaves before the last chunk is produced. A
// malformed marker sequence (no hydration marker, more than one, or an
// unresolvable asset) is fatal; dropping it silently would break client
// hydration.
package rewrite

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/wehubfusion/Daedalus/pkg/markup"
)

// StateScriptType is the MIME type of the inline script element carrying
// the hydration payload. The client runtime selects on it to locate the
// payload before resuming interactivity.
const StateScriptType = "application/daedalus-state"

// RewriteError reports a structural problem in the markup stream. It always
// aborts the session; see the package comment.
type RewriteError struct {
	// Reason describes the contract violation
	Reason string
}

// Error implements the error interface
func (e *RewriteError) Error() string {
	return fmt.Sprintf("document rewrite failed: %s", e.Reason)
}

// Rewriter substitutes insertion markers while streaming markup through
type Rewriter struct {
	assets AssetResolver
}

// NewRewriter creates a rewriter resolving asset markers against assets.
// A nil resolver is valid for documents without asset markers.
func NewRewriter(assets AssetResolver) *Rewriter {
	return &Rewriter{assets: assets}
}

// Rewrite consumes stream and writes the final document to w, injecting
// payload at the hydration marker. Exactly one hydration marker must occur;
// every asset marker must resolve. Write errors from w are returned as-is.
func (rw *Rewriter) Rewrite(stream *markup.Stream, payload []byte, w io.Writer) error {
	hydrationSeen := false

	for {
		chunk, ok, err := stream.Next()
		if err != nil {
			return &RewriteError{Reason: err.Error()}
		}
		if !ok {
			break
		}

		switch chunk.Marker {
		case markup.MarkerHydration:
			if hydrationSeen {
				return &RewriteError{Reason: "duplicate hydration marker"}
			}
			hydrationSeen = true
			if err := writeStateScript(w, payload); err != nil {
				return err
			}

		case markup.MarkerAsset:
			if rw.assets == nil {
				return &RewriteError{Reason: fmt.Sprintf("asset marker %q with no asset resolver", chunk.Asset)}
			}
			ref, found := rw.assets.ResolveAsset(chunk.Asset)
			if !found {
				return &RewriteError{Reason: fmt.Sprintf("unresolved asset marker %q", chunk.Asset)}
			}
			if err := writeAssetTag(w, ref); err != nil {
				return err
			}

		default:
			if _, err := w.Write(chunk.Bytes); err != nil {
				return err
			}
		}
	}

	if !hydrationSeen {
		return &RewriteError{Reason: "markup stream contains no hydration marker"}
	}
	return nil
}

// writeStateScript emits the inline payload carrier. The payload is base64
// so arbitrary state bytes survive inside an HTML script element.
func writeStateScript(w io.Writer, payload []byte) error {
	encoded := base64.StdEncoding.EncodeToString(payload)
	_, err := fmt.Fprintf(w, `<script type="%s">%s</script>`, StateScriptType, encoded)
	return err
}

// writeAssetTag emits the element matching the asset's reference type. The
// reference lands inside an attribute, so it is escaped; a manifest must not
// be able to break out of href/src.
func writeAssetTag(w io.Writer, ref string) error {
	var err error
	switch {
	case strings.HasSuffix(ref, ".css"):
		_, err = fmt.Fprintf(w, `<link rel="stylesheet" href="%s">`, html.EscapeString(ref))
	case strings.HasSuffix(ref, ".js"), strings.HasSuffix(ref, ".mjs"):
		_, err = fmt.Fprintf(w, `<script type="module" src="%s"></script>`, html.EscapeString(ref))
	default:
		_, err = io.WriteString(w, ref)
	}
	return err
}
