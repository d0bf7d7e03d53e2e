package rewrite

// AssetResolver maps a logical asset name to the reference (path or URL) it
// is served under. The asset-embedding side of the toolchain implements
// this; the rewriter only queries it at asset markers.
type AssetResolver interface {
	ResolveAsset(name string) (string, bool)
}

// StaticManifest is an AssetResolver backed by a fixed name-to-reference map
type StaticManifest map[string]string

// ResolveAsset looks the name up in the manifest
func (m StaticManifest) ResolveAsset(name string) (string, bool) {
	ref, ok := m[name]
	return ref, ok
}
