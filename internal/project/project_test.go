package project

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wehubfusion/Daedalus/pkg/render"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func scaffold(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "index.html"),
		`<html><body><!--daedalus:outlet--><!--daedalus:hydration--></body></html>`)
	writeFile(t, filepath.Join(dir, "pages", "home.html"),
		`<h1>Home</h1><!--daedalus:bridge:greet.js--><footer></footer>`)
	writeFile(t, filepath.Join(dir, "resolvers", "greet.js"),
		`({ state: { page: input.page }, markup: "<p>from " + input.page + "</p>" })`)
	return dir
}

func TestLoadBuildsRenderablePages(t *testing.T) {
	dir := scaffold(t)
	proj, err := Load(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer proj.Close()

	build, ok := proj.Pages()["home"]
	if !ok {
		t.Fatalf("home page not loaded, got %v", proj.Pages())
	}

	engine, err := render.NewEngine(zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	var out bytes.Buffer
	tree := proj.Shell.Tree(build)
	if _, err := engine.Render(context.Background(), tree, render.Config{}, &out); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	doc := out.String()
	for _, want := range []string{"<h1>Home</h1>", "<p>from home</p>", "<footer></footer>"} {
		if !strings.Contains(doc, want) {
			t.Fatalf("document missing %q:\n%s", want, doc)
		}
	}
}

func TestLoadRequiresShell(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "pages", "home.html"), "<h1>Home</h1>")

	if _, err := Load(dir, zap.NewNop()); err == nil {
		t.Fatal("expected error for missing shell")
	}
}

func TestLoadRequiresPages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "index.html"),
		`<html><!--daedalus:outlet--><!--daedalus:hydration--></html>`)
	writeFile(t, filepath.Join(dir, "pages", "notes.txt"), "not a page")

	if _, err := Load(dir, zap.NewNop()); err == nil {
		t.Fatal("expected error for project without pages")
	}
}

func TestLoadRejectsMissingResolver(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "index.html"),
		`<html><!--daedalus:outlet--><!--daedalus:hydration--></html>`)
	writeFile(t, filepath.Join(dir, "pages", "home.html"),
		`<!--daedalus:bridge:absent.js-->`)

	_, err := Load(dir, zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "absent.js") {
		t.Fatalf("expected missing-resolver error, got %v", err)
	}
}

func TestLoadRejectsUnterminatedMarker(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "index.html"),
		`<html><!--daedalus:outlet--><!--daedalus:hydration--></html>`)
	writeFile(t, filepath.Join(dir, "pages", "home.html"),
		`<h1>Home</h1><!--daedalus:bridge:x.js`)

	_, err := Load(dir, zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "unterminated") {
		t.Fatalf("expected unterminated-marker error, got %v", err)
	}
}
