// Package project loads a Daedalus project directory: the configuration
// file, the HTML document shell and the page fragments under pages/.
//
// A page fragment is plain HTML, optionally containing bridge markers:
//
//	<!--daedalus:bridge:widget.js-->
//
// Each marker becomes a bridge node resolved by the named script (relative
// to the project's resolvers/ directory) through the sandboxed script
// resolver pool.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wehubfusion/Daedalus/internal/config"
	"github.com/wehubfusion/Daedalus/internal/server"
	"github.com/wehubfusion/Daedalus/pkg/bridge/script"
	"github.com/wehubfusion/Daedalus/pkg/component"
	"github.com/wehubfusion/Daedalus/pkg/rewrite"
	"go.uber.org/zap"
)

const bridgeMarker = "<!--daedalus:bridge:"

// Project is a loaded project directory
type Project struct {
	// Config is the parsed daedalus.yml (or defaults)
	Config config.Config

	// Shell is the parsed document shell
	Shell *rewrite.Shell

	// Assets resolves the project's logical asset names
	Assets rewrite.StaticManifest

	pages map[string]server.PageBuilder
	pool  *script.VMPool
}

// Load reads the project at dir
func Load(dir string, logger *zap.Logger) (*Project, error) {
	cfg, err := config.Load(filepath.Join(dir, "daedalus.yml"))
	if err != nil {
		return nil, err
	}

	shellFile, err := os.Open(filepath.Join(dir, cfg.Shell))
	if err != nil {
		return nil, fmt.Errorf("failed to open document shell: %w", err)
	}
	shell, err := rewrite.ParseShell(shellFile)
	shellFile.Close()
	if err != nil {
		return nil, err
	}

	pool, err := script.NewVMPool(script.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}

	p := &Project{
		Config: cfg,
		Shell:  shell,
		Assets: rewrite.StaticManifest(cfg.Assets),
		pages:  make(map[string]server.PageBuilder),
		pool:   pool,
	}

	entries, err := os.ReadDir(filepath.Join(dir, "pages"))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to read pages directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".html") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".html")
		builder, err := p.loadPage(dir, filepath.Join(dir, "pages", entry.Name()))
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to load page %q: %w", name, err)
		}
		p.pages[name] = builder
		logger.Debug("Loaded page", zap.String("page", name))
	}
	if len(p.pages) == 0 {
		pool.Close()
		return nil, fmt.Errorf("project has no pages")
	}

	return p, nil
}

// Close releases the project's script resolver pool
func (p *Project) Close() {
	p.pool.Close()
}

// Pages returns the loaded page builders by name
func (p *Project) Pages() map[string]server.PageBuilder {
	return p.pages
}

// loadPage splits a fragment at bridge markers and prepares its builder
func (p *Project) loadPage(projectDir, path string) (server.PageBuilder, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	type piece struct {
		html     string
		resolver *script.Resolver
	}
	var pieces []piece

	rest := string(raw)
	pageName := strings.TrimSuffix(filepath.Base(path), ".html")
	for {
		idx := strings.Index(rest, bridgeMarker)
		if idx < 0 {
			pieces = append(pieces, piece{html: rest})
			break
		}
		end := strings.Index(rest[idx:], "-->")
		if end < 0 {
			return nil, fmt.Errorf("unterminated bridge marker")
		}
		scriptName := strings.TrimSpace(rest[idx+len(bridgeMarker) : idx+end])
		if scriptName == "" {
			return nil, fmt.Errorf("bridge marker with empty script name")
		}

		source, err := os.ReadFile(filepath.Join(projectDir, "resolvers", filepath.Clean(scriptName)))
		if err != nil {
			return nil, fmt.Errorf("failed to read resolver script %q: %w", scriptName, err)
		}
		resolver, err := script.NewResolver(p.pool, string(source), map[string]any{"page": pageName})
		if err != nil {
			return nil, err
		}

		pieces = append(pieces, piece{html: rest[:idx]}, piece{resolver: resolver})
		rest = rest[idx+end+len("-->"):]
	}

	return func(t *component.Tree) component.NodeID {
		children := make([]component.NodeID, 0, len(pieces))
		for _, pc := range pieces {
			if pc.resolver != nil {
				children = append(children, t.Bridge(pc.resolver, ""))
			} else if pc.html != "" {
				children = append(children, t.Static(pc.html))
			}
		}
		return t.Composite(children...)
	}, nil
}
