// Package server is the development HTTP server around the render engine.
// Every request builds a fresh component tree through a registered page
// builder and streams one render session's output to the client; nothing is
// cached between requests, which is what makes live reload safe.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wehubfusion/Daedalus/pkg/component"
	"github.com/wehubfusion/Daedalus/pkg/render"
	"github.com/wehubfusion/Daedalus/pkg/rewrite"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PageBuilder constructs the application subtree for one request. It is
// called with the document tree under construction and returns the
// application root placed at the shell's outlet marker.
type PageBuilder func(t *component.Tree) component.NodeID

// Server serves rendered pages and the live-reload event stream
type Server struct {
	engine       *render.Engine
	shell        *rewrite.Shell
	renderCfg    render.Config
	logger       *zap.Logger
	captureError bool

	mu          sync.RWMutex
	pages       map[string]PageBuilder
	subscribers map[chan struct{}]bool
}

// New creates a dev server rendering through engine with the given document
// shell and session configuration. captureErrors forwards render failures
// to Sentry; the caller is responsible for having initialized the SDK.
func New(engine *render.Engine, shell *rewrite.Shell, renderCfg render.Config, captureErrors bool, logger *zap.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if shell == nil {
		return nil, errors.New("shell cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Server{
		engine:       engine,
		shell:        shell,
		renderCfg:    renderCfg,
		logger:       logger,
		captureError: captureErrors,
		pages:        make(map[string]PageBuilder),
		subscribers:  make(map[chan struct{}]bool),
	}, nil
}

// RegisterPage registers the builder serving /name ("" or "index" for /)
func (s *Server) RegisterPage(name string, build PageBuilder) {
	if name == "" {
		name = "index"
	}
	s.mu.Lock()
	s.pages[name] = build
	s.mu.Unlock()
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/livereload", s.handleLiveReload)
	r.Get("/_pages", s.handlePageIndex)
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		s.renderPage(w, req, "index")
	})
	r.Get("/{page}", func(w http.ResponseWriter, req *http.Request) {
		s.renderPage(w, req, chi.URLParam(req, "page"))
	})
	return r
}

// renderPage runs one render session and streams it to the response. Bytes
// stream as they are produced; if the session fails after the first byte
// the connection is aborted rather than serving a corrupt document.
func (s *Server) renderPage(w http.ResponseWriter, req *http.Request, name string) {
	s.mu.RLock()
	build, ok := s.pages[name]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, req)
		return
	}

	tree := s.shell.Tree(build)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	cw := &countingWriter{w: w}
	_, err := s.engine.Render(req.Context(), tree, s.renderCfg, cw)
	if err == nil {
		return
	}

	s.logger.Error("Page render failed",
		zap.String("page", name),
		zap.Error(err))
	if s.captureError {
		sentry.CaptureException(err)
	}

	if cw.n == 0 {
		status := http.StatusInternalServerError
		if errors.Is(err, render.ErrSessionTimeout) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, fmt.Sprintf("render failed: %v", err), status)
		return
	}
	// Partial document already on the wire; abort the connection so the
	// client never mistakes it for a complete page
	if hj, ok := w.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			conn.Close()
		}
	}
}

// handlePageIndex lists the registered pages
func (s *Server) handlePageIndex(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.pages))
	for name := range s.pages {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	titler := cases.Title(language.English)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<!DOCTYPE html><title>Pages</title><ul>")
	for _, name := range names {
		display := titler.String(strings.ReplaceAll(name, "-", " "))
		fmt.Fprintf(w, `<li><a href="/%s">%s</a></li>`, name, display)
	}
	fmt.Fprint(w, "</ul>")
}

// handleLiveReload streams server-sent events; each rebuild notification
// emits one "reload" event.
func (s *Server) handleLiveReload(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subscribers[ch] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-req.Context().Done():
			return
		case <-ch:
			fmt.Fprint(w, "event: reload\ndata: {}\n\n")
			flusher.Flush()
		}
	}
}

// NotifyReload fans a rebuild notification out to every live-reload client
func (s *Server) NotifyReload() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// Subscriber already has a pending reload
		}
	}
}

type countingWriter struct {
	w http.ResponseWriter
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
