package prerender

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/wehubfusion/Daedalus/pkg/bridge"
	"github.com/wehubfusion/Daedalus/pkg/component"
	"github.com/wehubfusion/Daedalus/pkg/render"
	"go.uber.org/zap"
)

// fakeJetStream satisfies nats.JetStreamContext for the calls the runner
// makes at construction time; everything else panics via the embedded nil.
type fakeJetStream struct {
	nats.JetStreamContext

	mu      sync.Mutex
	streams map[string]*nats.StreamInfo
	added   []string
}

func newFakeJetStream(existing ...string) *fakeJetStream {
	f := &fakeJetStream{streams: make(map[string]*nats.StreamInfo)}
	for _, name := range existing {
		f.streams[name] = &nats.StreamInfo{Config: nats.StreamConfig{Name: name}}
	}
	return f
}

func (f *fakeJetStream) StreamInfo(name string, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, ok := f.streams[name]; ok {
		return info, nil
	}
	return nil, nats.ErrStreamNotFound
}

func (f *fakeJetStream) AddStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := &nats.StreamInfo{Config: *cfg}
	f.streams[cfg.Name] = info
	f.added = append(f.added, cfg.Name)
	return info, nil
}

type memStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string][]byte)}
}

func (s *memStore) PutDocument(_ context.Context, pagePath string, document []byte, _ map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[pagePath] = append([]byte(nil), document...)
	return "mem://" + pagePath, nil
}

func (s *memStore) GetDocument(_ context.Context, pagePath string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[pagePath], nil
}

func testBuilder() PageBuilder {
	return PageBuilderFunc(func(_ context.Context, job Job) (*component.Tree, error) {
		t := component.NewTree()
		b := t.Bridge(bridge.Func(func(ctx context.Context) (bridge.ResolvedState, error) {
			return bridge.State{Data: job.Page, HTML: "<h1>" + job.Page + "</h1>"}, nil
		}), "")
		t.SetRoot(t.Composite(t.Static("<html><body>"), b, t.HydrationSlot(), t.Static("</body></html>")))
		return t, nil
	})
}

func validOptions() Options {
	return Options{
		Stream:        "PRERENDER",
		Consumer:      "worker",
		BatchSize:     4,
		NumWorkers:    2,
		RenderTimeout: 5 * time.Second,
	}
}

func newTestRunner(t *testing.T, js nats.JetStreamContext, store *memStore) *Runner {
	t.Helper()
	engine, err := render.NewEngine(zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	r, err := NewRunner(js, engine, testBuilder(), store, validOptions(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return r
}

func TestNewRunnerValidatesOptions(t *testing.T) {
	engine, err := render.NewEngine(zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	js := newFakeJetStream("PRERENDER")
	store := newMemStore()
	logger := zap.NewNop()

	mutations := map[string]func(*Options){
		"empty stream":   func(o *Options) { o.Stream = "" },
		"empty consumer": func(o *Options) { o.Consumer = "" },
		"zero batch":     func(o *Options) { o.BatchSize = 0 },
		"zero workers":   func(o *Options) { o.NumWorkers = 0 },
		"zero timeout":   func(o *Options) { o.RenderTimeout = 0 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			opts := validOptions()
			mutate(&opts)
			if _, err := NewRunner(js, engine, testBuilder(), store, opts, logger); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if _, err := NewRunner(nil, engine, testBuilder(), store, validOptions(), logger); err == nil {
		t.Fatal("expected error for nil JetStream context")
	}
	if _, err := NewRunner(js, nil, testBuilder(), store, validOptions(), logger); err == nil {
		t.Fatal("expected error for nil engine")
	}
	if _, err := NewRunner(js, engine, nil, store, validOptions(), logger); err == nil {
		t.Fatal("expected error for nil page builder")
	}
	if _, err := NewRunner(js, engine, testBuilder(), nil, validOptions(), logger); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestNewRunnerCreatesMissingStream(t *testing.T) {
	js := newFakeJetStream()
	newTestRunner(t, js, newMemStore())

	if len(js.added) != 1 || js.added[0] != "PRERENDER" {
		t.Fatalf("expected stream PRERENDER created, got %v", js.added)
	}
	cfg := js.streams["PRERENDER"].Config
	if len(cfg.Subjects) != 1 || cfg.Subjects[0] != "PRERENDER.*" {
		t.Fatalf("unexpected stream subjects %v", cfg.Subjects)
	}
}

func TestNewRunnerReusesExistingStream(t *testing.T) {
	js := newFakeJetStream("PRERENDER")
	newTestRunner(t, js, newMemStore())

	if len(js.added) != 0 {
		t.Fatalf("expected no stream creation, got %v", js.added)
	}
}

func TestProcessJobRendersAndStores(t *testing.T) {
	store := newMemStore()
	r := newTestRunner(t, newFakeJetStream("PRERENDER"), store)

	msg := &nats.Msg{
		Subject: "PRERENDER.render",
		Data:    []byte(`{"jobId":"job-1","page":"/docs/intro"}`),
	}
	r.processJob(context.Background(), 0, msg)

	doc, err := store.GetDocument(context.Background(), "/docs/intro")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if !strings.Contains(string(doc), "<h1>/docs/intro</h1>") {
		t.Fatalf("stored document missing rendered markup:\n%s", doc)
	}
}

func TestProcessJobDiscardsMalformedJobs(t *testing.T) {
	store := newMemStore()
	r := newTestRunner(t, newFakeJetStream("PRERENDER"), store)

	msg := &nats.Msg{Subject: "PRERENDER.render", Data: []byte(`{not json`)}
	r.processJob(context.Background(), 0, msg)

	if len(store.docs) != 0 {
		t.Fatalf("malformed job produced a document: %v", store.docs)
	}
}
