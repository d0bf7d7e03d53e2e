package storage

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestNormalizePagePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/", "index.html"},
		{"", "index.html"},
		{"/docs/intro", "docs/intro/index.html"},
		{"docs/intro/", "docs/intro/index.html"},
		{"/docs/guide.html", "docs/guide.html"},
		{"  /about  ", "about/index.html"},
	}
	for _, tc := range cases {
		if got := normalizePagePath(tc.in); got != tc.want {
			t.Fatalf("normalizePagePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseConnectionString(t *testing.T) {
	params := parseConnectionString(
		"DefaultEndpointsProtocol=https;AccountName=pages;AccountKey=c2VjcmV0;EndpointSuffix=core.windows.net")

	if params["AccountName"] != "pages" {
		t.Fatalf("unexpected AccountName %q", params["AccountName"])
	}
	if params["AccountKey"] != "c2VjcmV0" {
		t.Fatalf("unexpected AccountKey %q", params["AccountKey"])
	}
	if params["DefaultEndpointsProtocol"] != "https" {
		t.Fatalf("unexpected protocol %q", params["DefaultEndpointsProtocol"])
	}
}

func TestParseConnectionStringKeepsEqualsInValues(t *testing.T) {
	params := parseConnectionString("AccountKey=YWJjZA==;;")
	if params["AccountKey"] != "YWJjZA==" {
		t.Fatalf("base64 padding lost: %q", params["AccountKey"])
	}
}

func TestNewAzureBlobStoreRejectsBadInput(t *testing.T) {
	logger := zap.NewNop()
	if _, err := NewAzureBlobStore("", "container", logger); err == nil {
		t.Fatal("expected error for empty connection string")
	}
	if _, err := NewAzureBlobStore("AccountName=x;AccountKey=YWJjZA==", "", logger); err == nil {
		t.Fatal("expected error for empty container name")
	}
	if _, err := NewAzureBlobStore("AccountName=x", "container", logger); err == nil {
		t.Fatal("expected error for missing account key")
	}
}

func TestEnsureContainerConcurrentInit(t *testing.T) {
	store, err := NewAzureBlobStore(
		"AccountName=pages;AccountKey=YWJjZA==;BlobEndpoint=http://127.0.0.1:10000/pages",
		"rendered-pages", zap.NewNop())
	if err != nil {
		t.Fatalf("NewAzureBlobStore failed: %v", err)
	}

	// Worker goroutines share the store; first-use init must not race a
	// reader. The cancelled context keeps the create call local.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.ensureContainer(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		store.containerInit.Store(true)
	}()
	wg.Wait()

	if err := store.ensureContainer(ctx); err != nil {
		t.Fatalf("initialized store must skip the create call: %v", err)
	}
}
