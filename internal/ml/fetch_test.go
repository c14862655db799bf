package ml

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetcher_LocalPathPassesThrough(t *testing.T) {
	f := NewFetcher(t.TempDir(), time.Second, nil)
	got, err := f.Resolve(context.Background(), "models/random_forest_final.json")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "models/random_forest_final.json" {
		t.Errorf("got %q", got)
	}
}

func TestFetcher_DownloadsOnce(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`0.42`))
	}))
	defer srv.Close()

	metrics := &MockMetrics{}
	cache := t.TempDir()
	f := NewFetcher(cache, 2*time.Second, metrics)
	url := srv.URL + "/artifacts/rf_threshold.json"

	first, err := f.Resolve(context.Background(), url)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if filepath.Dir(first) != cache || !strings.HasSuffix(first, "-rf_threshold.json") {
		t.Errorf("unexpected cache path %q", first)
	}
	data, err := os.ReadFile(first)
	if err != nil || string(data) != "0.42" {
		t.Fatalf("cached content = %q, err = %v", data, err)
	}

	second, err := f.Resolve(context.Background(), url)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if second != first {
		t.Errorf("second path %q differs from %q", second, first)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
	if _, _, _, fetched := metrics.Counts(); fetched != 1 {
		t.Errorf("fetched = %d, want 1", fetched)
	}
}

func TestFetcher_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cache := t.TempDir()
	f := NewFetcher(cache, time.Second, nil)
	if _, err := f.Resolve(context.Background(), srv.URL+"/missing.json"); err == nil {
		t.Fatal("expected error for 404")
	}

	entries, _ := os.ReadDir(cache)
	if len(entries) != 0 {
		t.Errorf("failed download left %d files in the cache", len(entries))
	}
}

func TestIsRemote(t *testing.T) {
	cases := map[string]bool{
		"https://example.com/model.json": true,
		"http://localhost/model.json":    true,
		"models/model.json":              false,
		"/abs/model.joblib":              false,
	}
	for loc, want := range cases {
		if got := IsRemote(loc); got != want {
			t.Errorf("IsRemote(%q) = %v, want %v", loc, got, want)
		}
	}
}
