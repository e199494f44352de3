package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/doc-cache/internal/config"
	"github.com/Sternrassler/doc-cache/pkg/cache"
	"github.com/Sternrassler/doc-cache/pkg/docstore"
	"github.com/Sternrassler/doc-cache/pkg/docstore/memstore"
)

type session struct {
	cache.Doc
	User string `json:"user"`
}

func (*session) CacheType() string { return "session" }

// testServer builds the router over an in-memory store whose clock is fixed.
func testServer(t *testing.T, allowClear bool) (*server, *memstore.Store, *time.Time) {
	t.Helper()

	store := memstore.New()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo, err := cache.New(store, cache.Options{Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return &server{
		repo:       repo,
		store:      store,
		sweeper:    cache.NewSweeper(repo, cache.SweeperConfig{Interval: time.Hour}),
		allowClear: allowClear,
		logger:     zerolog.Nop(),
	}, store, &now
}

func do(t *testing.T, h http.Handler, method, path string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint(t *testing.T) {
	srv, store, _ := testServer(t, false)
	router := newRouter(srv)

	status, body := do(t, router, "GET", "/ready")
	if status != http.StatusOK || body != "READY" {
		t.Errorf("GET /ready = %d %q, want 200 READY", status, body)
	}

	store.SetFault(func(op, id string) error {
		if op == memstore.OpPing {
			return docstore.ErrUnavailable
		}
		return nil
	})

	status, _ = do(t, router, "GET", "/ready")
	if status != http.StatusServiceUnavailable {
		t.Errorf("GET /ready with failing store = %d, want 503", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := testServer(t, false)
	ctx := context.Background()

	// One miss so the cache counters have a sample
	if _, _, err := cache.Get[session](ctx, srv.repo, "absent"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	status, body := do(t, newRouter(srv), "GET", "/metrics")
	if status != http.StatusOK {
		t.Fatalf("GET /metrics = %d, want 200", status)
	}
	if !strings.Contains(body, "doccache_misses_total") {
		t.Error("metrics output should contain doccache_misses_total")
	}
}

func TestSweepEndpoint(t *testing.T) {
	srv, store, now := testServer(t, false)
	ctx := context.Background()

	if err := cache.Set(ctx, srv.repo, session{User: "a"}, "s1", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := cache.Set(ctx, srv.repo, session{User: "b"}, "s2", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	*now = now.Add(time.Hour)

	status, body := do(t, newRouter(srv), "POST", "/admin/sweep")
	if status != http.StatusOK {
		t.Fatalf("POST /admin/sweep = %d %s", status, body)
	}

	var got struct {
		Result cache.SweepResult `json:"result"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Result.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", got.Result.Deleted)
	}
	if store.Len() != 1 {
		t.Errorf("store holds %d documents, want 1", store.Len())
	}

	status, body = do(t, newRouter(srv), "GET", "/stats")
	if status != http.StatusOK {
		t.Fatalf("GET /stats = %d", status)
	}
	var stats cache.SweeperStats
	if err := json.Unmarshal([]byte(body), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Runs != 1 || stats.Purged != 1 {
		t.Errorf("stats = %+v, want 1 run and 1 purged", stats)
	}
}

func TestClearEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		allowClear bool
		fail       bool
		wantStatus int
		wantDocs   int
	}{
		{name: "disabled", allowClear: false, wantStatus: http.StatusNotFound, wantDocs: 3},
		{name: "enabled", allowClear: true, wantStatus: http.StatusOK, wantDocs: 0},
		{name: "partial failure", allowClear: true, fail: true, wantStatus: http.StatusInternalServerError, wantDocs: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, store, _ := testServer(t, tt.allowClear)
			ctx := context.Background()

			for _, key := range []string{"a", "b", "c"} {
				if err := cache.Set(ctx, srv.repo, session{User: key}, key, 0); err != nil {
					t.Fatalf("Set(%s) error = %v", key, err)
				}
			}
			if tt.fail {
				id, _ := srv.repo.Codec().Encode(cache.CacheKey{Type: "session", Key: "b"})
				store.SetFault(func(op, docID string) error {
					if op == memstore.OpDelete && docID == id {
						return errors.New("disk full")
					}
					return nil
				})
			}

			status, body := do(t, newRouter(srv), "POST", "/admin/clear")
			if status != tt.wantStatus {
				t.Errorf("POST /admin/clear = %d %s, want %d", status, body, tt.wantStatus)
			}
			if store.Len() != tt.wantDocs {
				t.Errorf("store holds %d documents, want %d", store.Len(), tt.wantDocs)
			}
			if tt.fail && !strings.Contains(body, `"failed":1`) {
				t.Errorf("response should report the failed delete: %s", body)
			}
		})
	}
}

func TestRepositoryOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Namespace = "svc"
	cfg.ClearConcurrency = 3

	opts := repositoryOptions(cfg, zerolog.Nop())
	if opts.Namespace != "svc" || opts.ClearConcurrency != 3 {
		t.Errorf("options = %+v", opts)
	}
	if opts.Concurrency != cache.LastWriterWins {
		t.Errorf("Concurrency = %v, want LastWriterWins", opts.Concurrency)
	}

	cfg.Concurrency = "revision_checked"
	if got := repositoryOptions(cfg, zerolog.Nop()).Concurrency; got != cache.RevisionChecked {
		t.Errorf("Concurrency = %v, want RevisionChecked", got)
	}
}

func TestOpenStore_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{
			name:   "unknown backend",
			mutate: func(c *config.Config) { c.Backend = "mongo" },
		},
		{
			name: "unreachable redis",
			mutate: func(c *config.Config) {
				c.Backend = config.BackendRedis
				c.Redis.Addr = "127.0.0.1:1"
			},
		},
		{
			name: "invalid couchdb url",
			mutate: func(c *config.Config) {
				c.CouchDB.URL = "ftp://couch"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if _, _, err := openStore(ctx, cfg, zerolog.Nop()); err == nil {
				t.Error("openStore() should fail")
			}
		})
	}
}

func TestRun_SQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendSQLite
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "cache.db")
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.SweepInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zerolog.Nop()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not stop after cancellation")
	}
}
