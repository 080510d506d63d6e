package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	infraRedis "github.com/crmbridge/accountsync/internal/infrastructure/redis"
	"github.com/rs/zerolog"
)

type fakeResponseCache struct {
	entries map[string]*infraRedis.CachedResponse
	getErr  error
	setErr  error
}

func newFakeResponseCache() *fakeResponseCache {
	return &fakeResponseCache{entries: make(map[string]*infraRedis.CachedResponse)}
}

func (f *fakeResponseCache) Get(ctx context.Context, key string) (*infraRedis.CachedResponse, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.entries[key], nil
}

func (f *fakeResponseCache) Set(ctx context.Context, key string, resp *infraRedis.CachedResponse) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.entries[key] = resp
	return nil
}

func idempotentHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"accountId":"acc-1"}`))
	})
}

func TestIdempotency_CachesAndReplays(t *testing.T) {
	cache := newFakeResponseCache()
	calls := 0
	handler := Idempotency(cache, zerolog.Nop())(idempotentHandler(&calls))

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", nil)
	req.Header.Set("Idempotency-Key", "key-1")
	handler.ServeHTTP(first, req)

	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}
	if calls != 1 {
		t.Fatalf("expected 1 handler call, got %d", calls)
	}

	second := httptest.NewRecorder()
	replay := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", nil)
	replay.Header.Set("Idempotency-Key", "key-1")
	handler.ServeHTTP(second, replay)

	if calls != 1 {
		t.Errorf("replayed request must not re-execute the handler, got %d calls", calls)
	}
	if second.Code != http.StatusCreated {
		t.Errorf("expected replayed 201, got %d", second.Code)
	}
	if second.Header().Get("X-Idempotency-Replayed") != "true" {
		t.Error("replayed response must be marked")
	}
	if second.Body.String() != `{"accountId":"acc-1"}` {
		t.Errorf("unexpected replayed body %q", second.Body.String())
	}
}

func TestIdempotency_NoKeyPassesThrough(t *testing.T) {
	cache := newFakeResponseCache()
	calls := 0
	handler := Idempotency(cache, zerolog.Nop())(idempotentHandler(&calls))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/accounts", nil))
	}

	if calls != 2 {
		t.Errorf("expected 2 handler calls without a key, got %d", calls)
	}
	if len(cache.entries) != 0 {
		t.Error("nothing must be cached without a key")
	}
}

func TestIdempotency_SetFailureIsLogged(t *testing.T) {
	cache := newFakeResponseCache()
	cache.setErr = errors.New("redis: connection refused")

	var logs bytes.Buffer
	logger := zerolog.New(&logs)

	calls := 0
	handler := Idempotency(cache, logger)(idempotentHandler(&calls))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", nil)
	req.Header.Set("Idempotency-Key", "key-1")
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("cache failure must not fail the request, got %d", rec.Code)
	}
	if !strings.Contains(logs.String(), "Failed to cache idempotent response") {
		t.Errorf("cache write failure must be logged, got %q", logs.String())
	}
	if !strings.Contains(logs.String(), "connection refused") {
		t.Errorf("log must carry the underlying error, got %q", logs.String())
	}
}

func TestIdempotency_GetFailureExecutesRequest(t *testing.T) {
	cache := newFakeResponseCache()
	cache.getErr = errors.New("redis: connection refused")

	var logs bytes.Buffer
	logger := zerolog.New(&logs)

	calls := 0
	handler := Idempotency(cache, logger)(idempotentHandler(&calls))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", nil)
	req.Header.Set("Idempotency-Key", "key-1")
	handler.ServeHTTP(rec, req)

	if calls != 1 {
		t.Errorf("request must execute when the cache is unreadable, got %d calls", calls)
	}
	if !strings.Contains(logs.String(), "Failed to read idempotency cache") {
		t.Errorf("cache read failure must be logged, got %q", logs.String())
	}
}
