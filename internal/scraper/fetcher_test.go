package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFetch_SetsBrowserUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprint(w, "<html></html>")
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, 5*time.Second)
	if _, err := f.Fetch(context.Background(), srv.URL+"/page"); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if !strings.Contains(gotUA, "Mozilla/5.0") {
		t.Errorf("expected browser user agent, got %q", gotUA)
	}
}

// TestFetch_SessionRestart verifies that a session-timeout notice
// triggers one restart request followed by a refetch of the original
// page.
func TestFetch_SessionRestart(t *testing.T) {
	var mu sync.Mutex
	restarted := false
	pageFetches := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		if r.URL.RawQuery == "service=restart" {
			restarted = true
			fmt.Fprint(w, "<html>session restarted</html>")
			return
		}

		pageFetches++
		if !restarted {
			fmt.Fprint(w, "<html>Your session has timed out</html>")
			return
		}
		fmt.Fprint(w, "<html>tender listing</html>")
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, 5*time.Second)
	body, err := f.Fetch(context.Background(), srv.URL+"/nicgep/app?page=listing")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if !strings.Contains(body, "tender listing") {
		t.Errorf("expected refetched content, got %q", body)
	}

	mu.Lock()
	defer mu.Unlock()
	if !restarted {
		t.Error("expected a session restart request")
	}
	if pageFetches != 2 {
		t.Errorf("expected the page fetched twice (before and after restart), got %d", pageFetches)
	}
}

// TestFetch_RetriesTransientError verifies a single retry after a 5xx
// response.
func TestFetch_RetriesTransientError(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()

		if n == 1 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "<html>ok</html>")
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, 5*time.Second)
	body, err := f.Fetch(context.Background(), srv.URL+"/page")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !strings.Contains(body, "ok") {
		t.Errorf("unexpected body %q", body)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

// TestFetch_NoRetryOnClientError verifies 4xx responses fail fast.
func TestFetch_NoRetryOnClientError(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, 5*time.Second)
	_, err := f.Fetch(context.Background(), srv.URL+"/page")

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", se.StatusCode)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for 4xx, got %d", attempts)
	}
}

// stubBreaker records calls and optionally denies requests.
type stubBreaker struct {
	mu        sync.Mutex
	denyErr   error
	successes []string
	failures  []string
}

func (b *stubBreaker) Allow(key string) error {
	return b.denyErr
}

func (b *stubBreaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successes = append(b.successes, key)
}

func (b *stubBreaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, key)
}

func TestFetch_BreakerDenies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should reach the server when the breaker is open")
	}))
	defer srv.Close()

	breaker := &stubBreaker{denyErr: errors.New("circuit breaker is open")}
	f := NewFetcher(srv.URL, 5*time.Second).WithBreaker(breaker)

	_, err := f.Fetch(context.Background(), srv.URL+"/page")
	if err == nil || !strings.Contains(err.Error(), "circuit breaker is open") {
		t.Errorf("expected breaker error, got %v", err)
	}
}

func TestFetch_BreakerRecordsOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, "<html>ok</html>")
	}))
	defer srv.Close()

	breaker := &stubBreaker{}
	f := NewFetcher(srv.URL, 5*time.Second).WithBreaker(breaker)

	if _, err := f.Fetch(context.Background(), srv.URL+"/good"); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/bad"); err == nil {
		t.Fatal("expected error for 400 response")
	}

	breaker.mu.Lock()
	defer breaker.mu.Unlock()
	if len(breaker.successes) != 1 {
		t.Errorf("expected 1 recorded success, got %d", len(breaker.successes))
	}
	if len(breaker.failures) != 1 {
		t.Errorf("expected 1 recorded failure, got %d", len(breaker.failures))
	}
}

func TestClassifyResult(t *testing.T) {
	tests := []struct {
		status int
		err    error
		want   string
	}{
		{200, nil, "2xx"},
		{404, nil, "4xx"},
		{503, nil, "5xx"},
		{0, errors.New("context deadline exceeded"), "timeout"},
		{0, errors.New("dial tcp: connection refused"), "connection_error"},
		{0, errors.New("unexpected EOF"), "other_error"},
	}

	for _, tt := range tests {
		if got := classifyResult(tt.status, tt.err); got != tt.want {
			t.Errorf("classifyResult(%d, %v) = %q, want %q", tt.status, tt.err, got, tt.want)
		}
	}
}
