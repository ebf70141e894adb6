package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// The portal rejects default Go user agents; present a browser UA the
// way the original job did.
const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/605.1.15 (KHTML, like Gecko) " +
	"Version/15.0 Safari/605.1.15"

const (
	mainPagePath       = "/nicgep/app?page=FrontEndTendersByOrganisation&service=page"
	sessionRestartPath = "/nicgep/app?service=restart"
	sessionTimeoutText = "Your session has timed out"
)

// retryBackoff is the wait before the single transient-error retry.
const retryBackoff = 2 * time.Second

// Breaker guards a host against repeated failures.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

// FetchMetricsSink records fetch metrics. All methods must be
// non-blocking and fire-and-forget.
type FetchMetricsSink interface {
	PageFetchCompleted(statusClass string, duration time.Duration)
}

// Fetcher retrieves portal pages over a persistent session (cookie
// jar). The portal expires sessions server-side and answers with an
// HTML timeout notice instead of an error status; Fetch detects that
// notice, restarts the session once, and refetches.
type Fetcher struct {
	client    *http.Client
	breaker   Breaker          // optional, nil = disabled
	metrics   FetchMetricsSink // optional, nil = disabled
	baseURL   string
	userAgent string
	timeout   time.Duration
}

func NewFetcher(baseURL string, timeout time.Duration) *Fetcher {
	jar, _ := cookiejar.New(nil)
	return &Fetcher{
		client:    &http.Client{Jar: jar},
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: defaultUserAgent,
		timeout:   timeout,
	}
}

// WithBreaker attaches a circuit breaker to the fetcher.
func (f *Fetcher) WithBreaker(b Breaker) *Fetcher {
	f.breaker = b
	return f
}

// WithMetrics attaches a metrics sink to the fetcher.
func (f *Fetcher) WithMetrics(sink FetchMetricsSink) *Fetcher {
	f.metrics = sink
	return f
}

// BaseURL returns the portal base URL the fetcher was built with.
func (f *Fetcher) BaseURL() string { return f.baseURL }

// MainPageURL returns the tenders-by-organisation entry page.
func (f *Fetcher) MainPageURL() string { return f.baseURL + mainPagePath }

// Fetch retrieves pageURL and returns the body as a string. Transient
// network errors are retried once; a session-timeout notice triggers
// one session restart and refetch.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	host := hostOf(pageURL)
	if f.breaker != nil {
		if err := f.breaker.Allow(host); err != nil {
			return "", fmt.Errorf("fetch %s: %w", pageURL, err)
		}
	}

	body, err := f.fetchWithRetry(ctx, pageURL)
	if err != nil {
		if f.breaker != nil {
			f.breaker.RecordFailure(host)
		}
		return "", err
	}

	if strings.Contains(body, sessionTimeoutText) {
		log.Printf("scraper: session timed out, restarting session for %s", pageURL)
		if _, rerr := f.get(ctx, f.baseURL+sessionRestartPath); rerr != nil {
			log.Printf("scraper: session restart failed: %v", rerr)
		}
		body, err = f.get(ctx, pageURL)
		if err != nil {
			if f.breaker != nil {
				f.breaker.RecordFailure(host)
			}
			return "", err
		}
	}

	if f.breaker != nil {
		f.breaker.RecordSuccess(host)
	}
	return body, nil
}

// fetchWithRetry performs one GET with a single retry for transient
// failures. Non-2xx statuses and context cancellation are not retried.
func (f *Fetcher) fetchWithRetry(ctx context.Context, pageURL string) (string, error) {
	body, err := f.get(ctx, pageURL)
	if err == nil || ctx.Err() != nil || !isTransient(err) {
		return body, err
	}

	log.Printf("scraper: transient error fetching %s, retrying in %s: %v", pageURL, retryBackoff, err)
	timer := time.NewTimer(retryBackoff)
	select {
	case <-ctx.Done():
		if !timer.Stop() {
			<-timer.C
		}
		return "", ctx.Err()
	case <-timer.C:
	}

	return f.get(ctx, pageURL)
}

func (f *Fetcher) get(ctx context.Context, pageURL string) (string, error) {
	start := time.Now()

	reqCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		f.observe(0, err, time.Since(start))
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	f.observe(resp.StatusCode, err, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pageURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{URL: pageURL, StatusCode: resp.StatusCode}
	}
	return string(data), nil
}

func (f *Fetcher) observe(statusCode int, err error, d time.Duration) {
	if f.metrics == nil {
		return
	}
	f.metrics.PageFetchCompleted(classifyResult(statusCode, err), d)
}

// StatusError reports a non-2xx portal response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// isTransient reports whether a fetch error is worth one retry:
// network-level failures and 5xx/429 responses.
func isTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return true
}

// classifyResult maps a status code and error to a bounded-cardinality
// metrics class: 2xx, 4xx, 5xx, timeout, connection_error, other_error.
func classifyResult(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
			return "timeout"
		case strings.Contains(msg, "connection refused") ||
			strings.Contains(msg, "no such host") ||
			strings.Contains(msg, "network is unreachable") ||
			strings.Contains(msg, "dial"):
			return "connection_error"
		default:
			return "other_error"
		}
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "other_error"
	}
}

func hostOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return pageURL
	}
	return u.Host
}
