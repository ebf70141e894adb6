package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/div360/tender-scraper/internal/domain"
)

type mockStore struct {
	runs      []domain.Run
	listErr   error
	getErr    error
	lastLimit int
	lastOff   int
}

func (m *mockStore) ListRuns(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	m.lastLimit = limit
	m.lastOff = offset
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.runs, nil
}

func (m *mockStore) GetRun(ctx context.Context, runID uuid.UUID) (domain.Run, error) {
	if m.getErr != nil {
		return domain.Run{}, m.getErr
	}
	for _, run := range m.runs {
		if run.ID == runID {
			return run, nil
		}
	}
	return domain.Run{}, mongo.ErrNoDocuments
}

type mockTrigger struct {
	runID uuid.UUID
	err   error
	calls int
}

func (m *mockTrigger) TriggerManual(ctx context.Context) (uuid.UUID, error) {
	m.calls++
	if m.err != nil {
		return uuid.Nil, m.err
	}
	return m.runID, nil
}

type mockHealth struct {
	pingErr error
}

func (m *mockHealth) Ping(ctx context.Context) error { return m.pingErr }

func testRun() domain.Run {
	fin := time.Date(2024, 1, 5, 0, 6, 0, 0, time.UTC)
	return domain.Run{
		ID:             uuid.New(),
		Reason:         domain.TriggerReasonScheduled,
		IdempotencyKey: "scheduled:2024-01-05T00:00:00Z",
		ScheduledAt:    time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		FiredAt:        time.Date(2024, 1, 5, 0, 0, 12, 0, time.UTC),
		Status:         domain.RunStatusSucceeded,
		NewTenders:     3,
		FinishedAt:     &fin,
		CreatedAt:      time.Date(2024, 1, 5, 0, 0, 12, 0, time.UTC),
	}
}

func TestHealth_Simple(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockTrigger{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}

func TestHealth_VerboseHealthy(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockTrigger{}).WithHealthChecker(&mockHealth{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Components["store"] != "healthy" {
		t.Errorf("store component = %q, want healthy", resp.Components["store"])
	}
}

func TestHealth_VerboseDegraded(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockTrigger{}).
		WithHealthChecker(&mockHealth{pingErr: errors.New("server selection timeout")})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
}

func TestTriggerRun_EmptyBody(t *testing.T) {
	trigger := &mockTrigger{runID: uuid.New()}
	h := NewHandler(&mockStore{}, trigger)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body: %s", rec.Code, rec.Body.String())
	}
	var resp TriggerRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RunID != trigger.runID.String() {
		t.Errorf("run_id = %q, want %q", resp.RunID, trigger.runID)
	}
	if trigger.calls != 1 {
		t.Errorf("trigger called %d times, want 1", trigger.calls)
	}
}

func TestTriggerRun_WithNote(t *testing.T) {
	trigger := &mockTrigger{runID: uuid.New()}
	h := NewHandler(&mockStore{}, trigger)

	body := strings.NewReader(`{"note":"rerun after portal outage"}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", body))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
}

func TestTriggerRun_InvalidJSON(t *testing.T) {
	trigger := &mockTrigger{runID: uuid.New()}
	h := NewHandler(&mockStore{}, trigger)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader("{not json")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if trigger.calls != 0 {
		t.Error("trigger called despite invalid body")
	}
}

func TestTriggerRun_TriggerError(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockTrigger{err: errors.New("store down")})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestListRuns(t *testing.T) {
	run := testRun()
	store := &mockStore{runs: []domain.Run{run}}
	h := NewHandler(store, &mockTrigger{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?limit=10&offset=20", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.lastLimit != 10 || store.lastOff != 20 {
		t.Errorf("pagination = (%d, %d), want (10, 20)", store.lastLimit, store.lastOff)
	}

	var resp ListRunsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(resp.Runs))
	}
	got := resp.Runs[0]
	if got.ID != run.ID.String() {
		t.Errorf("id = %q, want %q", got.ID, run.ID)
	}
	if got.NewTenders != 3 {
		t.Errorf("new_tenders = %d, want 3", got.NewTenders)
	}
	if got.FinishedAt != "2024-01-05T00:06:00Z" {
		t.Errorf("finished_at = %q", got.FinishedAt)
	}
}

func TestListRuns_BadPagination(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockTrigger{})

	for _, query := range []string{"limit=abc", "limit=-1", "limit=5000", "offset=-2"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?"+query, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("query %q: status = %d, want 400", query, rec.Code)
		}
	}
}

func TestGetRun(t *testing.T) {
	run := testRun()
	h := NewHandler(&mockStore{runs: []domain.Run{run}}, &mockTrigger{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+run.ID.String(), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(domain.RunStatusSucceeded) {
		t.Errorf("status = %q, want succeeded", resp.Status)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockTrigger{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+uuid.NewString(), nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetRun_InvalidID(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockTrigger{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/not-a-uuid", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockTrigger{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/runs", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
