package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/div360/tender-scraper/internal/domain"
)

// Store defines the run history queries the API serves.
type Store interface {
	ListRuns(ctx context.Context, limit, offset int) ([]domain.Run, error)
	GetRun(ctx context.Context, runID uuid.UUID) (domain.Run, error)
}

// Trigger starts a manual scrape run.
type Trigger interface {
	TriggerManual(ctx context.Context) (uuid.UUID, error)
}

// HealthChecker provides store health status for the /health endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	store   Store
	trigger Trigger
	db      HealthChecker
}

func NewHandler(store Store, trigger Trigger) *Handler {
	return &Handler{store: store, trigger: trigger}
}

// WithHealthChecker sets the store health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/runs" && r.Method == http.MethodPost:
		h.triggerRun(w, r)

	case path == "/runs" && r.Method == http.MethodGet:
		h.listRuns(w, r)

	case strings.HasPrefix(path, "/runs/") && r.Method == http.MethodGet:
		h.getRun(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	// Check if verbose mode requested via ?verbose=true
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		// Simple health check - just return ok
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	// Verbose health check - check all components
	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	// Check store connectivity with timeout
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["store"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["store"] = "healthy"
	}

	// Return appropriate status code based on health
	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// triggerRun starts a manual scrape run. The body is optional; when
// present it must be empty JSON or carry a note for the run log.
func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	// Limit request body size to prevent DoS via large payloads
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	// An empty body is a plain trigger; io.EOF from Decode is fine.
	var req TriggerRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if req.Note != "" {
		log.Printf("api: manual trigger requested (note=%q)", req.Note)
	}

	runID, err := h.trigger.TriggerManual(r.Context())
	if err != nil {
		log.Printf("api: manual trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to trigger run")
		return
	}

	writeJSON(w, http.StatusAccepted, TriggerRunResponse{RunID: runID.String()})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		log.Printf("api: list runs error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := ListRunsResponse{Runs: make([]RunResponse, len(runs))}
	for i, run := range runs {
		resp.Runs[i] = toRunResponse(run)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	// Extract run ID from path: /runs/{id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "runs" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	runID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		log.Printf("api: get run error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(run))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
