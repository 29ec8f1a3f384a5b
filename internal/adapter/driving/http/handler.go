package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ericfisherdev/reviewbridge/internal/application"
	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
	"github.com/ericfisherdev/reviewbridge/internal/domain/port/driven"
)

const maxRunsLimit = 500

// Poller is the part of the poll loop the API drives.
type Poller interface {
	TriggerPoll(ctx context.Context) error
	Rerun(repo string, number int) error
	LastCycle() (application.CycleStats, bool)
}

// Pool reports what the worker pool is doing.
type Pool interface {
	Running() []model.WorkItem
	Capacity() int
}

// StateReader exposes the ledger for inspection.
type StateReader interface {
	Snapshot() model.StateDocument
}

// Handler is the HTTP driving adapter that serves the operator API.
type Handler struct {
	poller Poller
	pool   Pool
	state  StateReader
	runLog driven.RunLog // optional
	logger *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. runLog may be nil.
func NewHandler(poller Poller, pool Pool, state StateReader, runLog driven.RunLog, logger *slog.Logger) *Handler {
	return &Handler{
		poller: poller,
		pool:   pool,
		state:  state,
		runLog: runLog,
		logger: logger,
	}
}

// NewRouter creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewRouter(h *Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Recovery innermost so panics are caught before logging.
	r.Use(middleware.RequestID)
	r.Use(func(next http.Handler) http.Handler { return loggingMiddleware(logger, next) })
	r.Use(func(next http.Handler) http.Handler { return recoveryMiddleware(logger, next) })

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/state", h.State)
		r.Get("/runs", h.ListRuns)
		r.Post("/poll", h.Poll)
		r.Post("/repos/{owner}/{name}/pulls/{number}/rerun", h.Rerun)
	})

	return r
}

// Health reports liveness along with pool occupancy and the last poll cycle.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	running := h.pool.Running()
	items := make([]WorkItemResponse, 0, len(running))
	for _, item := range running {
		items = append(items, toWorkItemResponse(item))
	}

	resp := HealthResponse{
		Status:   "ok",
		Time:     time.Now().UTC().Format(time.RFC3339),
		InFlight: len(running),
		Capacity: h.pool.Capacity(),
		Running:  items,
	}
	if st, ok := h.poller.LastCycle(); ok {
		resp.LastPoll = toCycleResponse(st)
	}

	writeJSON(w, http.StatusOK, resp)
}

// State returns the ledger as it would be written to disk.
func (h *Handler) State(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.state.Snapshot())
}

// ListRuns returns run log entries, newest first. Query parameters: repo,
// pr and limit.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runLog == nil {
		writeError(w, http.StatusNotFound, "run log disabled")
		return
	}

	q := r.URL.Query()
	filter := model.RunFilter{Repo: q.Get("repo")}
	if filter.Repo != "" {
		if _, _, err := model.SplitRepoName(filter.Repo); err != nil {
			writeError(w, http.StatusBadRequest, "invalid repo, expected owner/name")
			return
		}
	}
	if v := q.Get("pr"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid pr number")
			return
		}
		filter.PRNumber = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxRunsLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		filter.Limit = n
	}

	runs, err := h.runLog.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toRunResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Poll runs a poll cycle now and waits for it. Repository failures are
// reported in the body; the cycle itself still completed.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	err := h.poller.TriggerPoll(r.Context())
	if err != nil && r.Context().Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "poll canceled")
		return
	}

	resp := PollResponse{Status: "ok"}
	if err != nil {
		resp.Status = "partial"
		resp.Error = err.Error()
	}
	if st, ok := h.poller.LastCycle(); ok {
		resp.Cycle = toCycleResponse(st)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Rerun marks a PR for review on the next cycle regardless of its last
// outcome.
func (h *Handler) Rerun(w http.ResponseWriter, r *http.Request) {
	repo := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")
	if _, _, err := model.SplitRepoName(repo); err != nil {
		writeError(w, http.StatusBadRequest, "invalid repository name")
		return
	}

	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, "invalid PR number")
		return
	}

	err = h.poller.Rerun(repo, number)
	switch {
	case err == nil:
	case errors.Is(err, driven.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "no review record for this pull request")
		return
	case errors.Is(err, application.ErrAlreadyInFlight):
		writeError(w, http.StatusConflict, "review already running")
		return
	default:
		h.logger.Error("failed to request re-run", "repo", repo, "pr", number, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusAccepted, RerunResponse{Status: "queued", Repo: repo, Number: number})
}
