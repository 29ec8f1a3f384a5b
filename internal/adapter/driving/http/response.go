package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/reviewbridge/internal/application"
	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status   string             `json:"status"`
	Time     string             `json:"time"`
	InFlight int                `json:"in_flight"`
	Capacity int                `json:"capacity"`
	Running  []WorkItemResponse `json:"running"`
	LastPoll *CycleResponse     `json:"last_poll,omitempty"`
}

// WorkItemResponse is a review currently held by a worker.
type WorkItemResponse struct {
	Repo    string `json:"repo"`
	Number  int    `json:"number"`
	HeadSHA string `json:"head_sha"`
	Skill   string `json:"skill"`
}

// CycleResponse summarizes the most recent poll cycle.
type CycleResponse struct {
	FinishedAt  string `json:"finished_at"`
	Repos       int    `json:"repos"`
	NotModified int    `json:"not_modified"`
	Dispatched  int    `json:"dispatched"`
	Deferred    int    `json:"deferred"`
	Pruned      int    `json:"pruned"`
	Errors      int    `json:"errors"`
}

// PollResponse is returned by the manual poll endpoint.
type PollResponse struct {
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Cycle  *CycleResponse `json:"cycle,omitempty"`
}

// RerunResponse acknowledges a re-run request.
type RerunResponse struct {
	Status string `json:"status"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

// RunResponse is one row of the run log.
type RunResponse struct {
	ID         string  `json:"id"`
	Repo       string  `json:"repo"`
	PRNumber   int     `json:"pr_number"`
	HeadSHA    string  `json:"head_sha"`
	Skill      string  `json:"skill"`
	Status     string  `json:"status"`
	Output     string  `json:"output,omitempty"`
	Error      string  `json:"error,omitempty"`
	CommentURL string  `json:"comment_url,omitempty"`
	StartedAt  string  `json:"started_at"`
	FinishedAt string  `json:"finished_at"`
	Seconds    float64 `json:"duration_seconds"`
}

func toWorkItemResponse(item model.WorkItem) WorkItemResponse {
	return WorkItemResponse{
		Repo:    item.Repo,
		Number:  item.Number,
		HeadSHA: item.HeadSHA,
		Skill:   item.Skill,
	}
}

func toCycleResponse(st application.CycleStats) *CycleResponse {
	return &CycleResponse{
		FinishedAt:  st.FinishedAt.UTC().Format(time.RFC3339),
		Repos:       st.Repos,
		NotModified: st.NotModified,
		Dispatched:  st.Dispatched,
		Deferred:    st.Deferred,
		Pruned:      st.Pruned,
		Errors:      st.Errors,
	}
}

func toRunResponse(run model.ReviewRun) RunResponse {
	return RunResponse{
		ID:         run.ID,
		Repo:       run.Repo,
		PRNumber:   run.PRNumber,
		HeadSHA:    run.HeadSHA,
		Skill:      run.Skill,
		Status:     string(run.Status),
		Output:     run.Output,
		Error:      run.Error,
		CommentURL: run.CommentURL,
		StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt: run.FinishedAt.UTC().Format(time.RFC3339),
		Seconds:    run.Duration().Seconds(),
	}
}
