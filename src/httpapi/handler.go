package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pipeline-relay/src/contracts"
	"pipeline-relay/src/logger"
	"pipeline-relay/src/monitor"
	"pipeline-relay/src/orchestrator"
	"pipeline-relay/src/present"
	"pipeline-relay/src/snapshot"
)

// Querier answers queries. *orchestrator.Orchestrator satisfies it.
type Querier interface {
	Handle(ctx context.Context, text string) (orchestrator.Result, error)
}

// Handler holds the collaborators shared by every request.
type Handler struct {
	queries Querier
	monitor *monitor.Monitor
	log     logger.Logger
	now     func() time.Time
}

func NewHandler(queries Querier, mon *monitor.Monitor, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewSilentLogger()
	}
	return &Handler{queries: queries, monitor: mon, log: log, now: time.Now}
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryResponse is a successful answer.
type QueryResponse struct {
	RequestID string `json:"request_id"`
	Response  string `json:"response"`
	Cached    bool   `json:"cached"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// MonitorRequest is the optional body of POST /v1/jobs/{job}/monitor.
type MonitorRequest struct {
	Parameters map[string]string `json:"parameters"`
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), requestIDFromContext(r.Context()))
		return
	}

	res, err := h.queries.Handle(r.Context(), req.Query)
	if err != nil {
		h.log.Warn("[HTTP] %s query failed: %v", requestIDFromContext(r.Context()), err)
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{
		RequestID: res.RequestID,
		Response:  res.Response,
		Cached:    res.Cached,
		ElapsedMS: res.Elapsed.Milliseconds(),
	})
}

func (h *Handler) table(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, snapshot.RenderTable)
}

func (h *Handler) narrative(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, snapshot.RenderNarrative)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, render func(snapshot.PipelineSnapshot) string) {
	job, err := jobParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), requestIDFromContext(r.Context()))
		return
	}
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "build number must be a positive integer", requestIDFromContext(r.Context()))
		return
	}

	snap, err := h.monitor.Snapshot(r.Context(), snapshot.BuildIdentity{JobName: job, BuildNumber: number})
	if err != nil {
		h.log.Warn("[HTTP] %s describe %s #%d failed: %v", requestIDFromContext(r.Context()), job, number, err)
		writeFailure(w, r, err)
		return
	}
	writeText(w, render(snap))
}

// monitorJob triggers the job and streams one JSON line per snapshot. Errors
// after the first line are reported in-band as a final event.
func (h *Handler) monitorJob(w http.ResponseWriter, r *http.Request) {
	job, err := jobParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), requestIDFromContext(r.Context()))
		return
	}
	var req MonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), requestIDFromContext(r.Context()))
		return
	}

	runID := uuid.NewString()
	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	started := false
	seq := 0

	for snap, err := range h.monitor.Run(r.Context(), job, req.Parameters) {
		if err != nil && !started {
			h.log.Warn("[HTTP] %s monitor %s failed: %v", requestIDFromContext(r.Context()), job, err)
			writeFailure(w, r, err)
			return
		}
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}

		seq++
		ev := contracts.SnapshotEvent{
			RunID:     runID,
			Sequence:  seq,
			Snapshot:  snap,
			Final:     err != nil || !snap.IsBuilding,
			Timestamp: h.now().UTC().Format(time.RFC3339),
		}
		if err != nil {
			ev.Error = present.Message(err)
		}
		if encErr := enc.Encode(ev); encErr != nil {
			h.log.Debug("[HTTP] %s client went away: %v", requestIDFromContext(r.Context()), encErr)
			return
		}
		_ = rc.Flush()
	}
}

// jobParam returns the job name; folder separators arrive escaped.
func jobParam(r *http.Request) (string, error) {
	job, err := url.PathUnescape(chi.URLParam(r, "job"))
	if err != nil {
		return "", err
	}
	job = strings.Trim(job, "/")
	if job == "" {
		return "", errors.New("job name is required")
	}
	return job, nil
}
