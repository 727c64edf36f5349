package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/marketdata"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/orchestrator"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/scheduler"
)

// Handlers implements the API endpoints.
type Handlers struct {
	sched   *scheduler.Scheduler
	orch    *orchestrator.Orchestrator
	cache   *marketdata.Cache
	log     zerolog.Logger
	started time.Time
}

// NewHandlers wires the endpoint implementations.
func NewHandlers(sched *scheduler.Scheduler, orch *orchestrator.Orchestrator, cache *marketdata.Cache, log zerolog.Logger) *Handlers {
	return &Handlers{
		sched:   sched,
		orch:    orch,
		cache:   cache,
		log:     log.With().Str("component", "api").Logger(),
		started: time.Now(),
	}
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// SubmitBacktest queues an asynchronous backtest and returns its job ID.
func (h *Handlers) SubmitBacktest(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	jobID, err := h.sched.Submit(req)
	if err != nil {
		if errors.Is(err, scheduler.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "job queue is full, try again later")
			return
		}
		h.log.Error().Err(err).Msg("Job submission failed")
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(domain.JobPending),
	})
}

// GetBacktest returns a job's record, result included once complete.
func (h *Handlers) GetBacktest(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	record, err := h.sched.Get(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// CancelBacktest removes a queued job. Jobs past the pending state are not
// cancellable.
func (h *Handlers) CancelBacktest(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	switch err := h.sched.Cancel(jobID); {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, scheduler.ErrJobNotPending):
		writeError(w, http.StatusConflict, "job is no longer pending")
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"job_id": jobID,
			"status": string(domain.JobCancelled),
		})
	}
}

// RunBacktestSync executes a backtest inline and returns the full result.
// Failures attributable to the strategy come back as 400 with the granular
// error list; everything else is a 500.
func (h *Handlers) RunBacktestSync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.orch.Execute(r.Context(), "", req)
	if err != nil {
		var validation *domain.ValidationError
		var execution *domain.ExecutionError
		switch {
		case errors.As(err, &validation):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"analysis_errors": validation.Errors.Items,
			})
		case errors.As(err, &execution):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"execution_errors": execution.Errors.Items,
			})
		default:
			h.log.Error().Err(err).Msg("Sync backtest failed")
			writeError(w, http.StatusInternalServerError, "backtest failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// SystemStatus reports process and host gauges.
func (h *Handlers) SystemStatus(w http.ResponseWriter, r *http.Request) {
	queued, pending, running, total := h.sched.Stats()

	status := map[string]any{
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"jobs": map[string]int{
			"queued":  queued,
			"pending": pending,
			"running": running,
			"total":   total,
		},
		"cached_symbols": h.cache.FileCount(),
	}

	if percents, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		status["memory"] = map[string]any{
			"total_bytes": vm.Total,
			"used_bytes":  vm.Used,
			"percent":     vm.UsedPercent,
		}
	}

	writeJSON(w, http.StatusOK, status)
}

// decodeRequest parses and shape-validates a backtest request, writing the
// appropriate error response itself when validation fails.
func (h *Handlers) decodeRequest(w http.ResponseWriter, r *http.Request) (*domain.BacktestRequest, bool) {
	var req domain.BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "malformed JSON request")
		return nil, false
	}
	if errs := req.ValidateShape(); errs != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": errs.Items})
		return nil, false
	}
	return &req, true
}
