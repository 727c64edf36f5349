package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/marketdata"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/metrics"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/orchestrator"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/sandbox"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/scheduler"
)

type failingUpstream struct{}

func (failingUpstream) FetchDaily(context.Context, string, time.Time, time.Time) (*marketdata.Table, error) {
	return nil, assert.AnError
}

type testEnv struct {
	handlers *Handlers
	sched    *scheduler.Scheduler
	router   chi.Router
}

func newTestEnv(t *testing.T, queueCapacity int) *testEnv {
	t.Helper()
	log := zerolog.Nop()
	cache := marketdata.NewCache(t.TempDir(), log)
	provider := marketdata.NewProvider(cache, failingUpstream{}, log)
	executor := sandbox.NewExecutor("/nonexistent/sandbox-bin", time.Second, false, log)
	orch := orchestrator.New(provider, executor, metrics.NewEngine(provider, log), 2, log)
	sched := scheduler.New(orch, queueCapacity, log)
	h := NewHandlers(sched, orch, cache, log)

	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Post("/backtest", h.SubmitBacktest)
	r.Get("/backtest/{id}", h.GetBacktest)
	r.Delete("/backtest/{id}", h.CancelBacktest)
	r.Post("/backtest-sync", h.RunBacktestSync)
	r.Get("/system/status", h.SystemStatus)

	return &testEnv{handlers: h, sched: sched, router: r}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func validRequestBody() map[string]any {
	return map[string]any{
		"strategy_code":   "universe = [\"SPY\"]\n\ndef on_data(data, portfolio):\n    return Hold()\n",
		"start_date":      "2024-01-02T00:00:00Z",
		"end_date":        "2024-03-01T00:00:00Z",
		"initial_capital": 10_000,
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 8)
	rec := env.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestSubmitBacktestAccepted(t *testing.T) {
	env := newTestEnv(t, 8)
	rec := env.do(http.MethodPost, "/backtest", validRequestBody())

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["job_id"])
	assert.Equal(t, string(domain.JobPending), body["status"])
}

func TestSubmitBacktestQueueFull(t *testing.T) {
	env := newTestEnv(t, 1) // no consumer running, capacity one

	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, "/backtest", validRequestBody()).Code)
	rec := env.do(http.MethodPost, "/backtest", validRequestBody())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmitBacktestMalformedJSON(t *testing.T) {
	env := newTestEnv(t, 8)
	rec := env.do(http.MethodPost, "/backtest", "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed JSON")
}

func TestSubmitBacktestShapeErrors(t *testing.T) {
	env := newTestEnv(t, 8)
	rec := env.do(http.MethodPost, "/backtest", map[string]any{})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body struct {
		Errors []domain.ErrorItem `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Errors)

	var messages string
	for _, item := range body.Errors {
		messages += item.Message + "\n"
	}
	assert.Contains(t, messages, "strategy_code is required")
	assert.Contains(t, messages, "initial_capital must be positive")
}

func TestGetBacktestNotFound(t *testing.T) {
	env := newTestEnv(t, 8)
	rec := env.do(http.MethodGet, "/backtest/unknown-id", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBacktestReturnsRecord(t *testing.T) {
	env := newTestEnv(t, 8)
	submit := env.do(http.MethodPost, "/backtest", validRequestBody())
	require.Equal(t, http.StatusAccepted, submit.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(submit.Body.Bytes(), &created))

	rec := env.do(http.MethodGet, "/backtest/"+created["job_id"], nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var record domain.JobRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, created["job_id"], record.JobID)
	assert.Equal(t, domain.JobPending, record.Status)
}

func TestCancelBacktestStatusCodes(t *testing.T) {
	env := newTestEnv(t, 8)

	// Unknown job.
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/backtest/unknown-id", nil).Code)

	// Pending job cancels cleanly.
	submit := env.do(http.MethodPost, "/backtest", validRequestBody())
	var created map[string]string
	require.NoError(t, json.Unmarshal(submit.Body.Bytes(), &created))
	jobID := created["job_id"]

	assert.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/backtest/"+jobID, nil).Code)

	// Cancelling again conflicts: the job is no longer pending.
	assert.Equal(t, http.StatusConflict, env.do(http.MethodDelete, "/backtest/"+jobID, nil).Code)
}

// stallingUpstream blocks fetches until released, keeping a job running for
// as long as a test needs it to be.
type stallingUpstream struct {
	release chan struct{}
}

func (s *stallingUpstream) FetchDaily(ctx context.Context, _ string, _, _ time.Time) (*marketdata.Table, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil, assert.AnError
}

func TestCancelRunningBacktestConflicts(t *testing.T) {
	log := zerolog.Nop()
	cache := marketdata.NewCache(t.TempDir(), log)
	upstream := &stallingUpstream{release: make(chan struct{})}
	defer close(upstream.release)
	provider := marketdata.NewProvider(cache, upstream, log)
	executor := sandbox.NewExecutor("/nonexistent/sandbox-bin", time.Second, false, log)
	orch := orchestrator.New(provider, executor, metrics.NewEngine(provider, log), 2, log)
	sched := scheduler.New(orch, 8, log)
	h := NewHandlers(sched, orch, cache, log)

	r := chi.NewRouter()
	r.Get("/backtest/{id}", h.GetBacktest)
	r.Delete("/backtest/{id}", h.CancelBacktest)
	env := &testEnv{handlers: h, sched: sched, router: r}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	jobID, err := sched.Submit(&domain.BacktestRequest{
		StrategyCode:   "universe = [\"SPY\"]\n\ndef on_data(data, portfolio):\n    return Hold()\n",
		StartDate:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		InitialCapital: 10_000,
	})
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for {
		record, err := sched.Get(jobID)
		require.NoError(t, err)
		if record.Status == domain.JobRunning {
			break
		}
		require.True(t, time.Now().Before(deadline), "job never started running")
		time.Sleep(10 * time.Millisecond)
	}

	rec := env.do(http.MethodDelete, "/backtest/"+jobID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRunBacktestSyncAnalysisErrors(t *testing.T) {
	env := newTestEnv(t, 8)
	body := validRequestBody()
	body["strategy_code"] = "universe = [\"SPY\"]\n\ndef on_data(data, portfolio):\n    return eval(\"1\")\n"

	rec := env.do(http.MethodPost, "/backtest-sync", body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		AnalysisErrors []domain.ErrorItem `json:"analysis_errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AnalysisErrors)
	assert.Contains(t, resp.AnalysisErrors[0].Message, "eval")
}

func TestRunBacktestSyncExecutionErrors(t *testing.T) {
	// Valid strategy, but the market data upstream fails.
	env := newTestEnv(t, 8)
	rec := env.do(http.MethodPost, "/backtest-sync", validRequestBody())

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		ExecutionErrors []domain.ErrorItem `json:"execution_errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ExecutionErrors)
}

func TestSystemStatus(t *testing.T) {
	env := newTestEnv(t, 8)
	rec := env.do(http.MethodGet, "/system/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Contains(t, status, "jobs")
	assert.Contains(t, status, "cached_symbols")
	assert.Contains(t, status, "goroutines")
}

func TestBodyLimitRejectsOversizedBodies(t *testing.T) {
	handler := BodyLimit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/backtest", bytes.NewReader(make([]byte, 16)))
	req.ContentLength = maxBodyBytes + 1
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRateLimiterBlocksAndResets(t *testing.T) {
	rl := NewRateLimiter(2, 100)
	now := time.Now()

	_, allowed := rl.allow("10.0.0.1", now)
	assert.True(t, allowed)
	_, allowed = rl.allow("10.0.0.1", now)
	assert.True(t, allowed)

	retryAfter, allowed := rl.allow("10.0.0.1", now)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))

	// Another client is unaffected.
	_, allowed = rl.allow("10.0.0.2", now)
	assert.True(t, allowed)

	// The minute window resets.
	_, allowed = rl.allow("10.0.0.1", now.Add(61*time.Second))
	assert.True(t, allowed)
}

func TestRateLimiterMiddlewareSetsRetryAfter(t *testing.T) {
	rl := NewRateLimiter(1, 100)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/backtest/x", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

func TestRateLimiterDisabledWhenLimitsNonPositive(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, fmt.Sprintf("request %d", i))
	}
}
