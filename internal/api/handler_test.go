package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/orchestrator"
	"github.com/shaiso/conveyor/internal/queue"
	"github.com/shaiso/conveyor/internal/worker"
)

// fakeEngine — управляемая реализация Engine для тестов.
type fakeEngine struct {
	submitted []*domain.Task
	submitErr error

	results   map[uuid.UUID]*domain.TaskResult
	waitCalls []time.Duration
	waitErr   error

	cancelled bool
	cancelErr error

	health orchestrator.Health
	stats  orchestrator.Stats
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{results: make(map[uuid.UUID]*domain.TaskResult)}
}

func (f *fakeEngine) SubmitTask(_ context.Context, handler string, args []any, opts ...orchestrator.Option) (uuid.UUID, error) {
	if f.submitErr != nil {
		return uuid.Nil, f.submitErr
	}
	task := domain.NewTask(handler, args...)
	for _, opt := range opts {
		opt(task)
	}
	f.submitted = append(f.submitted, task)
	return task.ID, nil
}

func (f *fakeEngine) GetResult(_ context.Context, id uuid.UUID, timeout time.Duration) (*domain.TaskResult, error) {
	f.waitCalls = append(f.waitCalls, timeout)
	if timeout > 0 && f.waitErr != nil {
		return nil, f.waitErr
	}
	res, ok := f.results[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrTaskNotFound, id)
	}
	return res, nil
}

func (f *fakeEngine) Cancel(_ context.Context, _ uuid.UUID) (bool, error) {
	return f.cancelled, f.cancelErr
}

func (f *fakeEngine) Stats(context.Context) orchestrator.Stats {
	return f.stats
}

func (f *fakeEngine) HealthCheck(context.Context) orchestrator.Health {
	return f.health
}

func newTestServer(t *testing.T, engine *fakeEngine) *httptest.Server {
	t.Helper()
	h := NewHandler(Config{
		Engine:  engine,
		MaxWait: 2 * time.Second,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv
}

func decodeData(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func decodeError(t *testing.T, resp *http.Response) ErrorDetail {
	t.Helper()
	defer resp.Body.Close()
	var env ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return env.Error
}

// --- System Tests ---

func TestLiveness(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHealth_Healthy(t *testing.T) {
	engine := newFakeEngine()
	engine.health = orchestrator.Health{
		Status:     domain.HealthHealthy,
		Components: map[string]domain.HealthStatus{"queue": domain.HealthHealthy},
	}
	srv := newTestServer(t, engine)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body HealthResponse
	decodeData(t, resp, &body)
	if body.Status != string(domain.HealthHealthy) {
		t.Errorf("expected healthy, got %q", body.Status)
	}
	if body.Components["queue"] != string(domain.HealthHealthy) {
		t.Errorf("unexpected components: %v", body.Components)
	}
}

func TestHealth_UnhealthyReturns503(t *testing.T) {
	engine := newFakeEngine()
	engine.health = orchestrator.Health{
		Status:   domain.HealthUnhealthy,
		Problems: []string{"queue backing store unavailable"},
	}
	srv := newTestServer(t, engine)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}

	var body HealthResponse
	decodeData(t, resp, &body)
	if len(body.Problems) != 1 {
		t.Errorf("expected 1 problem, got %v", body.Problems)
	}
}

func TestStats(t *testing.T) {
	engine := newFakeEngine()
	engine.stats = orchestrator.Stats{
		Running:  true,
		Lifetime: orchestrator.Counters{Submitted: 7},
	}
	srv := newTestServer(t, engine)

	resp, err := http.Get(srv.URL + "/api/v1/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body orchestrator.Stats
	decodeData(t, resp, &body)
	if !body.Running || body.Lifetime.Submitted != 7 {
		t.Errorf("unexpected stats: %+v", body)
	}
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	resp, err := http.Get(srv.URL + "/api/v1/flows")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Code != ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND, got %s", e.Code)
	}
}

// --- Task Tests ---

func TestSubmitTask(t *testing.T) {
	engine := newFakeEngine()
	srv := newTestServer(t, engine)

	body := `{"handler":"echo","args":[1,2],"kwargs":{"k":"v"},"priority":"high","timeout_sec":1.5,"max_retries":0,"dependency":"payments"}`
	resp, err := http.Post(srv.URL+"/api/v1/tasks", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var out SubmitTaskResponse
	decodeData(t, resp, &out)

	if len(engine.submitted) != 1 {
		t.Fatalf("expected 1 submitted task, got %d", len(engine.submitted))
	}
	task := engine.submitted[0]
	if out.TaskID != task.ID {
		t.Errorf("expected id %s, got %s", task.ID, out.TaskID)
	}
	if task.Handler != "echo" || len(task.Args) != 2 {
		t.Errorf("unexpected task: %+v", task)
	}
	if task.Priority != domain.PriorityHigh {
		t.Errorf("expected HIGH, got %s", task.Priority)
	}
	if task.Timeout != 1500*time.Millisecond {
		t.Errorf("expected 1.5s timeout, got %s", task.Timeout)
	}
	if task.MaxRetries != 0 {
		t.Errorf("expected 0 retries, got %d", task.MaxRetries)
	}
	if task.Kwargs["k"] != "v" {
		t.Errorf("unexpected kwargs: %v", task.Kwargs)
	}
	if task.Dependency() != "payments" {
		t.Errorf("expected dependency payments, got %q", task.Dependency())
	}
}

func TestSubmitTask_BadRequests(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	cases := map[string]string{
		"malformed":        `{`,
		"missing handler":  `{"args":[1]}`,
		"unknown priority": `{"handler":"echo","priority":"asap"}`,
		"negative timeout": `{"handler":"echo","timeout_sec":-1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/v1/tasks", "application/json", strings.NewReader(body))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			if e := decodeError(t, resp); e.Code != ErrCodeBadRequest {
				t.Errorf("expected BAD_REQUEST, got %s", e.Code)
			}
		})
	}
}

func TestSubmitTask_EngineErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid task", fmt.Errorf("%w: bad", orchestrator.ErrInvalidTask), http.StatusBadRequest},
		{"queue unavailable", fmt.Errorf("enqueue: %w", queue.ErrUnavailable), http.StatusServiceUnavailable},
		{"submit failed", fmt.Errorf("%w: after 3 attempts", worker.ErrSubmitFailed), http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := newFakeEngine()
			engine.submitErr = tc.err
			srv := newTestServer(t, engine)

			resp, err := http.Post(srv.URL+"/api/v1/tasks", "application/json", strings.NewReader(`{"handler":"echo"}`))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Errorf("expected %d, got %d", tc.status, resp.StatusCode)
			}
		})
	}
}

func TestGetResult(t *testing.T) {
	engine := newFakeEngine()
	id := uuid.New()
	start := time.Now()
	end := start.Add(250 * time.Millisecond)
	engine.results[id] = &domain.TaskResult{
		TaskID:    id,
		Status:    domain.TaskStatusCompleted,
		Result:    42.0,
		StartTime: &start,
		EndTime:   &end,
		Attempts:  1,
		WorkerID:  "worker-1",
	}
	srv := newTestServer(t, engine)

	resp, err := http.Get(srv.URL + "/api/v1/results/" + id.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out ResultResponse
	decodeData(t, resp, &out)
	if out.Status != string(domain.TaskStatusCompleted) {
		t.Errorf("expected COMPLETED, got %s", out.Status)
	}
	if out.Result != 42.0 {
		t.Errorf("expected 42, got %v", out.Result)
	}
	if out.ExecutionTimeMS != 250 {
		t.Errorf("expected 250ms, got %d", out.ExecutionTimeMS)
	}
	if engine.waitCalls[0] != 0 {
		t.Errorf("expected no wait, got %s", engine.waitCalls[0])
	}
}

func TestGetResult_WaitCappedAndFallsBack(t *testing.T) {
	engine := newFakeEngine()
	engine.waitErr = orchestrator.ErrWaitTimeout
	id := uuid.New()
	engine.results[id] = &domain.TaskResult{TaskID: id, Status: domain.TaskStatusRunning}
	srv := newTestServer(t, engine)

	resp, err := http.Get(srv.URL + "/api/v1/results/" + id.String() + "?wait=1m")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out ResultResponse
	decodeData(t, resp, &out)
	if out.Status != string(domain.TaskStatusRunning) {
		t.Errorf("expected RUNNING, got %s", out.Status)
	}

	if len(engine.waitCalls) != 2 {
		t.Fatalf("expected wait then current read, got %v", engine.waitCalls)
	}
	if engine.waitCalls[0] != 2*time.Second {
		t.Errorf("expected wait capped at 2s, got %s", engine.waitCalls[0])
	}
	if engine.waitCalls[1] != 0 {
		t.Errorf("expected fallback without wait, got %s", engine.waitCalls[1])
	}
}

func TestGetResult_Errors(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	resp, err := http.Get(srv.URL + "/api/v1/results/not-a-uuid")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/v1/results/" + uuid.NewString() + "?wait=soon")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad wait, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/v1/results/" + uuid.NewString())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown task, got %d", resp.StatusCode)
	}
}

func TestCancelTask(t *testing.T) {
	engine := newFakeEngine()
	engine.cancelled = true
	srv := newTestServer(t, engine)

	id := uuid.New()
	resp, err := http.Post(srv.URL+"/api/v1/tasks/"+id.String()+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out CancelResponse
	decodeData(t, resp, &out)
	if !out.Cancelled || out.TaskID != id {
		t.Errorf("unexpected response: %+v", out)
	}
}

func TestCancelTask_NotFound(t *testing.T) {
	engine := newFakeEngine()
	engine.cancelErr = orchestrator.ErrTaskNotFound
	srv := newTestServer(t, engine)

	resp, err := http.Post(srv.URL+"/api/v1/tasks/"+uuid.NewString()+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	resp, err := http.Post(srv.URL+"/api/v1/stats", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Code != ErrCodeMethodNotAllow {
		t.Errorf("expected METHOD_NOT_ALLOWED, got %s", e.Code)
	}
}
