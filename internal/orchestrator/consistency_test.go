package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/queue"
	"github.com/shaiso/conveyor/internal/registry"
	"github.com/shaiso/conveyor/internal/results"
)

// slowRunningKV задерживает запись RUNNING и запоминает
// статусы успешных записей.
type slowRunningKV struct {
	*results.MemoryKV
	delay time.Duration

	started     chan struct{}
	startedOnce sync.Once

	mu     sync.Mutex
	writes []string
}

func newSlowRunningKV(delay time.Duration) *slowRunningKV {
	return &slowRunningKV{
		MemoryKV: results.NewMemoryKV(),
		delay:    delay,
		started:  make(chan struct{}),
	}
}

func (k *slowRunningKV) Upsert(ctx context.Context, id uuid.UUID, data []byte, ttl time.Duration) error {
	if bytes.Contains(data, []byte(`"status":"RUNNING"`)) {
		k.startedOnce.Do(func() { close(k.started) })
		time.Sleep(k.delay)
	}

	if err := k.MemoryKV.Upsert(ctx, id, data, ttl); err != nil {
		return err
	}

	r, err := domain.DecodeResult(data)
	if err == nil {
		k.mu.Lock()
		k.writes = append(k.writes, string(r.Status))
		k.mu.Unlock()
	}
	return nil
}

func (k *slowRunningKV) statuses() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return slices.Clone(k.writes)
}

// failingLists отказывает на каждой операции.
type failingLists struct{}

func (failingLists) Push(context.Context, domain.Priority, []byte) error {
	return errors.New("connection refused")
}

func (failingLists) TryPop(context.Context, domain.Priority) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingLists) Len(context.Context, domain.Priority) (int, error) {
	return 0, errors.New("connection refused")
}

func (failingLists) Close() error { return nil }

// failingKV отказывает на каждой операции.
type failingKV struct{}

func (failingKV) Upsert(context.Context, uuid.UUID, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (failingKV) Get(context.Context, uuid.UUID) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingKV) GetMany(context.Context, []uuid.UUID) (map[uuid.UUID][]byte, error) {
	return nil, errors.New("connection refused")
}

func (failingKV) PurgeExpired(context.Context) (int, error) { return 0, nil }

func (failingKV) Close() error { return nil }

func startWith(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()

	o, err := New(cfg)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		o.Close(ctx)
	})
	return o
}

// --- Result Persistence Tests ---

func TestUnencodableResultIsStoredAsFailed(t *testing.T) {
	o := newOrchestrator(t, true)
	ctx := context.Background()

	o.Registry().Register("nan", func(context.Context, []any, map[string]any) (any, error) {
		return math.NaN(), nil
	})

	id, err := o.SubmitTask(ctx, "nan", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	r, err := o.GetResult(ctx, id, 2*time.Second)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if r.Status != domain.TaskStatusFailed || r.ErrorKind != domain.ErrorKindEncoding {
		t.Fatalf("expected FAILED/encoding, got %s/%s", r.Status, r.ErrorKind)
	}
	if r.Result != nil {
		t.Errorf("failed result should carry no value, got %v", r.Result)
	}

	waitFor(t, "failure counted", func() bool {
		run := o.Stats(ctx).Run
		return run.Failed == 1 && run.Completed == 0
	})
}

func TestSubmitTask_UnencodableArgs(t *testing.T) {
	o := newOrchestrator(t, false)
	ctx := context.Background()

	_, err := o.SubmitTask(ctx, "echo", []any{math.Inf(1)})
	if !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask, got %v", err)
	}
	if n, _ := o.queue.Size(ctx); n != 0 {
		t.Errorf("expected nothing queued, got %d", n)
	}
	if got := o.Stats(ctx).Results.Stored; got != 0 {
		t.Errorf("no pending result should be stored, got %d", got)
	}
}

func TestCancelDuringRunningWriteKeepsCancelled(t *testing.T) {
	kv := newSlowRunningKV(100 * time.Millisecond)
	cfg := testConfig()
	cfg.Results.KV = kv
	o := startWith(t, cfg)
	ctx := context.Background()

	var executed atomic.Bool
	o.Registry().Register("work", func(context.Context, []any, map[string]any) (any, error) {
		executed.Store(true)
		return "done", nil
	})

	id, err := o.SubmitTask(ctx, "work", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case <-kv.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never started the task")
	}

	ok, err := o.Cancel(ctx, id)
	if err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}

	// Даём отложенной записи RUNNING завершиться
	time.Sleep(200 * time.Millisecond)

	r, err := o.GetResult(ctx, id, 0)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if r.Status != domain.TaskStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", r.Status)
	}
	if executed.Load() {
		t.Error("handler must not run after cancellation")
	}

	want := []string{"PENDING", "CANCELLED"}
	if got := kv.statuses(); !slices.Equal(got, want) {
		t.Errorf("expected writes %v, got %v", want, got)
	}

	run := o.Stats(ctx).Run
	if run.Cancelled != 1 || run.Completed != 0 {
		t.Errorf("cancellation should be counted once, got %+v", run)
	}
}

// --- Concurrent Combinator Tests ---

func TestFilterAsync_ConcurrentClosures(t *testing.T) {
	o := newOrchestrator(t, true)
	ctx := context.Background()

	items := []any{1, 2, 3, 4, 5, 6}
	limits := []float64{2, 4}
	got := make([][]any, len(limits))
	errs := make([]error, len(limits))

	var wg sync.WaitGroup
	for i, limit := range limits {
		// Все предикаты создаются на одной строке
		pred := func(_ context.Context, item any) (bool, error) {
			n, err := registry.ToFloat(item)
			return n > limit, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i], errs[i] = o.FilterAsync(ctx, pred, items, 2*time.Second)
		}()
	}
	wg.Wait()

	want := [][]any{{3, 4, 5, 6}, {5, 6}}
	for i := range limits {
		if errs[i] != nil {
			t.Fatalf("filter %d: %v", i, errs[i])
		}
		if !slices.Equal(got[i], want[i]) {
			t.Errorf("filter %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestMapAsync_ConcurrentClosures(t *testing.T) {
	o := newOrchestrator(t, true)
	ctx := context.Background()

	factors := []float64{10, 100}
	got := make([][]any, len(factors))
	errs := make([]error, len(factors))

	var wg sync.WaitGroup
	for i, factor := range factors {
		fn := func(_ context.Context, args []any, _ map[string]any) (any, error) {
			n, err := registry.Float(args, 0)
			return n * factor, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i], errs[i] = o.MapAsync(ctx, fn, []any{1, 2}, 2*time.Second)
		}()
	}
	wg.Wait()

	want := [][]any{{10.0, 20.0}, {100.0, 200.0}}
	for i := range factors {
		if errs[i] != nil {
			t.Fatalf("map %d: %v", i, errs[i])
		}
		if !slices.Equal(got[i], want[i]) {
			t.Errorf("map %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

// --- Store Health Tests ---

func TestHealthCheck_QueueOutageIsDegraded(t *testing.T) {
	cfg := testConfig()
	cfg.Queue = queue.Config{Lists: failingLists{}, FailureThreshold: 1, PollInterval: 5 * time.Millisecond}
	o := startWith(t, cfg)
	ctx := context.Background()

	if _, err := o.SubmitTask(ctx, "echo", nil); err == nil {
		t.Fatal("expected submit to fail")
	}

	h := o.HealthCheck(ctx)
	if h.Components["queue"] != domain.HealthDegraded {
		t.Errorf("expected degraded queue, got %s", h.Components["queue"])
	}
	if h.Status == domain.HealthUnhealthy {
		t.Errorf("store outage should not make the engine unhealthy: %v", h.Problems)
	}
}

func TestHealthCheck_ResultStoreOutageIsDegraded(t *testing.T) {
	cfg := testConfig()
	cfg.Results = results.Config{KV: failingKV{}, FailureThreshold: 1, PollInterval: 5 * time.Millisecond}
	o := startWith(t, cfg)
	ctx := context.Background()

	if _, err := o.GetResult(ctx, uuid.New(), 0); err == nil {
		t.Fatal("expected store error")
	}

	h := o.HealthCheck(ctx)
	if h.Components["results"] != domain.HealthDegraded {
		t.Errorf("expected degraded results, got %s", h.Components["results"])
	}
	if !slices.Contains(h.Problems, "result store unavailable") {
		t.Errorf("expected result store problem, got %v", h.Problems)
	}
}
