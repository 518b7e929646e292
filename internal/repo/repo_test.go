package repo

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/results"
)

// Интеграционные тесты запускаются только при заданном CONVEYOR_TEST_DB_URL.
func testPool(t *testing.T) *QueueRepo {
	t.Helper()
	dsn := os.Getenv("CONVEYOR_TEST_DB_URL")
	if dsn == "" {
		t.Skip("CONVEYOR_TEST_DB_URL not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE conveyor_queue, conveyor_results`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return NewQueueRepo(pool)
}

// --- QueueRepo Tests ---

func TestQueueRepo_FIFOWithinPriority(t *testing.T) {
	r := testPool(t)
	ctx := context.Background()

	for _, s := range []string{`"a"`, `"b"`, `"c"`} {
		if err := r.Push(ctx, domain.PriorityHigh, []byte(s)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	n, err := r.Len(ctx, domain.PriorityHigh)
	if err != nil || n != 3 {
		t.Fatalf("expected len 3, got %d (%v)", n, err)
	}

	for _, want := range []string{`"a"`, `"b"`, `"c"`} {
		data, ok, err := r.TryPop(ctx, domain.PriorityHigh)
		if err != nil || !ok {
			t.Fatalf("pop: ok=%v err=%v", ok, err)
		}
		if string(data) != want {
			t.Errorf("expected %s, got %s", want, data)
		}
	}

	if _, ok, err := r.TryPop(ctx, domain.PriorityHigh); ok || err != nil {
		t.Fatalf("expected empty list, ok=%v err=%v", ok, err)
	}
}

func TestQueueRepo_InvalidPriority(t *testing.T) {
	r := testPool(t)
	if err := r.Push(context.Background(), domain.Priority(9), []byte(`{}`)); err == nil {
		t.Fatal("expected error for invalid priority")
	}
}

// --- ResultRepo Tests ---

func TestResultRepo_UpsertGetExpire(t *testing.T) {
	q := testPool(t)
	r := NewResultRepo(q.pool)
	ctx := context.Background()

	live, expired := uuid.New(), uuid.New()
	if err := r.Upsert(ctx, live, []byte(`{"status":"PENDING"}`), time.Hour); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := r.Upsert(ctx, live, []byte(`{"status":"COMPLETED"}`), time.Hour); err != nil {
		t.Fatalf("upsert overwrite: %v", err)
	}
	if err := r.Upsert(ctx, expired, []byte(`{}`), time.Millisecond); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	data, ok, err := r.Get(ctx, live)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(data) != `{"status": "COMPLETED"}` && string(data) != `{"status":"COMPLETED"}` {
		t.Errorf("unexpected payload %s", data)
	}

	if _, ok, _ := r.Get(ctx, expired); ok {
		t.Error("expired result must not be visible")
	}

	many, err := r.GetMany(ctx, []uuid.UUID{live, expired, uuid.New()})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(many) != 1 {
		t.Errorf("expected 1 result, got %d", len(many))
	}

	n, err := r.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged row, got %d", n)
	}
}

func TestResultRepo_FinalIsNotReplaced(t *testing.T) {
	q := testPool(t)
	r := NewResultRepo(q.pool)
	ctx := context.Background()

	id := uuid.New()
	if err := r.Upsert(ctx, id, []byte(`{"status":"CANCELLED"}`), time.Hour); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := r.Upsert(ctx, id, []byte(`{"status":"RUNNING"}`), time.Hour); !errors.Is(err, results.ErrFinal) {
		t.Fatalf("expected ErrFinal, got %v", err)
	}

	data, _, err := r.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(string(data), "CANCELLED") {
		t.Errorf("final payload replaced: %s", data)
	}

	// Просроченный финальный результат можно заменить
	stale := uuid.New()
	r.Upsert(ctx, stale, []byte(`{"status":"COMPLETED"}`), time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if err := r.Upsert(ctx, stale, []byte(`{"status":"PENDING"}`), time.Hour); err != nil {
		t.Errorf("expired final should be replaceable, got %v", err)
	}
}
