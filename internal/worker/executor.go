package worker

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/loop"
)

// Executor — ограниченные executor'ы loop manager'а,
// доступные handler'у через ExecutorFrom.
type Executor interface {
	RunInThread(ctx context.Context, job loop.Job) (any, error)
	RunInProcess(ctx context.Context, job loop.Job) (any, error)
}

type ctxKey int

const (
	ctxExecutor ctxKey = iota
	ctxTaskID
	ctxWorkerID
)

// ExecutorFrom возвращает executor, в котором handler может выполнить
// блокирующую (RunInThread) или CPU-нагруженную (RunInProcess) работу.
// ok=false, если handler вызван вне пула.
func ExecutorFrom(ctx context.Context) (Executor, bool) {
	e, ok := ctx.Value(ctxExecutor).(Executor)
	return e, ok
}

// TaskIDFrom возвращает ID выполняемого task.
func TaskIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxTaskID).(uuid.UUID)
	return id, ok
}

// WorkerIDFrom возвращает ID воркера, выполняющего task.
func WorkerIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxWorkerID).(string)
	return id, ok
}

func withExecution(ctx context.Context, exec Executor, taskID uuid.UUID, workerID string) context.Context {
	ctx = context.WithValue(ctx, ctxExecutor, exec)
	ctx = context.WithValue(ctx, ctxTaskID, taskID)
	return context.WithValue(ctx, ctxWorkerID, workerID)
}
