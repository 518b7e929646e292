package orchestrator

import (
	"context"
	"sync/atomic"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/mq"
	"github.com/shaiso/conveyor/internal/worker"
)

// Counters — счётчики tasks.
type Counters struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

type counters struct {
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}

func (c *counters) snapshot() Counters {
	return Counters{
		Submitted: c.submitted.Load(),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
		Cancelled: c.cancelled.Load(),
	}
}

func (c *counters) reset() {
	c.submitted.Store(0)
	c.completed.Store(0)
	c.failed.Store(0)
	c.cancelled.Store(0)
}

// completionSink получает события task.completed от пула,
// обновляет счётчики и передаёт событие дальше (в брокер).
type completionSink struct {
	o    *Orchestrator
	next worker.Publisher
}

func (s *completionSink) PublishTaskCompleted(ctx context.Context, payload mq.TaskCompletedPayload) error {
	s.o.handleTaskCompleted(payload)

	if s.next == nil {
		return nil
	}
	return s.next.PublishTaskCompleted(ctx, payload)
}

// handleTaskCompleted обрабатывает завершение task.
func (o *Orchestrator) handleTaskCompleted(payload mq.TaskCompletedPayload) {
	o.countFinished(domain.TaskStatus(payload.Status))

	o.logger.Debug("task completed",
		"task_id", payload.TaskID,
		"handler", payload.Handler,
		"status", payload.Status,
		"attempts", payload.Attempts,
		"duration_ms", payload.DurationMs,
	)
}

func (o *Orchestrator) countFinished(status domain.TaskStatus) {
	switch status {
	case domain.TaskStatusCompleted:
		o.lifetime.completed.Add(1)
		o.run.completed.Add(1)
	case domain.TaskStatusFailed:
		o.lifetime.failed.Add(1)
		o.run.failed.Add(1)
	case domain.TaskStatusCancelled:
		o.lifetime.cancelled.Add(1)
		o.run.cancelled.Add(1)
	}
}
