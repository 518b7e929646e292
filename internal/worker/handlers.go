package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/conveyor/internal/breaker"
	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/mq"
	"github.com/shaiso/conveyor/internal/registry"
	"github.com/shaiso/conveyor/internal/results"
	"github.com/shaiso/conveyor/internal/telemetry"
)

// execution — исход выполнения task со всеми попытками.
type execution struct {
	value    any
	err      error
	kind     string
	attempts int
}

// processTask выполняет task и сохраняет его финальный результат.
func (p *Pool) processTask(ctx context.Context, w *workerState, task *domain.Task) {
	logger := telemetry.WithTaskID(telemetry.WithWorkerID(p.logger, w.id), task.ID.String())

	// Task мог быть отменён, пока ждал в очереди
	existing, err := p.store.GetResult(ctx, task.ID)
	if err != nil {
		logger.Warn("failed to read task result", "error", err)
	}
	if existing != nil && existing.IsFinished() {
		logger.Debug("skipping finished task", "status", existing.Status)
		return
	}

	w.busy.Store(true)
	defer w.busy.Store(false)

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.trackInflight(task.ID, cancel)
	defer p.untrackInflight(task.ID)

	result := domain.NewPendingResult(task.ID)
	if err := result.MarkRunning(w.id); err != nil {
		logger.Error("invalid result transition", "error", err)
		return
	}
	if err := p.store.Put(ctx, result); err != nil {
		if errors.Is(err, results.ErrFinal) {
			// Cancel успел записать финальный статус
			logger.Debug("skipping task finished before start")
			return
		}
		logger.Warn("failed to store running result", "error", err)
	}

	logger.Info("task started",
		"handler", task.Handler,
		"priority", task.Priority,
		"max_retries", task.MaxRetries,
	)

	exec := p.executeWithRetry(taskCtx, w, task)
	result.Attempts = exec.attempts

	var markErr error
	switch {
	case exec.err == nil:
		markErr = result.MarkCompleted(exec.value)
	case exec.kind == domain.ErrorKindCancelled:
		markErr = result.MarkCancelled(exec.err.Error())
	default:
		markErr = result.MarkFailed(exec.kind, exec.err.Error())
	}
	if markErr != nil {
		logger.Error("invalid result transition", "error", markErr)
		return
	}

	final, ok := p.finish(ctx, task, result)
	if !ok {
		logger.Debug("task outcome superseded by stored final result")
		return
	}

	if final.Status == domain.TaskStatusFailed {
		logger.Warn("task failed",
			"handler", task.Handler,
			"attempts", final.Attempts,
			"error_kind", final.ErrorKind,
			"error", final.Error,
		)
		return
	}

	logger.Info("task finished",
		"handler", task.Handler,
		"status", final.Status,
		"attempts", final.Attempts,
		"duration", final.ExecutionTime(),
	)
}

// finish сохраняет финальный результат, обновляет счётчики
// и публикует событие. Запись идёт даже после отмены ctx:
// отменённый при shutdown task должен получить CANCELLED.
//
// Значение, которое нельзя сериализовать, заменяется на FAILED
// с ErrorKind "encoding". ok=false, если в store уже лежит финальный
// результат: этот исход учитывает тот, кто его записал.
func (p *Pool) finish(ctx context.Context, task *domain.Task, result *domain.TaskResult) (*domain.TaskResult, bool) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	err := p.store.Put(writeCtx, result)
	if errors.Is(err, results.ErrEncode) {
		p.logger.Warn("task result is not encodable",
			"task_id", task.ID,
			"handler", task.Handler,
			"error", err,
		)
		result = encodingFailure(result, err)
		err = p.store.Put(writeCtx, result)
	}

	switch {
	case errors.Is(err, results.ErrFinal):
		return result, false
	case err != nil:
		p.logger.Error("failed to store final result",
			"task_id", task.ID,
			"status", result.Status,
			"error", err,
		)
	}

	p.processed.Add(1)
	p.totalProcessed.Add(1)
	switch result.Status {
	case domain.TaskStatusFailed:
		p.failed.Add(1)
	case domain.TaskStatusCancelled:
		p.cancelled.Add(1)
	}

	status := string(result.Status)
	telemetry.TasksTotal.WithLabelValues(status).Inc()
	telemetry.TaskDuration.WithLabelValues(status).Observe(result.ExecutionTime().Seconds())

	p.publishCompletion(writeCtx, task, result)
	return result, true
}

// encodingFailure строит FAILED-результат вместо COMPLETED,
// значение которого не сериализуется.
func encodingFailure(result *domain.TaskResult, err error) *domain.TaskResult {
	failed := &domain.TaskResult{
		TaskID:    result.TaskID,
		Status:    domain.TaskStatusRunning,
		StartTime: result.StartTime,
		WorkerID:  result.WorkerID,
		Attempts:  result.Attempts,
	}
	// RUNNING -> FAILED всегда допустим
	_ = failed.MarkFailed(domain.ErrorKindEncoding, err.Error())
	return failed
}

// publishCompletion публикует событие task.completed.
func (p *Pool) publishCompletion(ctx context.Context, task *domain.Task, result *domain.TaskResult) {
	if p.publisher == nil {
		return
	}

	payload := mq.TaskCompletedPayload{
		TaskID:     task.ID,
		Handler:    task.Handler,
		Priority:   task.Priority.String(),
		Status:     string(result.Status),
		Error:      result.Error,
		ErrorKind:  result.ErrorKind,
		WorkerID:   result.WorkerID,
		Attempts:   result.Attempts,
		DurationMs: result.ExecutionTime().Milliseconds(),
	}

	if err := p.publisher.PublishTaskCompleted(ctx, payload); err != nil {
		// Результат уже в store, событие — только уведомление
		p.logger.Warn("failed to publish task.completed",
			"task_id", task.ID,
			"error", err,
		)
	}
}

// executeWithRetry выполняет task, повторяя после ошибок выполнения
// до task.MaxRetries раз. Таймаут, отмена, открытый circuit
// и неизвестный handler не повторяются.
func (p *Pool) executeWithRetry(ctx context.Context, w *workerState, task *domain.Task) execution {
	handler, err := p.registry.Get(task.Handler)
	if err != nil {
		return execution{err: err, kind: domain.ErrorKindHandler}
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = p.taskTimeout
	}

	maxAttempts := task.MaxRetries + 1

	for attempt := 1; ; attempt++ {
		value, err := p.executeOnce(ctx, w, task, handler, timeout)
		if err == nil {
			return execution{value: value, attempts: attempt}
		}

		kind := classify(ctx, err)
		if kind == domain.ErrorKindTimeout {
			err = fmt.Errorf("%w: task timed out after %s", ErrExecutionTimeout, timeout)
		}

		exec := execution{err: err, kind: kind, attempts: attempt}
		if kind != domain.ErrorKindExecution && kind != domain.ErrorKindPanic {
			return exec
		}
		if attempt >= maxAttempts {
			return exec
		}

		delay := calculateBackoff(attempt, p.retryDelay, p.maxRetryDelay)

		p.logger.Debug("retrying task",
			"task_id", task.ID,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return execution{err: ctx.Err(), kind: domain.ErrorKindCancelled, attempts: attempt}
		}
	}
}

// executeOnce выполняет одну попытку под таймаутом,
// через circuit breaker, если task указывает зависимость.
func (p *Pool) executeOnce(ctx context.Context, w *workerState, task *domain.Task, handler registry.HandlerFunc, timeout time.Duration) (any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := telemetry.WithTaskID(telemetry.WithWorkerID(p.logger, w.id), task.ID.String())
	attemptCtx = telemetry.WithLogger(attemptCtx, logger)
	attemptCtx = withExecution(attemptCtx, p.loop, task.ID, w.id)

	call := func(ctx context.Context) (any, error) {
		return invoke(ctx, handler, task)
	}

	if dep := task.Dependency(); dep != "" && p.breakers != nil {
		return p.breakers.Call(attemptCtx, dep, call)
	}
	return call(attemptCtx)
}

// invoke вызывает handler в отдельной горутине, чтобы таймаут
// срабатывал и для handler'ов, не проверяющих ctx. Такой handler
// продолжит работу в фоне, но его результат будет отброшен.
func invoke(ctx context.Context, handler registry.HandlerFunc, task *domain.Task) (any, error) {
	type outcome struct {
		value any
		err   error
	}

	out := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				out <- outcome{err: fmt.Errorf("%w: %v", ErrHandlerPanic, r)}
			}
		}()
		v, err := handler(ctx, task.Args, task.Kwargs)
		out <- outcome{value: v, err: err}
	}()

	select {
	case o := <-out:
		return o.value, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// classify определяет класс ошибки попытки.
// ctx — context task'а (без таймаута попытки).
func classify(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return domain.ErrorKindCancelled
	case errors.Is(err, breaker.ErrCircuitOpen):
		return domain.ErrorKindCircuit
	case errors.Is(err, ErrHandlerPanic):
		return domain.ErrorKindPanic
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorKindTimeout
	case errors.Is(err, registry.ErrHandlerNotFound):
		return domain.ErrorKindHandler
	default:
		return domain.ErrorKindExecution
	}
}

// calculateBackoff вычисляет задержку перед retry:
// delay = initial * 2^(attempt-1), не больше maxDelay.
func calculateBackoff(attempt int, initial, maxDelay time.Duration) time.Duration {
	if initial <= 0 {
		initial = defaultRetryDelay
	}
	if maxDelay <= 0 {
		maxDelay = defaultMaxRetryDelay
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return min(delay, maxDelay)
}
