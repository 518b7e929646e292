package loop

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Job — работа для executor'а.
type Job func(ctx context.Context) (any, error)

type jobResult struct {
	value any
	err   error
}

// RunInThread выполняет блокирующую работу на ограниченном executor'е.
//
// Вызывающий ждёт результата или отмены ctx; при отмене job получает
// отменённый context, а его слот освобождается, когда job вернётся.
func (m *Manager) RunInThread(ctx context.Context, job Job) (any, error) {
	return m.runJob(ctx, "thread", func() *semaphore.Weighted { return m.threads }, job)
}

// RunInProcess выполняет CPU-нагруженную работу на отдельном
// executor'е размером ProcessPoolSize.
func (m *Manager) RunInProcess(ctx context.Context, job Job) (any, error) {
	return m.runJob(ctx, "process", func() *semaphore.Weighted { return m.procs }, job)
}

func (m *Manager) runJob(ctx context.Context, kind string, pick func() *semaphore.Weighted, job Job) (any, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s executor", ErrNotRunning, kind)
	}
	sem := pick()
	root := m.ctx
	m.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(ctx)
	stopOnShutdown := context.AfterFunc(root, cancel)

	out := make(chan jobResult, 1)
	go func() {
		defer sem.Release(1)
		defer stopOnShutdown()
		defer cancel()

		var r jobResult
		if err := m.runUnit(jobCtx, kind+" job", func(ctx context.Context) error {
			r.value, r.err = job(ctx)
			return nil
		}); err != nil {
			m.handleFailure(kind+" job", err)
			r = jobResult{err: err}
		}
		out <- r
	}()

	select {
	case r := <-out:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
