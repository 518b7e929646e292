package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
)

// Default configuration values.
const (
	defaultPollInterval     = 50 * time.Millisecond
	defaultFailureThreshold = 5
	defaultProbeInterval    = time.Second
)

// Queue — приоритетная очередь tasks.
type Queue struct {
	lists  Lists
	logger *slog.Logger

	// Configuration
	pollInterval     time.Duration
	failureThreshold int
	probeInterval    time.Duration

	// Состояние доступности store
	mu                  sync.Mutex
	consecutiveFailures int
	lastProbe           time.Time
	lastError           string

	// Tasks, которые нужно пропустить при извлечении
	droppedMu sync.Mutex
	dropped   map[uuid.UUID]struct{}

	// Counters
	enqueued atomic.Int64
	dequeued atomic.Int64
	skipped  atomic.Int64
}

// Config — конфигурация Queue.
type Config struct {
	// Lists — backing store (обязательно).
	Lists Lists

	// PollInterval — как часто перепроверять пустые списки (default: 50ms).
	// Backend с Notifier будит получателей раньше.
	PollInterval time.Duration

	// FailureThreshold — число ошибок подряд, после которого store
	// считается недоступным (default: 5).
	FailureThreshold int

	// ProbeInterval — интервал пробных обращений к недоступному store (default: 1s).
	ProbeInterval time.Duration

	// Logger
	Logger *slog.Logger
}

// Stats — статистика очереди.
type Stats struct {
	Enqueued            int64          `json:"enqueued"`
	Dequeued            int64          `json:"dequeued"`
	Skipped             int64          `json:"skipped"`
	Available           bool           `json:"available"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	LastError           string         `json:"last_error,omitempty"`
	Depth               map[string]int `json:"depth,omitempty"`
}

// New создаёт новую Queue.
func New(cfg Config) *Queue {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	failureThreshold := cfg.FailureThreshold
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}

	probeInterval := cfg.ProbeInterval
	if probeInterval <= 0 {
		probeInterval = defaultProbeInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lists := cfg.Lists
	if lists == nil {
		lists = NewMemoryLists()
	}

	return &Queue{
		lists:            lists,
		logger:           logger,
		pollInterval:     pollInterval,
		failureThreshold: failureThreshold,
		probeInterval:    probeInterval,
		dropped:          make(map[uuid.UUID]struct{}),
	}
}

// Enqueue сохраняет task в списке его приоритета.
//
// Возвращает false при ошибке store — вызывающая сторона
// может повторить попытку с backoff. Никогда не паникует.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) bool {
	if task == nil || !task.Priority.Valid() {
		q.logger.Warn("rejecting task with invalid priority")
		return false
	}

	if !q.allowAttempt() {
		q.logger.Debug("queue unavailable, enqueue rejected", "task_id", task.ID)
		return false
	}

	data, err := task.Encode()
	if err != nil {
		q.logger.Error("failed to encode task", "task_id", task.ID, "error", err)
		return false
	}

	if err := q.lists.Push(ctx, task.Priority, data); err != nil {
		q.recordFailure(err)
		q.logger.Warn("failed to enqueue task",
			"task_id", task.ID,
			"priority", task.Priority.String(),
			"error", err,
		)
		return false
	}

	q.recordSuccess()
	q.enqueued.Add(1)

	q.logger.Debug("task enqueued",
		"task_id", task.ID,
		"handler", task.Handler,
		"priority", task.Priority.String(),
	)
	return true
}

// Dequeue извлекает task с наивысшим приоритетом.
//
// Если все списки пусты, ждёт до timeout и возвращает (nil, nil) —
// это не ошибка. Возвращает ErrUnavailable, пока store недоступен.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.Task, error) {
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !q.allowAttempt() {
			return nil, ErrUnavailable
		}

		// Канал пробуждения берём до сканирования, чтобы не пропустить Push
		var wake <-chan struct{}
		if n, ok := q.lists.(Notifier); ok {
			wake = n.Notify()
		}

		task, err := q.popFirst(ctx)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(min(remaining, q.pollInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// popFirst сканирует уровни от CRITICAL к LOW.
func (q *Queue) popFirst(ctx context.Context) (*domain.Task, error) {
	for _, p := range domain.Priorities() {
		for {
			data, ok, err := q.lists.TryPop(ctx, p)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				q.recordFailure(err)
				return nil, fmt.Errorf("%w: pop %s: %v", ErrStore, p, err)
			}
			q.recordSuccess()

			if !ok {
				break
			}

			task, err := domain.DecodeTask(data)
			if err != nil {
				// Битое сообщение — выбрасываем и продолжаем
				q.logger.Error("dropping undecodable task", "priority", p.String(), "error", err)
				q.skipped.Add(1)
				continue
			}

			if q.takeDropped(task.ID) {
				q.logger.Debug("skipping cancelled task", "task_id", task.ID)
				q.skipped.Add(1)
				continue
			}

			q.dequeued.Add(1)
			return task, nil
		}
	}
	return nil, nil
}

// Drop помечает task для пропуска при извлечении.
func (q *Queue) Drop(id uuid.UUID) {
	q.droppedMu.Lock()
	defer q.droppedMu.Unlock()
	q.dropped[id] = struct{}{}
}

func (q *Queue) takeDropped(id uuid.UUID) bool {
	q.droppedMu.Lock()
	defer q.droppedMu.Unlock()
	if _, ok := q.dropped[id]; ok {
		delete(q.dropped, id)
		return true
	}
	return false
}

// Size возвращает суммарную длину всех списков.
func (q *Queue) Size(ctx context.Context) (int, error) {
	depth, err := q.SizeByPriority(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, n := range depth {
		total += n
	}
	return total, nil
}

// SizeByPriority возвращает длину списка каждого уровня.
func (q *Queue) SizeByPriority(ctx context.Context) (map[domain.Priority]int, error) {
	depth := make(map[domain.Priority]int, domain.PriorityLevels)
	for _, p := range domain.Priorities() {
		n, err := q.lists.Len(ctx, p)
		if err != nil {
			q.recordFailure(err)
			return nil, fmt.Errorf("%w: len %s: %v", ErrStore, p, err)
		}
		depth[p] = n
	}
	q.recordSuccess()
	return depth, nil
}

// Available сообщает, доступен ли store.
func (q *Queue) Available() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.consecutiveFailures < q.failureThreshold
}

// Stats возвращает статистику очереди.
func (q *Queue) Stats(ctx context.Context) Stats {
	q.mu.Lock()
	stats := Stats{
		Enqueued:            q.enqueued.Load(),
		Dequeued:            q.dequeued.Load(),
		Skipped:             q.skipped.Load(),
		Available:           q.consecutiveFailures < q.failureThreshold,
		ConsecutiveFailures: q.consecutiveFailures,
		LastError:           q.lastError,
	}
	q.mu.Unlock()

	if depth, err := q.SizeByPriority(ctx); err == nil {
		stats.Depth = make(map[string]int, len(depth))
		for p, n := range depth {
			stats.Depth[p.String()] = n
		}
	}
	return stats
}

// Close закрывает backing store.
func (q *Queue) Close() error {
	return q.lists.Close()
}

// allowAttempt решает, можно ли обратиться к store.
// Пока store недоступен, пропускается одна проба раз в probeInterval.
func (q *Queue) allowAttempt() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.consecutiveFailures < q.failureThreshold {
		return true
	}
	if time.Since(q.lastProbe) >= q.probeInterval {
		q.lastProbe = time.Now()
		return true
	}
	return false
}

func (q *Queue) recordFailure(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.consecutiveFailures++
	q.lastError = err.Error()
	if q.consecutiveFailures == q.failureThreshold {
		q.lastProbe = time.Now()
		q.logger.Error("queue store unavailable",
			"consecutive_failures", q.consecutiveFailures,
			"error", err,
		)
	}
}

func (q *Queue) recordSuccess() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.consecutiveFailures >= q.failureThreshold {
		q.logger.Info("queue store recovered")
	}
	q.consecutiveFailures = 0
	q.lastError = ""
}
