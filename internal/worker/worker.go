package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/breaker"
	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/loop"
	"github.com/shaiso/conveyor/internal/mq"
	"github.com/shaiso/conveyor/internal/queue"
	"github.com/shaiso/conveyor/internal/registry"
	"github.com/shaiso/conveyor/internal/results"
	"github.com/shaiso/conveyor/internal/telemetry"
)

// Default configuration values.
const (
	defaultMinWorkers         = 2
	defaultMaxWorkers         = 10
	defaultScaleUpThreshold   = 5.0
	defaultScaleDownThreshold = 1.0
	defaultScaleInterval      = 5 * time.Second
	defaultScaleCooldown      = 30 * time.Second
	defaultTaskTimeout        = 5 * time.Minute
	defaultDequeueTimeout     = time.Second
	defaultRetryDelay         = 100 * time.Millisecond
	defaultMaxRetryDelay      = 30 * time.Second
	defaultSubmitAttempts     = 3
	defaultPauseInterval      = time.Second
	finalWriteTimeout         = 5 * time.Second
)

// Publisher — получатель событий о завершении tasks (mq.Publisher).
type Publisher interface {
	PublishTaskCompleted(ctx context.Context, payload mq.TaskCompletedPayload) error
}

// Pool — пул воркеров с автомасштабированием.
//
// Каждый воркер — единица работы loop.Manager: цикл
// dequeue → выполнение → запись результата. Scaler периодически
// сравнивает нагрузку (глубина очереди / число воркеров) с порогами
// и добавляет или выводит воркеров в пределах [MinWorkers, MaxWorkers].
type Pool struct {
	registry  *registry.Registry
	queue     *queue.Queue
	store     *results.Store
	loop      *loop.Manager
	breakers  *breaker.Manager
	publisher Publisher
	logger    *slog.Logger

	// Configuration
	minWorkers         int
	maxWorkers         int
	scaleUpThreshold   float64
	scaleDownThreshold float64
	scaleInterval      time.Duration
	scaleCooldown      time.Duration
	taskTimeout        time.Duration
	dequeueTimeout     time.Duration
	retryDelay         time.Duration
	maxRetryDelay      time.Duration
	submitAttempts     int
	pauseInterval      time.Duration

	// Workers
	mu          sync.Mutex
	workers     map[string]*workerState
	nextID      int
	lastScaling time.Time
	load        float64

	// Tasks в работе: отмена конкретного task
	inflightMu sync.Mutex
	inflight   map[uuid.UUID]context.CancelFunc

	// Lifecycle
	running   bool
	runningMu sync.RWMutex
	stopCh    chan struct{}

	// Lifetime counters
	scalingEvents  atomic.Int64
	totalProcessed atomic.Int64

	// Per-run counters (сбрасываются в Start)
	processed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}

// workerState — bookkeeping одного воркера.
type workerState struct {
	id     string
	unit   loop.UnitID
	busy   atomic.Bool
	retire context.CancelFunc
	done   chan struct{}
}

// Config — конфигурация Pool.
type Config struct {
	// Components (обязательно)
	Registry *registry.Registry
	Queue    *queue.Queue
	Store    *results.Store
	Loop     *loop.Manager

	// Breakers — опционально; tasks с Metadata["dependency"]
	// выполняются через breaker с этим именем.
	Breakers *breaker.Manager

	// Publisher — опционально; события task.completed.
	Publisher Publisher

	// Scaling
	MinWorkers         int           // default: 2
	MaxWorkers         int           // default: 10
	ScaleUpThreshold   float64       // load, выше которого добавляются воркеры (default: 5)
	ScaleDownThreshold float64       // load, ниже которого воркер выводится (default: 1)
	ScaleInterval      time.Duration // период scaler'а (default: 5s)
	ScaleCooldown      time.Duration // минимум между событиями масштабирования (default: 30s)

	// Execution
	TaskTimeout    time.Duration // таймаут попытки, если task.Timeout не задан (default: 5m)
	DequeueTimeout time.Duration // сколько воркер ждёт task за один Dequeue (default: 1s)
	RetryDelay     time.Duration // начальная задержка retry (default: 100ms)
	MaxRetryDelay  time.Duration // максимальная задержка retry (default: 30s)
	SubmitAttempts int           // попыток Enqueue в SubmitTask (default: 3)
	PauseInterval  time.Duration // пауза воркера при недоступной очереди (default: 1s)

	// Logger
	Logger *slog.Logger
}

// Stats — статистика пула.
type Stats struct {
	Running        bool    `json:"running"`
	WorkerCount    int     `json:"worker_count"`
	BusyWorkers    int     `json:"busy_workers"`
	CurrentLoad    float64 `json:"current_load"`
	MinWorkers     int     `json:"min_workers"`
	MaxWorkers     int     `json:"max_workers"`
	ScalingEvents  int64   `json:"scaling_events"`
	TotalProcessed int64   `json:"total_processed"`
	Processed      int64   `json:"processed"`
	Failed         int64   `json:"failed"`
	Cancelled      int64   `json:"cancelled"`
}

// New создаёт Pool.
func New(cfg Config) (*Pool, error) {
	if cfg.Registry == nil || cfg.Queue == nil || cfg.Store == nil || cfg.Loop == nil {
		return nil, ErrMissingComponent
	}

	p := &Pool{
		registry:           cfg.Registry,
		queue:              cfg.Queue,
		store:              cfg.Store,
		loop:               cfg.Loop,
		breakers:           cfg.Breakers,
		publisher:          cfg.Publisher,
		logger:             cfg.Logger,
		minWorkers:         cfg.MinWorkers,
		maxWorkers:         cfg.MaxWorkers,
		scaleUpThreshold:   cfg.ScaleUpThreshold,
		scaleDownThreshold: cfg.ScaleDownThreshold,
		scaleInterval:      cfg.ScaleInterval,
		scaleCooldown:      cfg.ScaleCooldown,
		taskTimeout:        cfg.TaskTimeout,
		dequeueTimeout:     cfg.DequeueTimeout,
		retryDelay:         cfg.RetryDelay,
		maxRetryDelay:      cfg.MaxRetryDelay,
		submitAttempts:     cfg.SubmitAttempts,
		pauseInterval:      cfg.PauseInterval,
		workers:            make(map[string]*workerState),
		inflight:           make(map[uuid.UUID]context.CancelFunc),
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.minWorkers <= 0 {
		p.minWorkers = defaultMinWorkers
	}
	if p.maxWorkers <= 0 {
		p.maxWorkers = defaultMaxWorkers
	}
	if p.maxWorkers < p.minWorkers {
		return nil, fmt.Errorf("%w: max_workers %d < min_workers %d", ErrInvalidConfig, p.maxWorkers, p.minWorkers)
	}
	if p.scaleUpThreshold <= 0 {
		p.scaleUpThreshold = defaultScaleUpThreshold
	}
	if p.scaleDownThreshold <= 0 {
		p.scaleDownThreshold = defaultScaleDownThreshold
	}
	if p.scaleDownThreshold >= p.scaleUpThreshold {
		return nil, fmt.Errorf("%w: scale_down_threshold %.2f >= scale_up_threshold %.2f",
			ErrInvalidConfig, p.scaleDownThreshold, p.scaleUpThreshold)
	}
	if p.scaleInterval <= 0 {
		p.scaleInterval = defaultScaleInterval
	}
	if p.scaleCooldown <= 0 {
		p.scaleCooldown = defaultScaleCooldown
	}
	if p.taskTimeout <= 0 {
		p.taskTimeout = defaultTaskTimeout
	}
	if p.dequeueTimeout <= 0 {
		p.dequeueTimeout = defaultDequeueTimeout
	}
	if p.retryDelay <= 0 {
		p.retryDelay = defaultRetryDelay
	}
	if p.maxRetryDelay <= 0 {
		p.maxRetryDelay = defaultMaxRetryDelay
	}
	if p.submitAttempts <= 0 {
		p.submitAttempts = defaultSubmitAttempts
	}
	if p.pauseInterval <= 0 {
		p.pauseInterval = defaultPauseInterval
	}

	return p, nil
}

// SubmitTask ставит task в очередь и сохраняет PENDING результат.
// Возвращается сразу, не дожидаясь выполнения.
func (p *Pool) SubmitTask(ctx context.Context, task *domain.Task) (uuid.UUID, error) {
	if task == nil || task.ID == uuid.Nil {
		return uuid.Nil, ErrInvalidTask
	}
	if !task.Priority.Valid() {
		return uuid.Nil, fmt.Errorf("%w: priority %d", ErrInvalidTask, task.Priority)
	}

	// Несериализуемый task отклоняется до записи PENDING
	if _, err := task.Encode(); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}

	// PENDING пишется до Enqueue: воркер может забрать task сразу
	pending := domain.NewPendingResult(task.ID)
	if !p.store.StoreResult(ctx, pending) {
		p.logger.Warn("failed to store pending result", "task_id", task.ID)
	}

	for attempt := 1; ; attempt++ {
		if p.queue.Enqueue(ctx, task) {
			p.logger.Debug("task submitted",
				"task_id", task.ID,
				"handler", task.Handler,
				"priority", task.Priority,
			)
			return task.ID, nil
		}

		if attempt >= p.submitAttempts {
			break
		}

		delay := calculateBackoff(attempt, p.retryDelay, p.maxRetryDelay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			p.abandonPending(ctx, pending, ctx.Err().Error())
			return uuid.Nil, ctx.Err()
		}
	}

	err := fmt.Errorf("%w: %s after %d attempts", ErrSubmitFailed, task.ID, p.submitAttempts)
	p.abandonPending(ctx, pending, err.Error())
	return uuid.Nil, err
}

// abandonPending помечает PENDING-результат task, так и не попавшего
// в очередь, как FAILED (ErrorKind "submit").
func (p *Pool) abandonPending(ctx context.Context, pending *domain.TaskResult, msg string) {
	if err := pending.MarkFailed(domain.ErrorKindSubmit, msg); err != nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	if err := p.store.Put(writeCtx, pending); err != nil {
		p.logger.Warn("failed to mark unsubmitted task failed",
			"task_id", pending.TaskID,
			"error", err,
		)
	}
}

// Start запускает MinWorkers воркеров и scaler.
func (p *Pool) Start(ctx context.Context) error {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()

	if p.running {
		return nil
	}

	p.processed.Store(0)
	p.failed.Store(0)
	p.cancelled.Store(0)
	p.stopCh = make(chan struct{})

	p.logger.Info("starting worker pool",
		"min_workers", p.minWorkers,
		"max_workers", p.maxWorkers,
		"scale_interval", p.scaleInterval,
	)

	for i := 0; i < p.minWorkers; i++ {
		if err := p.spawnWorker(); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
	}

	stopCh := p.stopCh
	if _, err := p.loop.Go("worker-scaler", func(ctx context.Context) error {
		return p.scaleLoop(ctx, stopCh)
	}); err != nil {
		return fmt.Errorf("start scaler: %w", err)
	}

	p.running = true
	p.logger.Info("worker pool started")
	return nil
}

// Stop сигнализирует воркерам завершить текущие tasks и выйти.
// Если ctx истекает раньше, незавершённые tasks отменяются
// (CANCELLED). Повторный вызов — no-op.
func (p *Pool) Stop(ctx context.Context) error {
	p.runningMu.Lock()
	if !p.running {
		p.runningMu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.runningMu.Unlock()

	p.logger.Info("stopping worker pool...")

	p.mu.Lock()
	workers := make([]*workerState, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
		w.retire()
	}
	p.mu.Unlock()

	for _, w := range workers {
		select {
		case <-w.done:
			continue
		case <-ctx.Done():
		}

		// Grace истёк: прерываем оставшиеся tasks, они получат CANCELLED
		cancelled := p.cancelInflight()
		p.logger.Warn("worker pool stop deadline reached, cancelling tasks",
			"cancelled", cancelled,
			"error", ctx.Err(),
		)
		p.awaitWorkers(workers, finalWriteTimeout)
		return ctx.Err()
	}

	p.logger.Info("worker pool stopped", "processed", p.processed.Load())
	return nil
}

// cancelInflight отменяет все выполняющиеся tasks.
func (p *Pool) cancelInflight() int {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()

	for _, cancel := range p.inflight {
		cancel()
	}
	return len(p.inflight)
}

// awaitWorkers ждёт завершения воркеров не дольше timeout.
func (p *Pool) awaitWorkers(workers []*workerState, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for _, w := range workers {
		select {
		case <-w.done:
		case <-timer.C:
			return
		}
	}
}

// IsRunning проверяет, запущен ли пул.
func (p *Pool) IsRunning() bool {
	p.runningMu.RLock()
	defer p.runningMu.RUnlock()
	return p.running
}

// CancelTask отменяет выполняющийся task. Возвращает false,
// если task сейчас не выполняется в этом процессе.
func (p *Pool) CancelTask(id uuid.UUID) bool {
	p.inflightMu.Lock()
	cancel, ok := p.inflight[id]
	p.inflightMu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// WorkerCount возвращает текущее число воркеров.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Stats возвращает статистику пула.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	count := len(p.workers)
	busy := 0
	for _, w := range p.workers {
		if w.busy.Load() {
			busy++
		}
	}
	load := p.load
	p.mu.Unlock()

	return Stats{
		Running:        p.IsRunning(),
		WorkerCount:    count,
		BusyWorkers:    busy,
		CurrentLoad:    load,
		MinWorkers:     p.minWorkers,
		MaxWorkers:     p.maxWorkers,
		ScalingEvents:  p.scalingEvents.Load(),
		TotalProcessed: p.totalProcessed.Load(),
		Processed:      p.processed.Load(),
		Failed:         p.failed.Load(),
		Cancelled:      p.cancelled.Load(),
	}
}

// spawnWorker запускает новый воркер через loop manager.
func (p *Pool) spawnWorker() error {
	p.mu.Lock()
	p.nextID++
	id := fmt.Sprintf("worker-%d", p.nextID)
	p.mu.Unlock()

	w := &workerState{id: id, done: make(chan struct{})}

	// retire отменяет только ожидание в Dequeue, не выполнение task
	retireCtx, retire := context.WithCancel(context.Background())
	w.retire = retire

	p.mu.Lock()
	p.workers[id] = w
	count := len(p.workers)
	p.mu.Unlock()

	unit, err := p.loop.Go(id, func(ctx context.Context) error {
		defer close(w.done)
		defer p.removeWorker(w.id)
		return p.runWorker(ctx, retireCtx, w)
	})
	if err != nil {
		p.removeWorker(id)
		retire()
		close(w.done)
		return err
	}
	w.unit = unit

	telemetry.Workers.Set(float64(count))
	p.logger.Debug("worker started", "worker_id", id, "unit_id", unit)
	return nil
}

func (p *Pool) removeWorker(id string) {
	p.mu.Lock()
	delete(p.workers, id)
	count := len(p.workers)
	p.mu.Unlock()

	telemetry.Workers.Set(float64(count))
}

// runWorker — цикл одного воркера.
//
// Ошибки отдельных tasks фиксируются в их результатах;
// цикл завершается только при shutdown или выводе воркера.
func (p *Pool) runWorker(ctx, retireCtx context.Context, w *workerState) error {
	logger := telemetry.WithWorkerID(p.logger, w.id)

	// Dequeue прерывается и shutdown'ом, и выводом воркера
	dequeueCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(retireCtx, cancel)
	defer stop()

	for {
		if dequeueCtx.Err() != nil {
			logger.Debug("worker exiting")
			return nil
		}

		task, err := p.queue.Dequeue(dequeueCtx, p.dequeueTimeout)
		if err != nil {
			if dequeueCtx.Err() != nil {
				continue
			}
			if errors.Is(err, queue.ErrUnavailable) {
				logger.Debug("queue unavailable, pausing", "pause", p.pauseInterval)
			} else {
				logger.Warn("dequeue failed", "error", err)
			}
			p.pause(dequeueCtx)
			continue
		}

		if task == nil {
			continue
		}

		p.processTask(ctx, w, task)
	}
}

// pause ждёт PauseInterval или отмены ctx.
func (p *Pool) pause(ctx context.Context) {
	timer := time.NewTimer(p.pauseInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (p *Pool) trackInflight(id uuid.UUID, cancel context.CancelFunc) {
	p.inflightMu.Lock()
	p.inflight[id] = cancel
	p.inflightMu.Unlock()
}

func (p *Pool) untrackInflight(id uuid.UUID) {
	p.inflightMu.Lock()
	delete(p.inflight, id)
	p.inflightMu.Unlock()
}
