package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/conveyor/internal/breaker"
	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/loop"
	"github.com/shaiso/conveyor/internal/queue"
	"github.com/shaiso/conveyor/internal/registry"
	"github.com/shaiso/conveyor/internal/results"
	"github.com/shaiso/conveyor/internal/worker"
)

// Default configuration values.
const (
	defaultJanitorInterval = time.Minute
	defaultGracePeriod     = 30 * time.Second
	defaultBatchParallel   = 16
)

var validate = validator.New()

// Orchestrator — корень композиции движка.
//
// Владеет очередью, хранилищем результатов, пулом воркеров,
// loop manager'ом и менеджером circuit breaker'ов. Создаётся явно
// в точке входа процесса и передаётся всем вызывающим по ссылке.
type Orchestrator struct {
	registry *registry.Registry
	queue    *queue.Queue
	store    *results.Store
	breakers *breaker.Manager
	loop     *loop.Manager
	pool     *worker.Pool
	janitor  *results.Janitor

	defaultMaxRetries int
	batchParallel     int
	gracePeriod       time.Duration
	logger            *slog.Logger

	// Lifecycle
	mu        sync.Mutex
	running   bool
	startedAt time.Time

	lifetime counters
	run      counters
}

// Config — конфигурация Orchestrator.
//
// Backend'ы задаются через Queue.Lists и Results.KV
// (по умолчанию in-memory).
type Config struct {
	Queue   queue.Config
	Results results.Config
	Breaker breaker.ManagerConfig
	Loop    loop.Config

	// Worker — настройки пула. Компоненты (Registry, Queue, Store,
	// Loop, Breakers) заполняет New.
	Worker worker.Config

	// Registry — реестр handler'ов (default: пустой реестр со встроенными).
	Registry *registry.Registry

	// Publisher — опционально; события task.completed во внешний брокер.
	Publisher worker.Publisher

	// DefaultMaxRetries — MaxRetries для tasks без WithMaxRetries (default: 0).
	DefaultMaxRetries int

	// JanitorInterval — период очистки просроченных результатов (default: 1m).
	JanitorInterval time.Duration

	// BatchParallelism — одновременных Enqueue в SubmitBatch (default: 16).
	BatchParallelism int

	// Logger
	Logger *slog.Logger
}

// Stats — статистика оркестратора и всех компонентов.
type Stats struct {
	Running  bool                     `json:"running"`
	Uptime   time.Duration            `json:"uptime"`
	Run      Counters                 `json:"run"`
	Lifetime Counters                 `json:"lifetime"`
	Queue    queue.Stats              `json:"queue"`
	Results  results.Stats            `json:"results"`
	Pool     worker.Stats             `json:"pool"`
	Loop     loop.Stats               `json:"loop"`
	Breakers map[string]breaker.Stats `json:"breakers"`
}

// Health — агрегированное состояние движка.
type Health struct {
	Status     domain.HealthStatus            `json:"status"`
	Components map[string]domain.HealthStatus `json:"components"`
	Loop       loop.Health                    `json:"loop"`
	Breakers   breaker.Health                 `json:"breakers"`
	Problems   []string                       `json:"problems,omitempty"`
}

// New создаёт Orchestrator и все его компоненты.
func New(cfg Config) (*Orchestrator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
		worker.RegisterBuiltins(reg)
	}

	if cfg.Queue.Logger == nil {
		cfg.Queue.Logger = logger
	}
	if cfg.Results.Logger == nil {
		cfg.Results.Logger = logger
	}
	if cfg.Breaker.Logger == nil {
		cfg.Breaker.Logger = logger
	}
	if cfg.Loop.Logger == nil {
		cfg.Loop.Logger = logger
	}

	o := &Orchestrator{
		registry:          reg,
		queue:             queue.New(cfg.Queue),
		store:             results.NewStore(cfg.Results),
		breakers:          breaker.NewManager(cfg.Breaker),
		loop:              loop.New(cfg.Loop),
		defaultMaxRetries: cfg.DefaultMaxRetries,
		batchParallel:     cfg.BatchParallelism,
		gracePeriod:       cfg.Loop.GracePeriod,
		logger:            logger,
	}

	if o.defaultMaxRetries < 0 {
		o.defaultMaxRetries = 0
	}
	if o.batchParallel <= 0 {
		o.batchParallel = defaultBatchParallel
	}
	if o.gracePeriod <= 0 {
		o.gracePeriod = defaultGracePeriod
	}

	janitorInterval := cfg.JanitorInterval
	if janitorInterval <= 0 {
		janitorInterval = defaultJanitorInterval
	}
	o.janitor = results.NewJanitor(o.store.KV(), janitorInterval, logger)

	wcfg := cfg.Worker
	wcfg.Registry = reg
	wcfg.Queue = o.queue
	wcfg.Store = o.store
	wcfg.Loop = o.loop
	wcfg.Breakers = o.breakers
	wcfg.Publisher = &completionSink{o: o, next: cfg.Publisher}
	if wcfg.Logger == nil {
		wcfg.Logger = logger
	}

	pool, err := worker.New(wcfg)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	o.pool = pool

	return o, nil
}

// Start запускает компоненты в порядке зависимостей:
// loop manager → janitor → пул воркеров.
//
// Повторный Start — no-op. Start после Stop сбрасывает
// счётчики текущего запуска.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	// Loop мог остановиться сам (сигнал): тогда запускаемся заново
	if o.running && o.loop.Running() {
		return nil
	}

	o.run.reset()

	if err := o.loop.Start(ctx); err != nil {
		return fmt.Errorf("start loop manager: %w", err)
	}

	// Остановка loop по сигналу выводит и остальные компоненты
	o.loop.OnShutdown(func(ctx context.Context) {
		if err := o.pool.Stop(ctx); err != nil {
			o.logger.Warn("worker pool stop failed", "error", err)
		}
		o.janitor.Stop()
	})

	if err := o.janitor.Start(); err != nil {
		o.loop.Stop(ctx)
		return fmt.Errorf("start result janitor: %w", err)
	}

	if err := o.pool.Start(ctx); err != nil {
		o.janitor.Stop()
		o.loop.Stop(ctx)
		return fmt.Errorf("start worker pool: %w", err)
	}

	o.running = true
	o.startedAt = time.Now()

	o.logger.Info("orchestrator started", "handlers", len(o.registry.Names()))
	return nil
}

// Stop останавливает компоненты в обратном порядке.
// Tasks, не завершившиеся за GracePeriod, отменяются.
// Повторный вызов — no-op.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return nil
	}
	o.running = false

	o.logger.Info("stopping orchestrator...")

	var errs []error
	poolCtx, cancel := context.WithTimeout(ctx, o.gracePeriod)
	if err := o.pool.Stop(poolCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop worker pool: %w", err))
	}
	cancel()
	o.janitor.Stop()
	if err := o.loop.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop loop manager: %w", err))
	}

	run := o.run.snapshot()
	o.logger.Info("orchestrator stopped",
		"submitted", run.Submitted,
		"completed", run.Completed,
		"failed", run.Failed,
	)
	return errors.Join(errs...)
}

// Close останавливает оркестратор и закрывает backend'ы.
func (o *Orchestrator) Close(ctx context.Context) error {
	stopErr := o.Stop(ctx)
	return errors.Join(stopErr, o.queue.Close(), o.store.Close())
}

// IsRunning проверяет, запущен ли оркестратор.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running && o.loop.Running()
}

// Registry возвращает реестр handler'ов.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// Loop возвращает loop manager процесса.
func (o *Orchestrator) Loop() *loop.Manager {
	return o.loop
}

// SubmitTask создаёт task и ставит его в очередь.
// Возвращается сразу, не дожидаясь выполнения.
func (o *Orchestrator) SubmitTask(ctx context.Context, handler string, args []any, opts ...Option) (uuid.UUID, error) {
	task, err := o.buildTask(handler, args, opts)
	if err != nil {
		return uuid.Nil, err
	}
	return o.submit(ctx, task)
}

// SubmitFunction регистрирует fn под её стабильным именем
// и отправляет task с этим handler'ом.
func (o *Orchestrator) SubmitFunction(ctx context.Context, fn registry.HandlerFunc, args []any, opts ...Option) (uuid.UUID, error) {
	name := o.registry.RegisterFunc(fn)
	if name == "" {
		return uuid.Nil, fmt.Errorf("%w: cannot resolve function name", ErrInvalidTask)
	}
	return o.SubmitTask(ctx, name, args, opts...)
}

// SubmitBatch отправляет несколько tasks параллельно.
//
// Возвращает ID в порядке specs. При ошибке валидации ничего
// не отправляется; при ошибке постановки в очередь возвращаются
// ID уже отправленных tasks (на месте неотправленных — uuid.Nil).
func (o *Orchestrator) SubmitBatch(ctx context.Context, specs []TaskSpec) ([]uuid.UUID, error) {
	if len(specs) == 0 {
		return nil, ErrEmptyBatch
	}

	tasks := make([]*domain.Task, len(specs))
	for i, spec := range specs {
		task, err := o.buildTask(spec.Handler, spec.Args, spec.Options)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		tasks[i] = task
	}

	ids := make([]uuid.UUID, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.batchParallel)

	for i, task := range tasks {
		g.Go(func() error {
			id, err := o.submit(gctx, task)
			if err != nil {
				return fmt.Errorf("task %d: %w", i, err)
			}
			ids[i] = id
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return ids, err
	}
	return ids, nil
}

func (o *Orchestrator) submit(ctx context.Context, task *domain.Task) (uuid.UUID, error) {
	id, err := o.pool.SubmitTask(ctx, task)
	if errors.Is(err, worker.ErrInvalidTask) {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	if err != nil {
		return uuid.Nil, err
	}
	o.lifetime.submitted.Add(1)
	o.run.submitted.Add(1)
	return id, nil
}

// buildTask собирает и валидирует task.
func (o *Orchestrator) buildTask(handler string, args []any, opts []Option) (*domain.Task, error) {
	task := domain.NewTask(handler, args...)
	task.MaxRetries = o.defaultMaxRetries
	for _, opt := range opts {
		opt(task)
	}

	if err := validate.Struct(task); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	return task, nil
}

// GetResult ждёт финальный результат task не дольше timeout.
//
// timeout <= 0 — вернуть текущее состояние без ожидания.
// ErrWaitTimeout означает только, что ожидание истекло:
// task продолжает выполняться.
func (o *Orchestrator) GetResult(ctx context.Context, id uuid.UUID, timeout time.Duration) (*domain.TaskResult, error) {
	current, err := o.store.GetResult(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if current.IsFinished() || timeout <= 0 {
		return current, nil
	}

	got, err := o.store.WaitForResults(ctx, []uuid.UUID{id}, timeout)
	if err != nil {
		return nil, err
	}
	r, ok := got[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s after %s", ErrWaitTimeout, id, timeout)
	}
	return r, nil
}

// GetResults ждёт финальные результаты не дольше timeout.
// Tasks, не завершившиеся за это время, в ответ не попадают.
func (o *Orchestrator) GetResults(ctx context.Context, ids []uuid.UUID, timeout time.Duration) (map[uuid.UUID]*domain.TaskResult, error) {
	return o.store.WaitForResults(ctx, ids, timeout)
}

// StreamResults отдаёт финальные результаты по мере завершения tasks.
func (o *Orchestrator) StreamResults(ctx context.Context, ids []uuid.UUID) iter.Seq[*domain.TaskResult] {
	return o.store.Stream(ctx, ids)
}

// Cancel отменяет task.
//
// Task в очереди получает CANCELLED и будет пропущен при извлечении;
// выполняющийся в этом процессе task прерывается. Возвращает false,
// если task уже завершён.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	current, err := o.store.GetResult(ctx, id)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if current.IsFinished() {
		return false, nil
	}

	if current.Status == domain.TaskStatusPending {
		if err := current.MarkCancelled("cancelled before execution"); err != nil {
			return false, err
		}
		switch err := o.store.Put(ctx, current); {
		case errors.Is(err, results.ErrFinal):
			// Task завершился между чтением и записью
			return false, nil
		case err != nil:
			return false, fmt.Errorf("store cancelled result: %w", err)
		}
		o.queue.Drop(id)
		// Воркер, успевший взять task, увидит ErrFinal и не учтёт его повторно
		o.countFinished(domain.TaskStatusCancelled)
		o.logger.Info("task cancelled before execution", "task_id", id)
	}

	// Task мог уже перейти в RUNNING
	if o.pool.CancelTask(id) {
		o.logger.Info("running task cancelled", "task_id", id)
	}
	return true, nil
}

// Stats возвращает статистику оркестратора и компонентов.
func (o *Orchestrator) Stats(ctx context.Context) Stats {
	o.mu.Lock()
	running := o.running
	startedAt := o.startedAt
	o.mu.Unlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(startedAt)
	}

	return Stats{
		Running:  running,
		Uptime:   uptime,
		Run:      o.run.snapshot(),
		Lifetime: o.lifetime.snapshot(),
		Queue:    o.queue.Stats(ctx),
		Results:  o.store.Stats(),
		Pool:     o.pool.Stats(),
		Loop:     o.loop.Stats(),
		Breakers: o.breakers.AllStats(),
	}
}

// HealthCheck возвращает худший статус среди компонентов.
func (o *Orchestrator) HealthCheck(ctx context.Context) Health {
	h := Health{
		Components: make(map[string]domain.HealthStatus, 5),
		Loop:       o.loop.HealthCheck(ctx),
		Breakers:   o.breakers.HealthCheck(),
	}

	h.Components["loop"] = h.Loop.Status
	h.Problems = append(h.Problems, h.Loop.Problems...)

	h.Components["breakers"] = h.Breakers.Status
	if len(h.Breakers.Stale) > 0 {
		h.Problems = append(h.Problems, fmt.Sprintf("circuits open too long: %v", h.Breakers.Stale))
	}

	h.Components["queue"] = domain.HealthHealthy
	if !o.queue.Available() {
		h.Components["queue"] = domain.HealthDegraded
		h.Problems = append(h.Problems, "queue store unavailable")
	}

	h.Components["results"] = domain.HealthHealthy
	if !o.store.Available() {
		h.Components["results"] = domain.HealthDegraded
		h.Problems = append(h.Problems, "result store unavailable")
	}

	h.Components["pool"] = domain.HealthHealthy
	if !o.pool.IsRunning() {
		h.Components["pool"] = domain.HealthUnhealthy
		h.Problems = append(h.Problems, "worker pool not running")
	}

	statuses := make([]domain.HealthStatus, 0, len(h.Components))
	for _, s := range h.Components {
		statuses = append(statuses, s)
	}
	h.Status = domain.Worst(statuses...)
	return h
}
