package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/shaiso/conveyor/internal/telemetry"
)

// Default configuration values.
const (
	defaultGracePeriod    = 30 * time.Second
	defaultThreadPoolSize = 32
	defaultMaxActiveUnits = 10_000
)

// UnitID — идентификатор единицы работы.
type UnitID = uuid.UUID

// UnitFunc — тело единицы работы. ctx отменяется при Cancel и Stop.
type UnitFunc func(ctx context.Context) error

// Config — конфигурация Manager.
type Config struct {
	// GracePeriod — сколько Stop ждёт завершения единиц работы (default: 30s).
	GracePeriod time.Duration

	// ThreadPoolSize — лимит одновременных заданий RunInThread (default: 32).
	ThreadPoolSize int

	// ProcessPoolSize — лимит одновременных заданий RunInProcess (default: NumCPU).
	ProcessPoolSize int

	// MaxActiveUnits — ёмкость для оценки backlog в HealthCheck (default: 10000).
	MaxActiveUnits int

	// HandleSignals — останавливать Manager по SIGINT/SIGTERM.
	HandleSignals bool

	// UseHighPerformance — GOMAXPROCS = NumCPU при старте,
	// без захвата стека при панике.
	UseHighPerformance bool

	// Logger
	Logger *slog.Logger
}

// UnitInfo — описание активной единицы работы.
type UnitInfo struct {
	ID      UnitID    `json:"id"`
	Name    string    `json:"name"`
	Started time.Time `json:"started"`
}

type unit struct {
	UnitInfo
	cancel context.CancelFunc
}

// Stats — статистика Manager.
type Stats struct {
	Running         bool  `json:"running"`
	Active          int   `json:"active"`
	Spawned         int64 `json:"spawned"`
	Errors          int64 `json:"errors"`
	Panics          int64 `json:"panics"`
	Starts          int64 `json:"starts"`
	ThreadPoolSize  int   `json:"thread_pool_size"`
	ProcessPoolSize int   `json:"process_pool_size"`
}

// Manager владеет всеми горутинами движка.
type Manager struct {
	logger *slog.Logger

	// Configuration
	gracePeriod     time.Duration
	threadPoolSize  int
	processPoolSize int
	maxActiveUnits  int
	handleSignals   bool
	highPerformance bool

	mu        sync.Mutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	units     map[UnitID]*unit
	callbacks []func(ctx context.Context)
	threads   *semaphore.Weighted
	procs     *semaphore.Weighted
	done      chan struct{}
	stopping  chan struct{}
	wg        sync.WaitGroup

	// Lifetime counters
	spawned atomic.Int64
	errs    atomic.Int64
	panics  atomic.Int64
	starts  atomic.Int64
}

// New создаёт Manager. Для работы нужен Start.
func New(cfg Config) *Manager {
	gracePeriod := cfg.GracePeriod
	if gracePeriod <= 0 {
		gracePeriod = defaultGracePeriod
	}

	threadPoolSize := cfg.ThreadPoolSize
	if threadPoolSize <= 0 {
		threadPoolSize = defaultThreadPoolSize
	}

	processPoolSize := cfg.ProcessPoolSize
	if processPoolSize <= 0 {
		processPoolSize = runtime.NumCPU()
	}

	maxActiveUnits := cfg.MaxActiveUnits
	if maxActiveUnits <= 0 {
		maxActiveUnits = defaultMaxActiveUnits
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan struct{})
	close(done)

	return &Manager{
		logger:          logger,
		gracePeriod:     gracePeriod,
		threadPoolSize:  threadPoolSize,
		processPoolSize: processPoolSize,
		maxActiveUnits:  maxActiveUnits,
		handleSignals:   cfg.HandleSignals,
		highPerformance: cfg.UseHighPerformance,
		units:           make(map[UnitID]*unit),
		done:            done,
	}
}

// Start инициализирует Manager: корневой context, executor'ы
// и (если включено) обработку сигналов. Повторный Start — no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	if m.highPerformance {
		prev := runtime.GOMAXPROCS(runtime.NumCPU())
		m.logger.Debug("high performance mode", "gomaxprocs", runtime.NumCPU(), "previous", prev)
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.units = make(map[UnitID]*unit)
	m.callbacks = nil
	m.threads = semaphore.NewWeighted(int64(m.threadPoolSize))
	m.procs = semaphore.NewWeighted(int64(m.processPoolSize))
	m.done = make(chan struct{})
	m.stopping = make(chan struct{})
	m.running = true
	m.starts.Add(1)

	if m.handleSignals {
		m.watchSignals(m.ctx)
	}

	m.logger.Info("loop manager started",
		"grace_period", m.gracePeriod,
		"thread_pool_size", m.threadPoolSize,
		"process_pool_size", m.processPoolSize,
		"high_performance", m.highPerformance,
	)
	return nil
}

// watchSignals останавливает Manager по SIGINT/SIGTERM. Вызывается под mu.
func (m *Manager) watchSignals(root context.Context) {
	sigCtx, stop := signal.NotifyContext(root, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer stop()
		<-sigCtx.Done()
		if root.Err() != nil {
			return
		}
		m.logger.Info("shutdown signal received")
		if err := m.Stop(context.Background()); err != nil {
			m.logger.Warn("shutdown finished with error", "error", err)
		}
	}()
}

// Go запускает отслеживаемую единицу работы.
//
// Единица попадает в таблицу активных при создании и удаляется
// при завершении. Ошибки и паники логируются и считаются,
// но не распространяются за пределы единицы.
func (m *Manager) Go(name string, fn UnitFunc) (UnitID, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: spawn %s", ErrNotRunning, name)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	u := &unit{
		UnitInfo: UnitInfo{ID: uuid.New(), Name: name, Started: time.Now()},
		cancel:   cancel,
	}
	m.units[u.ID] = u
	m.wg.Add(1)
	active := len(m.units)
	m.mu.Unlock()

	m.spawned.Add(1)
	telemetry.LoopActiveUnits.Set(float64(active))

	go func() {
		defer m.wg.Done()
		defer m.remove(u.ID)
		defer cancel()

		if err := m.runUnit(ctx, u.Name, fn); err != nil {
			m.handleFailure(u.Name, err)
		}
	}()

	return u.ID, nil
}

// runUnit выполняет fn, превращая панику в ошибку.
func (m *Manager) runUnit(ctx context.Context, name string, fn UnitFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if m.highPerformance {
				err = fmt.Errorf("%w: %s: %v", ErrPanic, name, r)
				return
			}
			err = fmt.Errorf("%w: %s: %v\n%s", ErrPanic, name, r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// handleFailure — обработчик ошибок единиц работы: логирует и считает.
func (m *Manager) handleFailure(name string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	if errors.Is(err, ErrPanic) {
		m.panics.Add(1)
		telemetry.LoopErrors.WithLabelValues("panic").Inc()
		m.logger.Error("unit panicked", "unit", name, "error", err)
		return
	}

	m.errs.Add(1)
	telemetry.LoopErrors.WithLabelValues("error").Inc()
	m.logger.Warn("unit failed", "unit", name, "error", err)
}

func (m *Manager) remove(id UnitID) {
	m.mu.Lock()
	delete(m.units, id)
	active := len(m.units)
	m.mu.Unlock()

	telemetry.LoopActiveUnits.Set(float64(active))
}

// Cancel отменяет единицу работы. Возвращает false, если её нет.
func (m *Manager) Cancel(id UnitID) bool {
	m.mu.Lock()
	u, ok := m.units[id]
	m.mu.Unlock()

	if !ok {
		return false
	}
	u.cancel()
	return true
}

// Active возвращает количество активных единиц работы.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.units)
}

// Units возвращает описания активных единиц работы.
func (m *Manager) Units() []UnitInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]UnitInfo, 0, len(m.units))
	for _, u := range m.units {
		out = append(out, u.UnitInfo)
	}
	return out
}

// OnShutdown регистрирует callback, который Stop вызовет после
// завершения единиц работы. Callbacks выполняются в обратном порядке
// и действуют до конца текущего запуска.
func (m *Manager) OnShutdown(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Running проверяет, запущен ли Manager.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Done возвращает канал, который закрывается по завершении Stop.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Stopping возвращает канал, который закрывается в начале Stop.
func (m *Manager) Stopping() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopping == nil {
		return m.done
	}
	return m.stopping
}

// Stop останавливает Manager:
//  1. отменяет все активные единицы работы
//  2. ждёт их завершения не дольше GracePeriod (или дедлайна ctx)
//  3. вызывает shutdown callbacks в обратном порядке
//  4. дожидается заданий executor'ов
//
// Повторный вызов — no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopping)
	cancel := m.cancel
	callbacks := m.callbacks
	m.callbacks = nil
	threads, procs := m.threads, m.procs
	done := m.done
	active := len(m.units)
	m.mu.Unlock()

	m.logger.Info("stopping loop manager...", "active_units", active)

	graceCtx, graceCancel := context.WithTimeout(ctx, m.gracePeriod)
	defer graceCancel()

	cancel()

	var stopErr error
	if err := m.wait(graceCtx); err != nil {
		remaining := m.Units()
		names := make([]string, 0, len(remaining))
		for _, u := range remaining {
			names = append(names, u.Name)
		}
		m.logger.Warn("units did not finish within grace period",
			"remaining", len(remaining),
			"units", names,
		)
		stopErr = fmt.Errorf("%w: %d units still running", ErrGraceExceeded, len(remaining))
	}

	for i := len(callbacks) - 1; i >= 0; i-- {
		m.runCallback(graceCtx, callbacks[i])
	}

	if err := drain(graceCtx, threads, m.threadPoolSize); err != nil && stopErr == nil {
		stopErr = fmt.Errorf("%w: thread executor: %v", ErrGraceExceeded, err)
	}
	if err := drain(graceCtx, procs, m.processPoolSize); err != nil && stopErr == nil {
		stopErr = fmt.Errorf("%w: process executor: %v", ErrGraceExceeded, err)
	}

	close(done)
	m.logger.Info("loop manager stopped")
	return stopErr
}

// wait ждёт завершения всех единиц работы или отмены ctx.
func (m *Manager) wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) runCallback(ctx context.Context, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			m.panics.Add(1)
			m.logger.Error("shutdown callback panicked", "panic", r)
		}
	}()
	fn(ctx)
}

// drain дожидается освобождения всех слотов executor'а.
func drain(ctx context.Context, sem *semaphore.Weighted, size int) error {
	if sem == nil {
		return nil
	}
	if err := sem.Acquire(ctx, int64(size)); err != nil {
		return err
	}
	sem.Release(int64(size))
	return nil
}

// Stats возвращает статистику Manager.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Running:         m.running,
		Active:          len(m.units),
		Spawned:         m.spawned.Load(),
		Errors:          m.errs.Load(),
		Panics:          m.panics.Load(),
		Starts:          m.starts.Load(),
		ThreadPoolSize:  m.threadPoolSize,
		ProcessPoolSize: m.processPoolSize,
	}
}
