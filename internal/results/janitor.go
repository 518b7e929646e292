package results

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultJanitorInterval = time.Minute

// Janitor периодически удаляет просроченные результаты.
//
// MemoryKV и так не отдаёт просроченные записи, но память
// освобождается только здесь; для PostgreSQL это DELETE по expires_at.
type Janitor struct {
	kv       KV
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool

	purged atomic.Int64
	runs   atomic.Int64
}

// NewJanitor создаёт janitor с интервалом interval (default: 1m).
func NewJanitor(kv KV, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Janitor{
		kv:       kv,
		logger:   logger,
		interval: interval,
	}
}

// Start запускает расписание "@every <interval>".
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return nil
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %s", j.interval)
	if _, err := c.AddFunc(spec, func() {
		if _, err := j.Sweep(context.Background()); err != nil {
			j.logger.Warn("result purge failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule purge %q: %w", spec, err)
	}

	c.Start()
	j.cron = c
	j.running = true

	j.logger.Debug("result janitor started", "interval", j.interval)
	return nil
}

// Stop останавливает расписание и ждёт завершения текущего прохода.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.running = false
	j.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// Sweep выполняет один проход очистки.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	n, err := j.kv.PurgeExpired(ctx)
	j.runs.Add(1)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}

	j.purged.Add(int64(n))
	if n > 0 {
		j.logger.Debug("purged expired results", "count", n)
	}
	return n, nil
}

// Purged возвращает суммарное число удалённых записей.
func (j *Janitor) Purged() int64 {
	return j.purged.Load()
}
