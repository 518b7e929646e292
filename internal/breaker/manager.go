package breaker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/conveyor/internal/domain"
)

const defaultMaxOpenDuration = 5 * time.Minute

// ManagerConfig — конфигурация Manager.
type ManagerConfig struct {
	// Default — конфигурация breaker'ов, созданных через Get.
	Default Config

	// MaxOpenDuration — сколько breaker может быть OPEN,
	// прежде чем Manager считается нездоровым (default: 5m).
	MaxOpenDuration time.Duration

	// Logger
	Logger *slog.Logger
}

// Health — результат проверки здоровья breaker'ов.
type Health struct {
	Status   domain.HealthStatus `json:"status"`
	Open     []string            `json:"open,omitempty"`
	HalfOpen []string            `json:"half_open,omitempty"`
	Stale    []string            `json:"stale,omitempty"`
}

// Manager — реестр breaker'ов по имени зависимости.
type Manager struct {
	cfg     Config
	maxOpen time.Duration
	logger  *slog.Logger

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewManager создаёт пустой реестр.
func NewManager(cfg ManagerConfig) *Manager {
	maxOpen := cfg.MaxOpenDuration
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenDuration
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:      cfg.Default.withDefaults(),
		maxOpen:  maxOpen,
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get возвращает breaker по имени, создавая его с конфигурацией
// по умолчанию при первом обращении.
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb = New(name, m.cfg, m.logger)
	m.breakers[name] = cb
	return cb
}

// Register создаёт breaker с собственной конфигурацией.
// Существующий breaker с тем же именем заменяется.
func (m *Manager) Register(name string, cfg Config) *CircuitBreaker {
	cb := New(name, cfg, m.logger)

	m.mu.Lock()
	m.breakers[name] = cb
	m.mu.Unlock()

	m.logger.Debug("circuit breaker registered",
		"breaker", name,
		"failure_threshold", cb.cfg.FailureThreshold,
		"recovery_timeout", cb.cfg.RecoveryTimeout,
	)
	return cb
}

// Call выполняет fn через breaker зависимости name.
func (m *Manager) Call(ctx context.Context, name string, fn Func) (any, error) {
	return m.Get(name).Call(ctx, fn)
}

// Names возвращает отсортированные имена breaker'ов.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllStats возвращает статистику всех breaker'ов.
func (m *Manager) AllStats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Stats, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.Stats()
	}
	return out
}

// Healthy возвращает true, если ни один breaker не открыт дольше MaxOpenDuration.
func (m *Manager) Healthy() bool {
	return len(m.HealthCheck().Stale) == 0
}

// HealthCheck классифицирует breaker'ы:
//   - unhealthy — есть breaker, открытый дольше MaxOpenDuration
//   - degraded — есть OPEN или HALF_OPEN breaker'ы
//   - healthy — все закрыты
func (m *Manager) HealthCheck() Health {
	m.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, cb := range m.breakers {
		breakers = append(breakers, cb)
	}
	m.mu.RUnlock()

	sort.Slice(breakers, func(i, j int) bool { return breakers[i].name < breakers[j].name })

	h := Health{Status: domain.HealthHealthy}
	for _, cb := range breakers {
		switch cb.State() {
		case domain.CircuitOpen:
			h.Open = append(h.Open, cb.name)
			if cb.OpenFor() > m.maxOpen {
				h.Stale = append(h.Stale, cb.name)
			}
		case domain.CircuitHalfOpen:
			h.HalfOpen = append(h.HalfOpen, cb.name)
		}
	}

	switch {
	case len(h.Stale) > 0:
		h.Status = domain.HealthUnhealthy
	case len(h.Open) > 0 || len(h.HalfOpen) > 0:
		h.Status = domain.HealthDegraded
	}
	return h
}
