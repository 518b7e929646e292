package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/telemetry"
)

// Default configuration values.
const (
	defaultFailureThreshold = 5
	defaultRecoveryTimeout  = 30 * time.Second
	defaultHalfOpenMaxCalls = 3
)

// Config — конфигурация CircuitBreaker.
type Config struct {
	// FailureThreshold — ошибок подряд до перехода в OPEN (default: 5).
	FailureThreshold int

	// RecoveryTimeout — сколько circuit остаётся OPEN до пробного вызова (default: 30s).
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls — лимит одновременных пробных вызовов в HALF_OPEN
	// и число успехов подряд для закрытия (default: 3).
	HalfOpenMaxCalls int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = defaultRecoveryTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = defaultHalfOpenMaxCalls
	}
	return c
}

// Stats — наблюдаемое состояние breaker'а.
type Stats struct {
	Name                string              `json:"name"`
	State               domain.CircuitState `json:"state"`
	TotalCalls          int64               `json:"total_calls"`
	Successes           int64               `json:"successes"`
	Failures            int64               `json:"failures"`
	Rejected            int64               `json:"rejected"`
	SuccessRate         float64             `json:"success_rate"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	StateChanges        int64               `json:"state_changes"`
	OpenSince           *time.Time          `json:"open_since,omitempty"`
}

// Func — защищаемый вызов.
type Func func(ctx context.Context) (any, error)

// CircuitBreaker — breaker одной зависимости.
type CircuitBreaker struct {
	name   string
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu                  sync.Mutex
	state               domain.CircuitState
	generation          uint64
	consecutiveFailures int
	halfOpenInFlight    int
	halfOpenSuccesses   int
	openSince           time.Time

	// Counters
	totalCalls   int64
	successes    int64
	failures     int64
	rejected     int64
	stateChanges int64
}

// New создаёт breaker в состоянии CLOSED.
func New(name string, cfg Config, logger *slog.Logger) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}

	cb := &CircuitBreaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: logger.With("breaker", name),
		now:    time.Now,
		state:  domain.CircuitClosed,
	}
	telemetry.BreakerState.WithLabelValues(name).Set(cb.state.Value())
	return cb
}

// Name возвращает имя зависимости.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Call выполняет fn под защитой breaker'а.
//
// В OPEN (до истечения RecoveryTimeout) fn не вызывается,
// возвращается ErrCircuitOpen. Отмена ctx вызывающей стороной
// не считается ни успехом, ни ошибкой зависимости; истёкший
// дедлайн считается ошибкой.
func (cb *CircuitBreaker) Call(ctx context.Context, fn Func) (any, error) {
	gen, err := cb.before()
	if err != nil {
		telemetry.BreakerCalls.WithLabelValues(cb.name, "rejected").Inc()
		return nil, err
	}

	v, callErr := fn(ctx)

	switch {
	case callErr == nil:
		cb.after(gen, true)
		telemetry.BreakerCalls.WithLabelValues(cb.name, "success").Inc()
	case errors.Is(callErr, context.Canceled) && ctx.Err() != nil:
		cb.release(gen)
		telemetry.BreakerCalls.WithLabelValues(cb.name, "cancelled").Inc()
	default:
		cb.after(gen, false)
		telemetry.BreakerCalls.WithLabelValues(cb.name, "failure").Inc()
	}

	return v, callErr
}

// before решает, допустить ли вызов, и возвращает поколение состояния.
func (cb *CircuitBreaker) before() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == domain.CircuitOpen {
		if cb.now().Sub(cb.openSince) < cb.cfg.RecoveryTimeout {
			cb.rejected++
			return 0, fmt.Errorf("%w: %s", ErrCircuitOpen, cb.name)
		}
		cb.setState(domain.CircuitHalfOpen)
	}

	if cb.state == domain.CircuitHalfOpen {
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxCalls {
			cb.rejected++
			return 0, fmt.Errorf("%w: %s: %w", ErrCircuitOpen, cb.name, ErrTooManyCalls)
		}
		cb.halfOpenInFlight++
	}

	cb.totalCalls++
	return cb.generation, nil
}

// after учитывает исход вызова. Исходы вызовов, начатых
// в предыдущем поколении состояния, на автомат не влияют.
func (cb *CircuitBreaker) after(gen uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.successes++
	} else {
		cb.failures++
	}

	if gen != cb.generation {
		return
	}

	switch cb.state {
	case domain.CircuitClosed:
		if success {
			cb.consecutiveFailures = 0
			return
		}
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.setState(domain.CircuitOpen)
		}

	case domain.CircuitHalfOpen:
		cb.halfOpenInFlight--
		if !success {
			cb.consecutiveFailures++
			cb.setState(domain.CircuitOpen)
			return
		}
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.cfg.HalfOpenMaxCalls {
			cb.setState(domain.CircuitClosed)
		}
	}
}

// release освобождает слот пробного вызова без учёта исхода.
func (cb *CircuitBreaker) release(gen uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if gen == cb.generation && cb.state == domain.CircuitHalfOpen {
		cb.halfOpenInFlight--
	}
}

// setState переводит автомат в новое состояние. Вызывается под mu.
func (cb *CircuitBreaker) setState(to domain.CircuitState) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to
	cb.generation++
	cb.stateChanges++
	cb.halfOpenInFlight = 0
	cb.halfOpenSuccesses = 0

	switch to {
	case domain.CircuitOpen:
		cb.openSince = cb.now()
	case domain.CircuitClosed:
		cb.consecutiveFailures = 0
		cb.openSince = time.Time{}
	}

	telemetry.BreakerState.WithLabelValues(cb.name).Set(to.Value())

	cb.logger.Info("circuit state changed",
		"from", from,
		"to", to,
		"consecutive_failures", cb.consecutiveFailures,
	)
}

// State возвращает текущее состояние.
//
// OPEN с истёкшим RecoveryTimeout по-прежнему возвращается как OPEN:
// переход в HALF_OPEN происходит только при следующем вызове.
func (cb *CircuitBreaker) State() domain.CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// OpenFor возвращает, сколько circuit уже открыт (0, если не OPEN).
func (cb *CircuitBreaker) OpenFor() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != domain.CircuitOpen {
		return 0
	}
	return cb.now().Sub(cb.openSince)
}

// Stats возвращает снимок статистики.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Stats{
		Name:                cb.name,
		State:               cb.state,
		TotalCalls:          cb.totalCalls,
		Successes:           cb.successes,
		Failures:            cb.failures,
		Rejected:            cb.rejected,
		ConsecutiveFailures: cb.consecutiveFailures,
		StateChanges:        cb.stateChanges,
	}

	if finished := cb.successes + cb.failures; finished > 0 {
		s.SuccessRate = float64(cb.successes) / float64(finished)
	} else {
		s.SuccessRate = 1
	}

	if !cb.openSince.IsZero() {
		since := cb.openSince
		s.OpenSince = &since
	}
	return s
}

// Reset — административный override: переводит circuit в CLOSED
// из любого состояния, минуя HALF_OPEN, и обнуляет счётчик ошибок.
// Вызовы, допущенные до Reset, на новое состояние не влияют.
// Call сам Reset не вызывает.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == domain.CircuitClosed {
		cb.generation++
	}
	cb.setState(domain.CircuitClosed)
	cb.consecutiveFailures = 0
}
