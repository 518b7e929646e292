package results

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
)

// Default configuration values.
const (
	defaultTTL              = time.Hour
	defaultPollInterval     = 25 * time.Millisecond
	defaultFailureThreshold = 5
)

// Store — хранилище результатов tasks.
type Store struct {
	kv     KV
	logger *slog.Logger

	// Configuration
	ttl              time.Duration
	pollInterval     time.Duration
	failureThreshold int

	// Ошибки store подряд
	healthMu            sync.Mutex
	consecutiveFailures int
	lastError           string

	// Пробуждение ожидающих при записи в этом процессе
	wakeMu sync.Mutex
	wake   chan struct{}

	// Counters
	stored   atomic.Int64
	failures atomic.Int64
	rejected atomic.Int64
}

// Config — конфигурация Store.
type Config struct {
	// KV — backing store (default: MemoryKV).
	KV KV

	// TTL — срок жизни результата (default: 1h).
	TTL time.Duration

	// PollInterval — интервал опроса store при ожидании (default: 25ms).
	PollInterval time.Duration

	// FailureThreshold — число ошибок подряд, после которого store
	// считается недоступным (default: 5).
	FailureThreshold int

	// Logger
	Logger *slog.Logger
}

// Stats — статистика хранилища.
type Stats struct {
	Stored              int64         `json:"stored"`
	Failures            int64         `json:"failures"`
	Rejected            int64         `json:"rejected"`
	Available           bool          `json:"available"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
	TTL                 time.Duration `json:"ttl"`
}

// NewStore создаёт новый Store.
func NewStore(cfg Config) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	failureThreshold := cfg.FailureThreshold
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	kv := cfg.KV
	if kv == nil {
		kv = NewMemoryKV()
	}

	return &Store{
		kv:           kv,
		logger:       logger,
		ttl:              ttl,
		pollInterval:     pollInterval,
		failureThreshold: failureThreshold,
		wake:             make(chan struct{}),
	}
}

// Put сохраняет результат по task_id с TTL.
//
// Ошибки: ErrEncode, если результат не сериализуется; ErrFinal,
// если в store уже финальный результат; ErrStore при сбое backing store.
func (s *Store) Put(ctx context.Context, result *domain.TaskResult) error {
	if result == nil || result.TaskID == uuid.Nil {
		return fmt.Errorf("%w: result without task id", ErrStore)
	}

	data, err := result.Encode()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrEncode, result.TaskID, err)
	}

	err = s.kv.Upsert(ctx, result.TaskID, data, s.ttl)
	switch {
	case errors.Is(err, ErrFinal):
		s.rejected.Add(1)
		s.logger.Debug("ignoring update of terminal result",
			"task_id", result.TaskID,
			"new_status", result.Status,
		)
		return err
	case err != nil:
		s.recordFailure(err)
		s.logger.Warn("failed to store result",
			"task_id", result.TaskID,
			"status", result.Status,
			"error", err,
		)
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	s.recordSuccess()
	s.stored.Add(1)
	s.notify()
	return nil
}

// StoreResult сохраняет результат по task_id с TTL.
//
// Возвращает false при ошибке store или сериализации. Финальный
// результат не перезаписывается: такая попытка игнорируется (true).
func (s *Store) StoreResult(ctx context.Context, result *domain.TaskResult) bool {
	err := s.Put(ctx, result)
	if errors.Is(err, ErrEncode) {
		s.logger.Error("failed to encode result", "error", err)
	}
	return err == nil || errors.Is(err, ErrFinal)
}

// GetResult возвращает результат или nil, если его нет или TTL истёк.
func (s *Store) GetResult(ctx context.Context, id uuid.UUID) (*domain.TaskResult, error) {
	data, ok, err := s.kv.Get(ctx, id)
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}
	s.recordSuccess()
	if !ok {
		return nil, nil
	}
	return domain.DecodeResult(data)
}

// GetResults возвращает найденные результаты без ожидания.
func (s *Store) GetResults(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.TaskResult, error) {
	raw, err := s.kv.GetMany(ctx, ids)
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}
	s.recordSuccess()

	out := make(map[uuid.UUID]*domain.TaskResult, len(raw))
	for id, data := range raw {
		r, err := domain.DecodeResult(data)
		if err != nil {
			s.logger.Error("failed to decode result", "task_id", id, "error", err)
			continue
		}
		out[id] = r
	}
	return out, nil
}

// WaitForResults ждёт финальных результатов не дольше timeout.
//
// Возвращает только ids, дошедшие до финального статуса.
// Незавершённые ids в ответе отсутствуют — вызывающая сторона
// сравнивает ключи с запрошенным списком. Ошибка возвращается
// только при отмене ctx.
func (s *Store) WaitForResults(ctx context.Context, ids []uuid.UUID, timeout time.Duration) (map[uuid.UUID]*domain.TaskResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := make(map[uuid.UUID]*domain.TaskResult, len(ids))
	for r := range s.Stream(waitCtx, ids) {
		out[r.TaskID] = r
	}

	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// Stream возвращает ленивую последовательность финальных результатов.
//
// Каждый id выдаётся ровно один раз, в порядке завершения.
// Последовательность заканчивается, когда выданы все ids,
// ctx отменён или потребитель прекратил итерацию.
func (s *Store) Stream(ctx context.Context, ids []uuid.UUID) iter.Seq[*domain.TaskResult] {
	return func(yield func(*domain.TaskResult) bool) {
		pending := make(map[uuid.UUID]struct{}, len(ids))
		for _, id := range ids {
			pending[id] = struct{}{}
		}

		for len(pending) > 0 {
			wake := s.wakeChan()

			batch, err := s.collectTerminal(ctx, pending)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("result poll failed", "error", err)
			}

			for _, r := range batch {
				delete(pending, r.TaskID)
				if !yield(r) {
					return
				}
			}

			if len(pending) == 0 {
				return
			}

			timer := time.NewTimer(s.pollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-wake:
			case <-timer.C:
			}
			timer.Stop()
		}
	}
}

// collectTerminal возвращает финальные результаты из pending,
// отсортированные по времени завершения.
func (s *Store) collectTerminal(ctx context.Context, pending map[uuid.UUID]struct{}) ([]*domain.TaskResult, error) {
	ids := make([]uuid.UUID, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}

	found, err := s.GetResults(ctx, ids)
	if err != nil {
		return nil, err
	}

	batch := make([]*domain.TaskResult, 0, len(found))
	for _, r := range found {
		if r.Status.IsTerminal() {
			batch = append(batch, r)
		}
	}

	sort.Slice(batch, func(i, j int) bool {
		return endTime(batch[i]).Before(endTime(batch[j]))
	})
	return batch, nil
}

func endTime(r *domain.TaskResult) time.Time {
	if r.EndTime == nil {
		return time.Time{}
	}
	return *r.EndTime
}

// PurgeExpired удаляет просроченные записи из backing store.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	return s.kv.PurgeExpired(ctx)
}

// KV возвращает backing store (для janitor'а).
func (s *Store) KV() KV {
	return s.kv
}

// Stats возвращает статистику хранилища.
func (s *Store) Stats() Stats {
	s.healthMu.Lock()
	consecutive := s.consecutiveFailures
	lastError := s.lastError
	s.healthMu.Unlock()

	return Stats{
		Stored:              s.stored.Load(),
		Failures:            s.failures.Load(),
		Rejected:            s.rejected.Load(),
		Available:           consecutive < s.failureThreshold,
		ConsecutiveFailures: consecutive,
		LastError:           lastError,
		TTL:                 s.ttl,
	}
}

// Available сообщает, доступен ли backing store.
func (s *Store) Available() bool {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	return s.consecutiveFailures < s.failureThreshold
}

func (s *Store) recordFailure(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	s.failures.Add(1)

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	s.consecutiveFailures++
	s.lastError = err.Error()
	if s.consecutiveFailures == s.failureThreshold {
		s.logger.Error("result store unavailable",
			"consecutive_failures", s.consecutiveFailures,
			"error", err,
		)
	}
}

func (s *Store) recordSuccess() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	if s.consecutiveFailures >= s.failureThreshold {
		s.logger.Info("result store recovered")
	}
	s.consecutiveFailures = 0
	s.lastError = ""
}

// Close закрывает backing store.
func (s *Store) Close() error {
	return s.kv.Close()
}

func (s *Store) wakeChan() <-chan struct{} {
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()
	return s.wake
}

func (s *Store) notify() {
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()
	close(s.wake)
	s.wake = make(chan struct{})
}
