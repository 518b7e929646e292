package orchestrator

import (
	"maps"
	"time"

	"github.com/shaiso/conveyor/internal/domain"
)

// Option настраивает task перед отправкой.
type Option func(*domain.Task)

// WithPriority задаёт приоритет task.
func WithPriority(p domain.Priority) Option {
	return func(t *domain.Task) { t.Priority = p }
}

// WithTimeout задаёт таймаут одной попытки выполнения.
func WithTimeout(d time.Duration) Option {
	return func(t *domain.Task) { t.Timeout = d }
}

// WithMaxRetries задаёт число повторов после ошибки.
func WithMaxRetries(n int) Option {
	return func(t *domain.Task) { t.MaxRetries = n }
}

// WithKwargs добавляет именованные аргументы.
func WithKwargs(kwargs map[string]any) Option {
	return func(t *domain.Task) {
		if t.Kwargs == nil {
			t.Kwargs = make(map[string]any, len(kwargs))
		}
		maps.Copy(t.Kwargs, kwargs)
	}
}

// WithMetadata добавляет метаданные вызывающей стороны.
func WithMetadata(metadata map[string]any) Option {
	return func(t *domain.Task) {
		if t.Metadata == nil {
			t.Metadata = make(map[string]any, len(metadata))
		}
		maps.Copy(t.Metadata, metadata)
	}
}

// WithDependency направляет выполнение через circuit breaker
// с именем dependency.
func WithDependency(dependency string) Option {
	return WithMetadata(map[string]any{domain.MetadataDependency: dependency})
}

// TaskSpec — описание task для SubmitBatch и ExecuteParallelWorkflow.
type TaskSpec struct {
	Handler string
	Args    []any
	Options []Option
}
