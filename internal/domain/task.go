package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task — неизменяемое описание единицы работы.
//
// Task создаётся Orchestrator'ом и живёт в очереди до тех пор,
// пока Worker не заберёт его. Handler — имя функции в registry,
// а не сама функция: так task можно сериализовать и выполнить
// в любом процессе, где зарегистрирован тот же набор handler'ов.
type Task struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// Handler — имя handler'а в registry.
	Handler string `json:"handler" validate:"required"`

	// Args — позиционные аргументы.
	Args []any `json:"args,omitempty"`

	// Kwargs — именованные аргументы.
	Kwargs map[string]any `json:"kwargs,omitempty"`

	// Priority — приоритет (определяет порядок извлечения из очереди).
	Priority Priority `json:"priority" validate:"gte=0,lte=4"`

	// Timeout — максимальное время одной попытки выполнения.
	// 0 означает таймаут пула по умолчанию.
	Timeout time.Duration `json:"timeout" validate:"gte=0"`

	// MaxRetries — сколько раз повторять после ошибки.
	MaxRetries int `json:"max_retries" validate:"gte=0"`

	// Metadata — произвольные данные вызывающей стороны.
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt — время создания task.
	CreatedAt time.Time `json:"created_at"`
}

// NewTask создаёт task с новым ID и приоритетом NORMAL.
func NewTask(handler string, args ...any) *Task {
	return &Task{
		ID:        uuid.New(),
		Handler:   handler,
		Args:      args,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
	}
}

// Dependency возвращает имя внешней зависимости из Metadata, если задано.
// Worker оборачивает вызов такого task в circuit breaker с этим именем.
func (t *Task) Dependency() string {
	if t.Metadata == nil {
		return ""
	}
	if s, ok := t.Metadata[MetadataDependency].(string); ok {
		return s
	}
	return ""
}

// MetadataDependency — ключ Metadata с именем circuit breaker'а.
const MetadataDependency = "dependency"

// Encode сериализует task для хранения в backing store.
func (t *Task) Encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	return data, nil
}

// DecodeTask восстанавливает task из backing store.
func DecodeTask(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	if t.ID == uuid.Nil {
		return nil, fmt.Errorf("unmarshal task: empty id")
	}
	return &t, nil
}
