package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition — недопустимый переход статуса.
var ErrInvalidTransition = errors.New("invalid status transition")

// Классы ошибок выполнения (TaskResult.ErrorKind).
const (
	ErrorKindTimeout   = "timeout"
	ErrorKindExecution = "execution"
	ErrorKindPanic     = "panic"
	ErrorKindCancelled = "cancelled"
	ErrorKindCircuit   = "circuit_open"
	ErrorKindHandler   = "unknown_handler"
	ErrorKindEncoding  = "encoding"
	ErrorKindSubmit    = "submit"
)

// TaskResult — запись об исходе выполнения task.
//
// Создаётся в статусе PENDING при submit, обновляется Worker'ом.
// После финального статуса запись больше не меняется.
type TaskResult struct {
	// TaskID — ссылка на task.
	TaskID uuid.UUID `json:"task_id"`

	// Status — текущий статус.
	Status TaskStatus `json:"status"`

	// Result — значение, которое вернул handler (только для COMPLETED).
	Result any `json:"result,omitempty"`

	// Error — текст ошибки.
	Error string `json:"error,omitempty"`

	// ErrorKind — класс ошибки: timeout, execution, panic, cancelled...
	ErrorKind string `json:"error_kind,omitempty"`

	// StartTime — начало выполнения.
	StartTime *time.Time `json:"start_time,omitempty"`

	// EndTime — окончание выполнения.
	EndTime *time.Time `json:"end_time,omitempty"`

	// WorkerID — воркер, который выполнял task.
	WorkerID string `json:"worker_id,omitempty"`

	// Attempts — количество попыток.
	Attempts int `json:"attempts"`
}

// NewPendingResult создаёт запись для только что отправленного task.
func NewPendingResult(taskID uuid.UUID) *TaskResult {
	return &TaskResult{TaskID: taskID, Status: TaskStatusPending}
}

// ExecutionTime возвращает продолжительность выполнения.
func (r *TaskResult) ExecutionTime() time.Duration {
	if r.StartTime == nil || r.EndTime == nil {
		return 0
	}
	return r.EndTime.Sub(*r.StartTime)
}

// IsFinished возвращает true, если task завершён.
func (r *TaskResult) IsFinished() bool {
	return r.Status.IsTerminal()
}

// Transition меняет статус с проверкой допустимости перехода.
func (r *TaskResult) Transition(to TaskStatus) error {
	if !r.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	return nil
}

// MarkRunning переводит результат в RUNNING.
func (r *TaskResult) MarkRunning(workerID string) error {
	if err := r.Transition(TaskStatusRunning); err != nil {
		return err
	}
	now := time.Now()
	r.StartTime = &now
	r.WorkerID = workerID
	return nil
}

// MarkCompleted переводит результат в COMPLETED.
func (r *TaskResult) MarkCompleted(value any) error {
	if err := r.Transition(TaskStatusCompleted); err != nil {
		return err
	}
	r.finish()
	r.Result = value
	return nil
}

// MarkFailed переводит результат в FAILED.
func (r *TaskResult) MarkFailed(kind, msg string) error {
	if err := r.Transition(TaskStatusFailed); err != nil {
		return err
	}
	r.finish()
	r.ErrorKind = kind
	r.Error = msg
	return nil
}

// MarkCancelled переводит результат в CANCELLED.
func (r *TaskResult) MarkCancelled(msg string) error {
	if err := r.Transition(TaskStatusCancelled); err != nil {
		return err
	}
	r.finish()
	r.ErrorKind = ErrorKindCancelled
	r.Error = msg
	return nil
}

func (r *TaskResult) finish() {
	now := time.Now()
	r.EndTime = &now
}

// Encode сериализует результат для хранения.
func (r *TaskResult) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return data, nil
}

// DecodeResult восстанавливает результат из хранилища.
func DecodeResult(data []byte) (*TaskResult, error) {
	var r TaskResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &r, nil
}
