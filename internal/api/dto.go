package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/orchestrator"
)

// SubmitTaskRequest — запрос на отправку task.
type SubmitTaskRequest struct {
	Handler    string         `json:"handler"`
	Args       []any          `json:"args,omitempty"`
	Kwargs     map[string]any `json:"kwargs,omitempty"`
	Priority   string         `json:"priority,omitempty"`
	TimeoutSec float64        `json:"timeout_sec,omitempty"`
	MaxRetries *int           `json:"max_retries,omitempty"`
	Dependency string         `json:"dependency,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Options переводит запрос в опции orchestrator'а.
func (r SubmitTaskRequest) Options() ([]orchestrator.Option, error) {
	if r.Handler == "" {
		return nil, fmt.Errorf("handler is required")
	}
	if r.TimeoutSec < 0 {
		return nil, fmt.Errorf("timeout_sec must be non-negative")
	}

	priority, err := domain.ParsePriority(r.Priority)
	if err != nil {
		return nil, err
	}

	opts := []orchestrator.Option{orchestrator.WithPriority(priority)}
	if r.TimeoutSec > 0 {
		opts = append(opts, orchestrator.WithTimeout(time.Duration(r.TimeoutSec*float64(time.Second))))
	}
	if r.MaxRetries != nil {
		opts = append(opts, orchestrator.WithMaxRetries(*r.MaxRetries))
	}
	if len(r.Kwargs) > 0 {
		opts = append(opts, orchestrator.WithKwargs(r.Kwargs))
	}
	if len(r.Metadata) > 0 {
		opts = append(opts, orchestrator.WithMetadata(r.Metadata))
	}
	if r.Dependency != "" {
		opts = append(opts, orchestrator.WithDependency(r.Dependency))
	}
	return opts, nil
}

// SubmitTaskResponse — ответ на отправку task.
type SubmitTaskResponse struct {
	TaskID uuid.UUID `json:"task_id"`
}

// CancelResponse — ответ на отмену task.
type CancelResponse struct {
	TaskID    uuid.UUID `json:"task_id"`
	Cancelled bool      `json:"cancelled"`
}

// ResultResponse — DTO для TaskResult.
type ResultResponse struct {
	TaskID          uuid.UUID  `json:"task_id"`
	Status          string     `json:"status"`
	Result          any        `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
	ErrorKind       string     `json:"error_kind,omitempty"`
	WorkerID        string     `json:"worker_id,omitempty"`
	Attempts        int        `json:"attempts"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	ExecutionTimeMS int64      `json:"execution_time_ms"`
}

// ResultFromDomain конвертирует domain.TaskResult в ResultResponse.
func ResultFromDomain(r *domain.TaskResult) ResultResponse {
	return ResultResponse{
		TaskID:          r.TaskID,
		Status:          string(r.Status),
		Result:          r.Result,
		Error:           r.Error,
		ErrorKind:       r.ErrorKind,
		WorkerID:        r.WorkerID,
		Attempts:        r.Attempts,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		ExecutionTimeMS: r.ExecutionTime().Milliseconds(),
	}
}

// HealthResponse — DTO для Health.
type HealthResponse struct {
	Status           string            `json:"status"`
	Components       map[string]string `json:"components"`
	Problems         []string          `json:"problems,omitempty"`
	OpenBreakers     []string          `json:"open_breakers,omitempty"`
	HalfOpenBreakers []string          `json:"half_open_breakers,omitempty"`
}

// HealthFromOrchestrator конвертирует orchestrator.Health в HealthResponse.
func HealthFromOrchestrator(h orchestrator.Health) HealthResponse {
	resp := HealthResponse{
		Status:           string(h.Status),
		Components:       make(map[string]string, len(h.Components)),
		Problems:         h.Problems,
		OpenBreakers:     h.Breakers.Open,
		HalfOpenBreakers: h.Breakers.HalfOpen,
	}
	for name, s := range h.Components {
		resp.Components[name] = string(s)
	}
	return resp
}
