package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
)

// BatchState — состояние группы tasks, отправленных вместе.
//
// Хранит ID в порядке отправки, чтобы результаты можно было
// вернуть в том же порядке, хотя завершаются tasks в любом.
type BatchState struct {
	ids     []uuid.UUID
	index   map[uuid.UUID]int
	results []*domain.TaskResult
}

// BatchStats — статистика группы.
type BatchStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Pending   int `json:"pending"`
}

// NewBatchState создаёт состояние для ids.
func NewBatchState(ids []uuid.UUID) *BatchState {
	index := make(map[uuid.UUID]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	return &BatchState{
		ids:     ids,
		index:   index,
		results: make([]*domain.TaskResult, len(ids)),
	}
}

// IDs возвращает ID в порядке отправки.
func (s *BatchState) IDs() []uuid.UUID {
	return s.ids
}

// Record сохраняет результаты, относящиеся к группе.
func (s *BatchState) Record(got map[uuid.UUID]*domain.TaskResult) {
	for id, r := range got {
		if i, ok := s.index[id]; ok {
			s.results[i] = r
		}
	}
}

// IsComplete проверяет, что у каждого task есть финальный результат.
func (s *BatchState) IsComplete() bool {
	for _, r := range s.results {
		if r == nil || !r.IsFinished() {
			return false
		}
	}
	return true
}

// Missing возвращает ID tasks без финального результата.
func (s *BatchState) Missing() []uuid.UUID {
	var missing []uuid.UUID
	for i, r := range s.results {
		if r == nil || !r.IsFinished() {
			missing = append(missing, s.ids[i])
		}
	}
	return missing
}

// Results возвращает результаты в порядке отправки
// (nil для незавершённых).
func (s *BatchState) Results() []*domain.TaskResult {
	return s.results
}

// Completed возвращает результаты COMPLETED в порядке отправки.
func (s *BatchState) Completed() []*domain.TaskResult {
	var completed []*domain.TaskResult
	for _, r := range s.results {
		if r != nil && r.Status == domain.TaskStatusCompleted {
			completed = append(completed, r)
		}
	}
	return completed
}

// FirstFailure возвращает ошибку первого (по порядку отправки)
// task, завершившегося не COMPLETED.
func (s *BatchState) FirstFailure() error {
	for i, r := range s.results {
		if r == nil || r.Status == domain.TaskStatusCompleted {
			continue
		}
		return fmt.Errorf("%w: task %d (%s) %s: %s", ErrTaskFailed, i, s.ids[i], r.Status, r.Error)
	}
	return nil
}

// Stats возвращает статистику группы.
func (s *BatchState) Stats() BatchStats {
	stats := BatchStats{Total: len(s.ids)}
	for _, r := range s.results {
		switch {
		case r == nil || !r.IsFinished():
			stats.Pending++
		case r.Status == domain.TaskStatusCompleted:
			stats.Completed++
		case r.Status == domain.TaskStatusFailed:
			stats.Failed++
		case r.Status == domain.TaskStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// timeoutError описывает незавершённые tasks группы.
func (s *BatchState) timeoutError(timeout time.Duration) error {
	missing := s.Missing()
	return fmt.Errorf("%w: %d of %d tasks not finished after %s", ErrWaitTimeout, len(missing), len(s.ids), timeout)
}
