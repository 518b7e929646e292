package results

import (
	"fmt"
	"maps"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/registry"
)

// Partition делит результаты на успешные и остальные (FAILED/CANCELLED).
// Незавершённые результаты пропускаются.
func Partition(results []*domain.TaskResult) (completed, failed []*domain.TaskResult) {
	for _, r := range results {
		if r == nil {
			continue
		}
		switch r.Status {
		case domain.TaskStatusCompleted:
			completed = append(completed, r)
		case domain.TaskStatusFailed, domain.TaskStatusCancelled:
			failed = append(failed, r)
		}
	}
	return completed, failed
}

// Values возвращает значения успешных результатов.
func Values(results []*domain.TaskResult) []any {
	completed, _ := Partition(results)
	values := make([]any, 0, len(completed))
	for _, r := range completed {
		values = append(values, r.Result)
	}
	return values
}

// Fold последовательно сворачивает значения успешных результатов.
func Fold[T any](results []*domain.TaskResult, initial T, fn func(acc T, value any) (T, error)) (T, error) {
	acc := initial
	for _, v := range Values(results) {
		next, err := fn(acc, v)
		if err != nil {
			return acc, err
		}
		acc = next
	}
	return acc, nil
}

// Sum складывает числовые значения успешных результатов.
func Sum(results []*domain.TaskResult) (float64, error) {
	return Fold(results, 0.0, func(acc float64, v any) (float64, error) {
		f, err := registry.ToFloat(v)
		if err != nil {
			return acc, fmt.Errorf("%w: %v", ErrNotNumeric, err)
		}
		return acc + f, nil
	})
}

// Merge сливает map-значения успешных результатов; более поздние ключи побеждают.
func Merge(results []*domain.TaskResult) (map[string]any, error) {
	return Fold(results, map[string]any{}, func(acc map[string]any, v any) (map[string]any, error) {
		m, ok := v.(map[string]any)
		if !ok {
			return acc, fmt.Errorf("%w: got %T", ErrNotMap, v)
		}
		maps.Copy(acc, m)
		return acc, nil
	})
}
