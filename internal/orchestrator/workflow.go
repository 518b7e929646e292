package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/registry"
)

const defaultChunkSize = 100

// Суффиксы имён handler'ов, построенных из функций комбинаторов.
const (
	filterSuffix = "#filter"
	foldSuffix   = "#fold"
)

// registerCall регистрирует handler одного вызова комбинатора под
// уникальным именем base#<uuid>. Замыкания с одной строки исходника
// имеют одинаковое base, поэтому общее имя смешало бы вызовы.
// Вызывающая сторона удаляет handler после runBatch; tasks,
// оставшиеся в очереди после таймаута, получат FAILED unknown_handler.
func (o *Orchestrator) registerCall(base string, fn registry.HandlerFunc) string {
	name := base + "#" + uuid.NewString()
	o.registry.Register(name, fn)
	return name
}

// AggregateFunc сводит результаты COMPLETED tasks в одно значение.
type AggregateFunc func(completed []*domain.TaskResult) (any, error)

// PredicateFunc — предикат FilterAsync.
type PredicateFunc func(ctx context.Context, item any) (bool, error)

// ReduceFunc — функция свёртки ReduceAsync.
type ReduceFunc func(acc, item any) (any, error)

// WorkflowResult — итог ExecuteParallelWorkflow.
type WorkflowResult struct {
	IDs       []uuid.UUID          `json:"ids"`
	Results   []*domain.TaskResult `json:"results"`
	Aggregate any                  `json:"aggregate,omitempty"`
	Stats     BatchStats           `json:"stats"`
}

// ExecuteParallelWorkflow отправляет tasks, ждёт все результаты
// не дольше timeout и (если задан aggregate) сводит успешные.
//
// Если не все tasks завершились, возвращается ErrWaitTimeout
// вместе с частичным WorkflowResult. Упавшие tasks ошибкой
// не считаются: их статус виден в Results.
func (o *Orchestrator) ExecuteParallelWorkflow(ctx context.Context, specs []TaskSpec, aggregate AggregateFunc, timeout time.Duration) (*WorkflowResult, error) {
	state, err := o.runBatch(ctx, specs, timeout)
	if state == nil {
		return nil, err
	}

	res := &WorkflowResult{
		IDs:     state.IDs(),
		Results: state.Results(),
		Stats:   state.Stats(),
	}
	if err != nil {
		return res, err
	}

	if aggregate != nil {
		v, err := aggregate(state.Completed())
		if err != nil {
			return res, fmt.Errorf("aggregate: %w", err)
		}
		res.Aggregate = v
	}

	o.logger.Debug("workflow finished",
		"tasks", res.Stats.Total,
		"completed", res.Stats.Completed,
		"failed", res.Stats.Failed,
	)
	return res, nil
}

// MapAsync выполняет fn для каждого элемента отдельным task
// и возвращает результаты в порядке items.
func (o *Orchestrator) MapAsync(ctx context.Context, fn registry.HandlerFunc, items []any, timeout time.Duration, opts ...Option) ([]any, error) {
	if len(items) == 0 {
		return []any{}, nil
	}

	base := registry.NameOf(fn)
	if base == "" {
		return nil, fmt.Errorf("%w: cannot resolve function name", ErrInvalidTask)
	}
	name := o.registerCall(base, fn)
	defer o.registry.Unregister(name)

	specs := make([]TaskSpec, len(items))
	for i, item := range items {
		specs[i] = TaskSpec{Handler: name, Args: []any{item}, Options: opts}
	}

	state, err := o.runBatch(ctx, specs, timeout)
	if err != nil {
		return nil, err
	}
	if err := state.FirstFailure(); err != nil {
		return nil, err
	}

	out := make([]any, len(items))
	for i, r := range state.Results() {
		out[i] = r.Result
	}
	return out, nil
}

// FilterAsync вычисляет pred для каждого элемента отдельным task
// и возвращает элементы, для которых он истинен, в порядке items.
//
// Task возвращает пару [item, bool]; возвращаются исходные
// элементы, а не их копии после сериализации.
func (o *Orchestrator) FilterAsync(ctx context.Context, pred PredicateFunc, items []any, timeout time.Duration, opts ...Option) ([]any, error) {
	if len(items) == 0 {
		return []any{}, nil
	}

	base := registry.NameOf(pred)
	if base == "" {
		return nil, fmt.Errorf("%w: cannot resolve predicate name", ErrInvalidTask)
	}
	name := o.registerCall(base+filterSuffix, func(ctx context.Context, args []any, _ map[string]any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: filter expects 1 arg, got %d", registry.ErrBadArgument, len(args))
		}
		keep, err := pred(ctx, args[0])
		if err != nil {
			return nil, err
		}
		return []any{args[0], keep}, nil
	})
	defer o.registry.Unregister(name)

	specs := make([]TaskSpec, len(items))
	for i, item := range items {
		specs[i] = TaskSpec{Handler: name, Args: []any{item}, Options: opts}
	}

	state, err := o.runBatch(ctx, specs, timeout)
	if err != nil {
		return nil, err
	}
	if err := state.FirstFailure(); err != nil {
		return nil, err
	}

	var out []any
	for i, r := range state.Results() {
		pair, ok := r.Result.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%w: filter task %d returned %T", ErrTaskFailed, i, r.Result)
		}
		if keep, _ := pair[1].(bool); keep {
			out = append(out, items[i])
		}
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}

// ReduceAsync сворачивает items функцией fn.
//
// Элементы делятся на группы по chunkSize (default: 100); каждая
// группа сворачивается последовательно внутри одного task, начиная
// с её первого элемента. Затем результаты групп последовательно
// сворачиваются локально, начиная с initial.
func (o *Orchestrator) ReduceAsync(ctx context.Context, fn ReduceFunc, items []any, initial any, chunkSize int, timeout time.Duration, opts ...Option) (any, error) {
	if len(items) == 0 {
		return initial, nil
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	base := registry.NameOf(fn)
	if base == "" {
		return nil, fmt.Errorf("%w: cannot resolve reduce function name", ErrInvalidTask)
	}
	name := o.registerCall(base+foldSuffix, func(_ context.Context, args []any, _ map[string]any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: empty chunk", registry.ErrBadArgument)
		}
		return fold(fn, args[0], args[1:])
	})
	defer o.registry.Unregister(name)

	var specs []TaskSpec
	for chunk := range slices.Chunk(items, chunkSize) {
		specs = append(specs, TaskSpec{Handler: name, Args: chunk, Options: opts})
	}

	state, err := o.runBatch(ctx, specs, timeout)
	if err != nil {
		return nil, err
	}
	if err := state.FirstFailure(); err != nil {
		return nil, err
	}

	partials := make([]any, 0, len(specs))
	for _, r := range state.Results() {
		partials = append(partials, r.Result)
	}
	return fold(fn, initial, partials)
}

func fold(fn ReduceFunc, acc any, items []any) (any, error) {
	var err error
	for _, item := range items {
		acc, err = fn(acc, item)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// runBatch отправляет specs и ждёт все результаты не дольше timeout.
func (o *Orchestrator) runBatch(ctx context.Context, specs []TaskSpec, timeout time.Duration) (*BatchState, error) {
	ids, err := o.SubmitBatch(ctx, specs)
	if err != nil {
		return nil, err
	}

	state := NewBatchState(ids)
	got, err := o.store.WaitForResults(ctx, ids, timeout)
	if err != nil {
		return state, err
	}
	state.Record(got)

	if !state.IsComplete() {
		return state, state.timeoutError(timeout)
	}
	return state, nil
}
