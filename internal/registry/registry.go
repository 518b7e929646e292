// Package registry хранит статическое соответствие "имя → handler".
//
// Task несёт только имя handler'а, поэтому его можно сериализовать
// в backing store и выполнить в любом процессе, где registry
// заполнен тем же набором функций.
package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"sync"
)

// ErrHandlerNotFound — handler с таким именем не зарегистрирован.
var ErrHandlerNotFound = errors.New("handler not found")

// HandlerFunc — функция, выполняющая task.
//
// ctx отменяется по таймауту task и при shutdown; handler обязан
// проверять его в точках ожидания.
type HandlerFunc func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Registry — реестр handler'ов по имени. Потокобезопасен.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// New создаёт пустой реестр.
func New() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register регистрирует handler под именем.
// Если handler с таким именем уже существует, он будет перезаписан.
func (r *Registry) Register(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// RegisterFunc регистрирует handler под его стабильным именем
// (полное имя функции в бинарнике) и возвращает это имя.
func (r *Registry) RegisterFunc(fn HandlerFunc) string {
	name := NameOf(fn)
	r.Register(name, fn)
	return name
}

// Unregister удаляет handler. Отсутствующее имя игнорируется.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, name)
}

// Get возвращает handler по имени.
func (r *Registry) Get(name string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
	}
	return fn, nil
}

// Has проверяет, зарегистрирован ли handler.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Names возвращает отсортированный список имён.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NameOf возвращает имя функции, одинаковое для всех процессов
// с одним и тем же бинарником.
func NameOf(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}
	if f := runtime.FuncForPC(v.Pointer()); f != nil {
		return f.Name()
	}
	return ""
}
