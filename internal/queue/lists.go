package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/shaiso/conveyor/internal/domain"
)

// Lists — контракт backing store для очереди: по одному списку на приоритет.
//
// Store не содержит бизнес-логики: только атомарные push/pop/len.
type Lists interface {
	// Push добавляет элемент в конец списка приоритета p.
	Push(ctx context.Context, p domain.Priority, data []byte) error

	// TryPop забирает элемент из начала списка без ожидания.
	// ok=false — список пуст.
	TryPop(ctx context.Context, p domain.Priority) (data []byte, ok bool, err error)

	// Len возвращает длину списка.
	Len(ctx context.Context, p domain.Priority) (int, error)

	// Close освобождает ресурсы.
	Close() error
}

// Notifier — опциональный интерфейс backend'а, умеющего будить
// ожидающих получателей при появлении нового элемента.
type Notifier interface {
	// Notify возвращает канал, который закроется при следующем Push.
	Notify() <-chan struct{}
}

// MemoryLists — in-process реализация Lists.
type MemoryLists struct {
	mu     sync.Mutex
	lists  [domain.PriorityLevels][][]byte
	wake   chan struct{}
	closed bool
}

// NewMemoryLists создаёт пустые списки.
func NewMemoryLists() *MemoryLists {
	return &MemoryLists{wake: make(chan struct{})}
}

// Push добавляет элемент и будит ожидающих.
func (m *MemoryLists) Push(_ context.Context, p domain.Priority, data []byte) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("%w: lists closed", ErrStore)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	m.lists[p] = append(m.lists[p], buf)

	close(m.wake)
	m.wake = make(chan struct{})
	return nil
}

// TryPop забирает первый элемент списка.
func (m *MemoryLists) TryPop(_ context.Context, p domain.Priority) ([]byte, bool, error) {
	if !p.Valid() {
		return nil, false, fmt.Errorf("%w: %d", ErrInvalidPriority, p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, false, fmt.Errorf("%w: lists closed", ErrStore)
	}

	list := m.lists[p]
	if len(list) == 0 {
		return nil, false, nil
	}

	data := list[0]
	list[0] = nil
	m.lists[p] = list[1:]
	return data, true, nil
}

// Len возвращает длину списка.
func (m *MemoryLists) Len(_ context.Context, p domain.Priority) (int, error) {
	if !p.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPriority, p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lists[p]), nil
}

// Notify возвращает канал пробуждения.
func (m *MemoryLists) Notify() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wake
}

// Close закрывает списки; дальнейшие операции возвращают ошибку.
func (m *MemoryLists) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
