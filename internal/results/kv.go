package results

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
)

// KV — контракт backing store для результатов: upsert с TTL по ключу.
type KV interface {
	// Upsert сохраняет значение; ttl <= 0 — без срока.
	// Если текущее непросроченное значение имеет финальный статус
	// (поле "status"), запись отклоняется с ErrFinal. Проверка и запись
	// атомарны относительно других Upsert.
	Upsert(ctx context.Context, id uuid.UUID, data []byte, ttl time.Duration) error

	// Get возвращает значение; ok=false, если ключа нет или срок истёк.
	Get(ctx context.Context, id uuid.UUID) (data []byte, ok bool, err error)

	// GetMany возвращает найденные значения (отсутствующие ключи пропускаются).
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]byte, error)

	// PurgeExpired физически удаляет просроченные записи.
	PurgeExpired(ctx context.Context) (int, error)

	// Close освобождает ресурсы.
	Close() error
}

type memoryEntry struct {
	data      []byte
	final     bool
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryKV — in-process реализация KV.
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]memoryEntry
	closed  bool
}

// NewMemoryKV создаёт пустое хранилище.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[uuid.UUID]memoryEntry)}
}

// Upsert сохраняет значение.
func (m *MemoryKV) Upsert(_ context.Context, id uuid.UUID, data []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("%w: kv closed", ErrStore)
	}

	if prev, ok := m.entries[id]; ok && prev.final && !prev.expired(time.Now()) {
		return fmt.Errorf("%w: %s", ErrFinal, id)
	}

	entry := memoryEntry{data: append([]byte(nil), data...), final: finalPayload(data)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.entries[id] = entry
	return nil
}

// finalPayload сообщает, содержит ли payload финальный статус.
func finalPayload(data []byte) bool {
	var head struct {
		Status domain.TaskStatus `json:"status"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return false
	}
	return head.Status.IsTerminal()
}

// Get возвращает значение, если оно не просрочено.
func (m *MemoryKV) Get(_ context.Context, id uuid.UUID) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false, fmt.Errorf("%w: kv closed", ErrStore)
	}

	entry, ok := m.entries[id]
	if !ok || entry.expired(time.Now()) {
		return nil, false, nil
	}
	return entry.data, true, nil
}

// GetMany возвращает все непросроченные значения из списка.
func (m *MemoryKV) GetMany(_ context.Context, ids []uuid.UUID) (map[uuid.UUID][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("%w: kv closed", ErrStore)
	}

	now := time.Now()
	out := make(map[uuid.UUID][]byte, len(ids))
	for _, id := range ids {
		if entry, ok := m.entries[id]; ok && !entry.expired(now) {
			out[id] = entry.data
		}
	}
	return out, nil
}

// PurgeExpired удаляет просроченные записи.
func (m *MemoryKV) PurgeExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	purged := 0
	for id, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, id)
			purged++
		}
	}
	return purged, nil
}

// Len возвращает количество записей, включая просроченные.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close закрывает хранилище.
func (m *MemoryKV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
