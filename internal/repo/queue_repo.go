package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/queue"
)

var _ queue.Lists = (*QueueRepo)(nil)

// QueueRepo хранит списки очереди в таблице conveyor_queue.
// Несколько процессов могут забирать элементы параллельно:
// TryPop использует FOR UPDATE SKIP LOCKED.
type QueueRepo struct {
	pool *pgxpool.Pool
}

// NewQueueRepo создаёт QueueRepo. Пул принадлежит вызывающей стороне.
func NewQueueRepo(pool *pgxpool.Pool) *QueueRepo {
	return &QueueRepo{pool: pool}
}

// Push добавляет элемент в конец списка приоритета.
func (r *QueueRepo) Push(ctx context.Context, p domain.Priority, data []byte) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, p)
	}

	const q = `
		INSERT INTO conveyor_queue (priority, payload)
		VALUES ($1, $2)
	`
	if _, err := r.pool.Exec(ctx, q, int(p), data); err != nil {
		return fmt.Errorf("push %s: %w", p, err)
	}
	return nil
}

// TryPop атомарно удаляет и возвращает самый старый элемент приоритета.
func (r *QueueRepo) TryPop(ctx context.Context, p domain.Priority) ([]byte, bool, error) {
	const q = `
		DELETE FROM conveyor_queue
		WHERE seq = (
			SELECT seq FROM conveyor_queue
			WHERE priority = $1
			ORDER BY seq
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING payload
	`

	var data []byte
	err := r.pool.QueryRow(ctx, q, int(p)).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pop %s: %w", p, err)
	}
	return data, true, nil
}

// Len возвращает число элементов приоритета.
func (r *QueueRepo) Len(ctx context.Context, p domain.Priority) (int, error) {
	const q = `SELECT count(*) FROM conveyor_queue WHERE priority = $1`

	var n int64
	if err := r.pool.QueryRow(ctx, q, int(p)).Scan(&n); err != nil {
		return 0, fmt.Errorf("len %s: %w", p, err)
	}
	return int(n), nil
}

// Close ничего не делает: пул закрывает владелец.
func (r *QueueRepo) Close() error {
	return nil
}
