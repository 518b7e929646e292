package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/conveyor/internal/results"
)

var _ results.KV = (*ResultRepo)(nil)

// ResultRepo хранит результаты tasks в таблице conveyor_results.
// Просроченные записи не видны при чтении и удаляются PurgeExpired.
type ResultRepo struct {
	pool *pgxpool.Pool
}

// NewResultRepo создаёт ResultRepo. Пул принадлежит вызывающей стороне.
func NewResultRepo(pool *pgxpool.Pool) *ResultRepo {
	return &ResultRepo{pool: pool}
}

// Upsert вставляет или заменяет результат. ttl <= 0 — без срока.
// Непросроченный финальный результат не заменяется: results.ErrFinal.
func (r *ResultRepo) Upsert(ctx context.Context, id uuid.UUID, data []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().UTC().Add(ttl)
		expiresAt = &t
	}

	const q = `
		INSERT INTO conveyor_results (task_id, payload, expires_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (task_id) DO UPDATE
		SET payload = EXCLUDED.payload,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = now()
		WHERE COALESCE(conveyor_results.payload->>'status', '') NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')
		   OR conveyor_results.expires_at <= now()
	`
	tag, err := r.pool.Exec(ctx, q, id, data, expiresAt)
	if err != nil {
		return fmt.Errorf("upsert result %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", results.ErrFinal, id)
	}
	return nil
}

// Get возвращает непросроченный результат.
func (r *ResultRepo) Get(ctx context.Context, id uuid.UUID) ([]byte, bool, error) {
	const q = `
		SELECT payload FROM conveyor_results
		WHERE task_id = $1
		  AND (expires_at IS NULL OR expires_at > now())
	`

	var data []byte
	err := r.pool.QueryRow(ctx, q, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get result %s: %w", id, err)
	}
	return data, true, nil
}

// GetMany возвращает найденные непросроченные результаты.
func (r *ResultRepo) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]byte, error) {
	out := make(map[uuid.UUID][]byte, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	const q = `
		SELECT task_id::text, payload FROM conveyor_results
		WHERE task_id = ANY($1::uuid[])
		  AND (expires_at IS NULL OR expires_at > now())
	`
	rows, err := r.pool.Query(ctx, q, keys)
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		id, err := uuid.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("parse task id %q: %w", key, err)
		}
		out[id] = data
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// PurgeExpired удаляет просроченные результаты.
func (r *ResultRepo) PurgeExpired(ctx context.Context) (int, error) {
	const q = `
		DELETE FROM conveyor_results
		WHERE expires_at IS NOT NULL AND expires_at <= now()
	`
	tag, err := r.pool.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("purge results: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close ничего не делает: пул закрывает владелец.
func (r *ResultRepo) Close() error {
	return nil
}
