package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema создаёт таблицы очереди и результатов. Идемпотентна.
const schema = `
CREATE TABLE IF NOT EXISTS conveyor_queue (
	seq         BIGSERIAL PRIMARY KEY,
	priority    SMALLINT NOT NULL,
	payload     JSONB NOT NULL,
	enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS conveyor_queue_priority_seq_idx
	ON conveyor_queue (priority, seq);

CREATE TABLE IF NOT EXISTS conveyor_results (
	task_id    UUID PRIMARY KEY,
	payload    JSONB NOT NULL,
	expires_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS conveyor_results_expires_at_idx
	ON conveyor_results (expires_at)
	WHERE expires_at IS NOT NULL;
`

// EnsureSchema создаёт таблицы, если их нет.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}
