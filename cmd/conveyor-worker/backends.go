package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/conveyor/internal/config"
	"github.com/shaiso/conveyor/internal/mq"
	"github.com/shaiso/conveyor/internal/queue"
	"github.com/shaiso/conveyor/internal/repo"
	"github.com/shaiso/conveyor/internal/results"
	"github.com/shaiso/conveyor/internal/worker"
)

// backends — внешние ресурсы процесса: backing store и брокер событий.
type backends struct {
	lists     queue.Lists
	kv        results.KV
	publisher worker.Publisher

	pool   *pgxpool.Pool
	mqConn *mq.Connection
}

// openBackends подключает backing store по cfg.Backend:
//
//	memory   — очередь и результаты в памяти процесса
//	postgres — conveyor_queue и conveyor_results
//	rabbitmq — очередь в RabbitMQ; результаты в PostgreSQL,
//	           если задан database_url, иначе в памяти
//
// При publish_events события task.completed уходят в RabbitMQ.
func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	needPostgres := cfg.Backend == config.BackendPostgres ||
		(cfg.Backend == config.BackendRabbitMQ && cfg.DatabaseURL != "")
	needRabbit := cfg.Backend == config.BackendRabbitMQ || cfg.PublishEvents

	if needPostgres {
		pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		b.pool = pool
		logger.Info("database connected")

		if err := repo.EnsureSchema(ctx, pool); err != nil {
			return nil, err
		}
	}

	if needRabbit {
		conn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		b.mqConn = conn
		logger.Info("RabbitMQ connected")

		// Создаём топологию
		if err := mq.SetupTopology(ctx, conn); err != nil {
			return nil, fmt.Errorf("setup topology: %w", err)
		}
	}

	switch cfg.Backend {
	case config.BackendPostgres:
		b.lists = repo.NewQueueRepo(b.pool)
	case config.BackendRabbitMQ:
		b.lists = mq.NewQueueBackend(b.mqConn)
	default:
		b.lists = queue.NewMemoryLists()
	}

	if b.pool != nil {
		b.kv = repo.NewResultRepo(b.pool)
	} else {
		b.kv = results.NewMemoryKV()
	}

	if cfg.PublishEvents {
		b.publisher = mq.NewPublisher(b.mqConn, logger)
	}

	return b, nil
}

// Close закрывает соединения. Вызывается после остановки orchestrator'а.
func (b *backends) Close() error {
	var errs []error
	if b.mqConn != nil {
		if err := b.mqConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rabbitmq: %w", err))
		}
	}
	if b.pool != nil {
		b.pool.Close()
	}
	return errors.Join(errs...)
}
