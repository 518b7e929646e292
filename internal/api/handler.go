package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/orchestrator"
)

// Engine — то, что API требует от движка. *orchestrator.Orchestrator
// реализует этот интерфейс.
type Engine interface {
	SubmitTask(ctx context.Context, handler string, args []any, opts ...orchestrator.Option) (uuid.UUID, error)
	GetResult(ctx context.Context, id uuid.UUID, timeout time.Duration) (*domain.TaskResult, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	Stats(ctx context.Context) orchestrator.Stats
	HealthCheck(ctx context.Context) orchestrator.Health
}

var _ Engine = (*orchestrator.Orchestrator)(nil)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	engine  Engine
	maxWait time.Duration
	logger  *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Engine Engine

	// MaxWait ограничивает параметр ?wait= (по умолчанию 60s).
	MaxWait time.Duration

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		engine:  cfg.Engine,
		maxWait: cfg.MaxWait,
		logger:  cfg.Logger,
	}
}
