// Conveyor Worker — процесс движка параллельного выполнения tasks.
//
// Процесс:
//   - Загружает конфигурацию (YAML-файл + CONVEYOR_*)
//   - Подключает backing store: memory, PostgreSQL или RabbitMQ
//   - Запускает Orchestrator (очередь, результаты, breaker'ы, пул воркеров)
//   - Отдаёт операционный HTTP API: /healthz, /api/v1/*, /metrics
//   - При publish_events публикует task.completed в RabbitMQ
//
// Останавливается по SIGINT/SIGTERM с grace period.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/conveyor/internal/api"
	"github.com/shaiso/conveyor/internal/config"
	"github.com/shaiso/conveyor/internal/orchestrator"
	"github.com/shaiso/conveyor/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "conveyor-worker",
		Short:         "Conveyor parallel task-execution engine",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config (default: $CONVEYOR_CONFIG_FILE)")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Инициализируем structured logging
	logger := telemetry.Setup(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting conveyor-worker", "version", version, "backend", cfg.Backend)

	backends, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	ocfg := cfg.Orchestrator()
	ocfg.Queue.Lists = backends.lists
	ocfg.Results.KV = backends.kv
	ocfg.Publisher = backends.publisher
	ocfg.Logger = logger

	engine, err := orchestrator.New(ocfg)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	handler := api.NewHandler(api.Config{
		Engine: engine,
		Logger: logger,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Ожидаем сигнал завершения или падение HTTP сервера
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		logger.Error("http server error", "error", err)
		runErr = fmt.Errorf("http server: %w", err)
	}

	// API закрываем первым: новые tasks больше не принимаются
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.GracePeriod+5*time.Second)
	defer stopCancel()
	if err := engine.Close(stopCtx); err != nil {
		logger.Warn("orchestrator stopped with errors", "error", err)
	}

	logger.Info("conveyor-worker stopped")
	return runErr
}
