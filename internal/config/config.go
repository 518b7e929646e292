package config

import (
	"time"

	"github.com/shaiso/conveyor/internal/breaker"
	"github.com/shaiso/conveyor/internal/loop"
	"github.com/shaiso/conveyor/internal/orchestrator"
	"github.com/shaiso/conveyor/internal/queue"
	"github.com/shaiso/conveyor/internal/results"
	"github.com/shaiso/conveyor/internal/worker"
)

// Backend'ы очереди и хранилища результатов.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRabbitMQ = "rabbitmq"
)

// Config — конфигурация процесса движка.
type Config struct {
	// Worker pool
	MinWorkers         int           `mapstructure:"min_workers" validate:"gte=1"`
	MaxWorkers         int           `mapstructure:"max_workers" validate:"gtefield=MinWorkers"`
	ScaleUpThreshold   float64       `mapstructure:"scale_up_threshold" validate:"gt=0,gtfield=ScaleDownThreshold"`
	ScaleDownThreshold float64       `mapstructure:"scale_down_threshold" validate:"gt=0"`
	ScaleInterval      time.Duration `mapstructure:"scale_interval" validate:"gt=0"`
	ScaleCooldown      time.Duration `mapstructure:"scale_cooldown" validate:"gte=0"`
	TaskTimeout        time.Duration `mapstructure:"task_timeout" validate:"gt=0"`
	DequeueTimeout     time.Duration `mapstructure:"dequeue_timeout" validate:"gt=0"`
	MaxRetries         int           `mapstructure:"max_retries" validate:"gte=0"`
	PriorityLevels     int           `mapstructure:"priority_levels" validate:"eq=5"`

	// Circuit breakers
	FailureThreshold int           `mapstructure:"failure_threshold" validate:"gte=1"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout" validate:"gt=0"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls" validate:"gte=1"`
	BreakerMaxOpen   time.Duration `mapstructure:"breaker_max_open" validate:"gt=0"`

	// Results
	ResultTTL       time.Duration `mapstructure:"result_ttl" validate:"gt=0"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval" validate:"gt=0"`

	// Event loop
	ThreadPoolSize         int           `mapstructure:"thread_pool_size" validate:"gte=1"`
	ProcessPoolSize        int           `mapstructure:"process_pool_size" validate:"gte=1"`
	UseHighPerformanceLoop bool          `mapstructure:"use_high_performance_loop"`
	GracePeriod            time.Duration `mapstructure:"grace_period" validate:"gt=0"`

	// Backing store
	Backend     string `mapstructure:"backend" validate:"oneof=memory postgres rabbitmq"`
	DatabaseURL string `mapstructure:"database_url" validate:"required_if=Backend postgres"`
	RabbitMQURL string `mapstructure:"rabbitmq_url" validate:"required_if=Backend rabbitmq"`

	// Events — публиковать task.completed в RabbitMQ.
	PublishEvents bool `mapstructure:"publish_events"`

	// Operational surface
	HTTPAddr  string `mapstructure:"http_addr" validate:"required"`
	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json text"`
}

// Orchestrator переводит конфигурацию в orchestrator.Config.
// Backend'ы (Lists, KV), Publisher и Logger заполняет вызывающая сторона.
func (c *Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		Queue: queue.Config{},
		Results: results.Config{
			TTL: c.ResultTTL,
		},
		Breaker: breaker.ManagerConfig{
			Default: breaker.Config{
				FailureThreshold: c.FailureThreshold,
				RecoveryTimeout:  c.RecoveryTimeout,
				HalfOpenMaxCalls: c.HalfOpenMaxCalls,
			},
			MaxOpenDuration: c.BreakerMaxOpen,
		},
		Loop: loop.Config{
			GracePeriod:        c.GracePeriod,
			ThreadPoolSize:     c.ThreadPoolSize,
			ProcessPoolSize:    c.ProcessPoolSize,
			UseHighPerformance: c.UseHighPerformanceLoop,
		},
		Worker: worker.Config{
			MinWorkers:         c.MinWorkers,
			MaxWorkers:         c.MaxWorkers,
			ScaleUpThreshold:   c.ScaleUpThreshold,
			ScaleDownThreshold: c.ScaleDownThreshold,
			ScaleInterval:      c.ScaleInterval,
			ScaleCooldown:      c.ScaleCooldown,
			TaskTimeout:        c.TaskTimeout,
			DequeueTimeout:     c.DequeueTimeout,
		},
		DefaultMaxRetries: c.MaxRetries,
		JanitorInterval:   c.JanitorInterval,
	}
}
