package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики регистрируются в prometheus.DefaultRegisterer
// и отдаются через promhttp.Handler() на /metrics.
var (
	// Queue

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conveyor_queue_depth",
		Help: "Number of tasks waiting in the queue by priority",
	}, []string{"priority"})

	QueueAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conveyor_queue_available",
		Help: "1 if the queue backing store is reachable, 0 otherwise",
	})

	// Worker pool

	Workers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conveyor_workers",
		Help: "Current number of worker loops",
	})

	WorkerLoad = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conveyor_worker_load",
		Help: "Queue depth divided by worker count",
	})

	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_tasks_total",
		Help: "Tasks finished by terminal status",
	}, []string{"status"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conveyor_task_duration_seconds",
		Help:    "Task execution time including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	ScalingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_scaling_events_total",
		Help: "Worker pool scaling events by direction",
	}, []string{"direction"})

	// Circuit breakers

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conveyor_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
	}, []string{"name"})

	BreakerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_breaker_calls_total",
		Help: "Calls through circuit breakers by outcome",
	}, []string{"name", "outcome"})

	// Event loop

	LoopActiveUnits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conveyor_loop_active_units",
		Help: "Units of work tracked by the loop manager",
	})

	LoopErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_loop_errors_total",
		Help: "Units of work that returned an error or panicked",
	}, []string{"kind"})

	// HTTP

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_http_requests_total",
		Help: "HTTP requests handled by the ops API",
	}, []string{"route", "code"})
)
