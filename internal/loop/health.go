package loop

import (
	"context"
	"time"

	"github.com/shaiso/conveyor/internal/domain"
)

// Пороги HealthCheck.
const (
	healthProbeTimeout     = time.Second
	schedulingLatencyLimit = 100 * time.Millisecond
	executorLatencyLimit   = 250 * time.Millisecond
	backlogDegradedRatio   = 0.8
)

// Health — результат проверки Manager.
type Health struct {
	Status            domain.HealthStatus `json:"status"`
	SchedulingLatency time.Duration       `json:"scheduling_latency"`
	ThreadLatency     time.Duration       `json:"thread_latency"`
	ProcessLatency    time.Duration       `json:"process_latency"`
	ActiveUnits       int                 `json:"active_units"`
	MaxActiveUnits    int                 `json:"max_active_units"`
	Problems          []string            `json:"problems,omitempty"`
}

// HealthCheck измеряет:
//   - задержку планирования (запуск единицы работы и сигнал от неё)
//   - отзывчивость обоих executor'ов (no-op задание)
//   - backlog активных единиц относительно MaxActiveUnits
func (m *Manager) HealthCheck(ctx context.Context) Health {
	h := Health{
		Status:         domain.HealthHealthy,
		ActiveUnits:    m.Active(),
		MaxActiveUnits: m.maxActiveUnits,
	}

	if !m.Running() {
		h.Status = domain.HealthUnhealthy
		h.Problems = append(h.Problems, "not running")
		return h
	}

	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	// Scheduling round-trip
	start := time.Now()
	signalled := make(chan struct{})
	if _, err := m.Go("health-probe", func(context.Context) error {
		close(signalled)
		return nil
	}); err != nil {
		h.Status = domain.HealthUnhealthy
		h.Problems = append(h.Problems, "spawn failed: "+err.Error())
		return h
	}

	select {
	case <-signalled:
		h.SchedulingLatency = time.Since(start)
		if h.SchedulingLatency > schedulingLatencyLimit {
			h.Status = domain.Worst(h.Status, domain.HealthDegraded)
			h.Problems = append(h.Problems, "slow scheduling")
		}
	case <-probeCtx.Done():
		h.Status = domain.HealthUnhealthy
		h.Problems = append(h.Problems, "scheduling probe timed out")
		return h
	}

	// Executors
	noop := func(context.Context) (any, error) { return nil, nil }

	var status domain.HealthStatus
	h.ThreadLatency, status = m.probeExecutor(probeCtx, m.RunInThread, noop)
	if status != domain.HealthHealthy {
		h.Status = domain.Worst(h.Status, status)
		h.Problems = append(h.Problems, "thread executor unresponsive")
	}

	h.ProcessLatency, status = m.probeExecutor(probeCtx, m.RunInProcess, noop)
	if status != domain.HealthHealthy {
		h.Status = domain.Worst(h.Status, status)
		h.Problems = append(h.Problems, "process executor unresponsive")
	}

	// Backlog
	ratio := float64(h.ActiveUnits) / float64(h.MaxActiveUnits)
	switch {
	case ratio >= 1:
		h.Status = domain.HealthUnhealthy
		h.Problems = append(h.Problems, "active units at capacity")
	case ratio >= backlogDegradedRatio:
		h.Status = domain.Worst(h.Status, domain.HealthDegraded)
		h.Problems = append(h.Problems, "active units near capacity")
	}

	return h
}

func (m *Manager) probeExecutor(ctx context.Context, run func(context.Context, Job) (any, error), job Job) (time.Duration, domain.HealthStatus) {
	start := time.Now()
	if _, err := run(ctx, job); err != nil {
		return time.Since(start), domain.HealthDegraded
	}

	latency := time.Since(start)
	if latency > executorLatencyLimit {
		return latency, domain.HealthDegraded
	}
	return latency, domain.HealthHealthy
}
