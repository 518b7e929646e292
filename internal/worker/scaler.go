package worker

import (
	"context"
	"math"
	"time"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/telemetry"
)

// scaleLoop периодически пересчитывает нагрузку и масштабирует пул.
func (p *Pool) scaleLoop(ctx context.Context, stopCh <-chan struct{}) error {
	ticker := time.NewTicker(p.scaleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stopCh:
			return nil
		case <-ticker.C:
			p.scale(ctx)
		}
	}
}

// scale выполняет одно решение о масштабировании.
func (p *Pool) scale(ctx context.Context) {
	depths, err := p.queue.SizeByPriority(ctx)
	if err != nil {
		telemetry.QueueAvailable.Set(0)
		p.logger.Debug("scaler: queue size unavailable", "error", err)
		return
	}

	depth := 0
	for _, pr := range domain.Priorities() {
		depth += depths[pr]
		telemetry.QueueDepth.WithLabelValues(pr.String()).Set(float64(depths[pr]))
	}
	telemetry.QueueAvailable.Set(1)

	p.mu.Lock()
	count := len(p.workers)
	load := currentLoad(depth, count)
	p.load = load
	cooling := !p.lastScaling.IsZero() && time.Since(p.lastScaling) < p.scaleCooldown
	p.mu.Unlock()

	telemetry.WorkerLoad.Set(load)

	if cooling {
		return
	}

	switch {
	case load > p.scaleUpThreshold && count < p.maxWorkers:
		p.scaleUp(depth, count, load)
	case load < p.scaleDownThreshold && count > p.minWorkers:
		p.scaleDown(count, load)
	}
}

// scaleUp добавляет столько воркеров, чтобы нагрузка опустилась
// до ScaleUpThreshold, но не больше MaxWorkers.
func (p *Pool) scaleUp(depth, count int, load float64) {
	target := int(math.Ceil(float64(depth) / p.scaleUpThreshold))
	target = min(max(target, count+1), p.maxWorkers)
	add := target - count

	added := 0
	for i := 0; i < add; i++ {
		if !p.IsRunning() {
			break
		}
		if err := p.spawnWorker(); err != nil {
			p.logger.Warn("scaler: failed to spawn worker", "error", err)
			break
		}
		added++
	}
	if added == 0 {
		return
	}

	p.markScaling("up")
	p.logger.Info("scaled up",
		"added", added,
		"workers", count+added,
		"load", load,
	)
}

// scaleDown выводит одного воркера, предпочитая свободного.
// Занятый воркер сначала доделывает текущий task.
func (p *Pool) scaleDown(count int, load float64) {
	p.mu.Lock()
	var victim *workerState
	for _, w := range p.workers {
		if !w.busy.Load() {
			victim = w
			break
		}
		if victim == nil {
			victim = w
		}
	}
	if victim != nil {
		// Удаляем сразу, чтобы count не учитывал выводимого воркера
		delete(p.workers, victim.id)
	}
	remaining := len(p.workers)
	p.mu.Unlock()

	if victim == nil {
		return
	}
	victim.retire()

	telemetry.Workers.Set(float64(remaining))
	p.markScaling("down")
	p.logger.Info("scaled down",
		"retired", victim.id,
		"workers", remaining,
		"load", load,
	)
}

func (p *Pool) markScaling(direction string) {
	p.mu.Lock()
	p.lastScaling = time.Now()
	p.mu.Unlock()

	p.scalingEvents.Add(1)
	telemetry.ScalingEvents.WithLabelValues(direction).Inc()
}

// currentLoad — глубина очереди на одного воркера.
func currentLoad(depth, workers int) float64 {
	if workers <= 0 {
		return float64(depth)
	}
	return float64(depth) / float64(workers)
}
