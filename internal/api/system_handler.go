package api

import (
	"net/http"

	"github.com/shaiso/conveyor/internal/domain"
)

// Liveness — процесс жив и отвечает.
// GET /healthz
func (h *Handler) Liveness(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Health возвращает агрегированное состояние движка.
// GET /api/v1/health
//
// Состояние unhealthy отдаётся с кодом 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.engine.HealthCheck(r.Context())

	status := http.StatusOK
	if health.Status == domain.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	JSON(w, status, DataResponse{Data: HealthFromOrchestrator(health)})
}

// Stats возвращает статистику движка.
// GET /api/v1/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	Success(w, h.engine.Stats(r.Context()))
}
