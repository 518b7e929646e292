package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/orchestrator"
)

// SubmitTask отправляет task по имени handler'а.
// POST /api/v1/tasks
func (h *Handler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	opts, err := req.Options()
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	id, err := h.engine.SubmitTask(r.Context(), req.Handler, req.Args, opts...)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	h.logger.Debug("task submitted via api", "task_id", id, "handler", req.Handler)
	Created(w, SubmitTaskResponse{TaskID: id})
}

// GetResult возвращает результат task.
// GET /api/v1/results/{id}?wait=5s
//
// С параметром wait запрос ждёт завершения task, но не дольше maxWait.
// Если task не успел завершиться, возвращается текущий (PENDING/RUNNING) результат.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var wait time.Duration
	if s := r.URL.Query().Get("wait"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			BadRequest(w, "invalid wait duration")
			return
		}
		wait = min(d, h.maxWait)
	}

	res, err := h.engine.GetResult(r.Context(), id, wait)
	if errors.Is(err, orchestrator.ErrWaitTimeout) {
		res, err = h.engine.GetResult(r.Context(), id, 0)
	}
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, ResultFromDomain(res))
}

// CancelTask отменяет task, который ещё не завершён.
// POST /api/v1/tasks/{id}/cancel
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	cancelled, err := h.engine.Cancel(r.Context(), id)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, CancelResponse{TaskID: id, Cancelled: cancelled})
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return uuid.Nil, false
	}
	return id, true
}
