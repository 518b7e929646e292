// Package api содержит операционный HTTP API движка.
//
// Структура:
//   - handler.go       — Handler и интерфейс Engine
//   - routes.go        — chi router и маршруты
//   - middleware.go    — middleware (request id, logging, recovery)
//   - response.go      — унифицированные JSON-ответы и обработка ошибок
//   - dto.go           — Data Transfer Objects (request/response)
//   - task_handler.go  — отправка, результат и отмена tasks
//   - system_handler.go — health, stats
//
// Endpoints:
//
//	GET  /healthz                    liveness
//	GET  /api/v1/health              агрегированный HealthCheck
//	GET  /api/v1/stats               Stats
//	POST /api/v1/tasks               отправка task по имени handler'а
//	GET  /api/v1/results/{id}?wait=  результат task (с ожиданием)
//	POST /api/v1/tasks/{id}/cancel   отмена task
//	GET  /metrics                    Prometheus
package api
