// Package telemetry обеспечивает наблюдаемость движка.
//
// Включает:
//   - logging.go — structured logging через slog, логгер в context
//   - metrics.go — Prometheus метрики conveyor_*
//
// Метрики экспортируются на /metrics операционного API.
package telemetry
