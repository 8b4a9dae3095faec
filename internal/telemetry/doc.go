// Package telemetry обеспечивает наблюдаемость движка.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики
//
// Процесс использует единый формат логирования и экспортирует
// метрики на /metrics endpoint.
package telemetry
