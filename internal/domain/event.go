package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType — тип события в аудит-логе run.
type EventType string

// Типы событий жизненного цикла run.
const (
	// EventRunLeased — Worker забрал run из очереди.
	EventRunLeased EventType = "run_leased"

	// EventRunStarted — Executor начал выполнение.
	EventRunStarted EventType = "run_started"

	// EventToolCalled — выполнен вызов Tool API.
	EventToolCalled EventType = "tool_called"

	// EventBulkJobQueued — bulk job поставлен в очередь на стороне Tool API.
	EventBulkJobQueued EventType = "bulk_job_queued"

	// EventBulkJobPolled — выполнен опрос статуса bulk job.
	EventBulkJobPolled EventType = "bulk_job_polled"

	// EventRunCompleted — run успешно завершён.
	EventRunCompleted EventType = "run_completed"

	// EventRunFailed — run завершился с ошибкой.
	EventRunFailed EventType = "run_failed"

	// EventRollbackStarted — начато применение компенсирующих действий.
	EventRollbackStarted EventType = "rollback_started"

	// EventRollbackCompleted — применение компенсирующих действий завершено.
	EventRollbackCompleted EventType = "rollback_completed"

	// EventRollbackFailed — сам вызов rollback/apply завершился ошибкой.
	EventRollbackFailed EventType = "rollback_failed"

	// EventRunRecoveredFailed — run принудительно завершён восстановлением.
	EventRunRecoveredFailed EventType = "run_recovered_failed"
)

// RunEvent — запись append-only аудит-лога run.
//
// События никогда не мутируются и не удаляются; порядок чтения —
// по (created_at, id).
type RunEvent struct {
	// ID — порядковый идентификатор записи.
	ID int64 `json:"id"`

	// RunID — ссылка на run.
	RunID uuid.UUID `json:"run_id"`

	// Type — тип события.
	Type EventType `json:"type"`

	// Payload — данные события (зависят от типа).
	Payload map[string]any `json:"payload,omitempty"`

	// CreatedAt — время записи события.
	CreatedAt time.Time `json:"created_at"`
}
