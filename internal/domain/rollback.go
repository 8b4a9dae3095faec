package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RollbackHandle — одно компенсирующее действие, обнаруженное во время
// выполнения run (например, «удалить созданную страницу»).
//
// Handles создаёт Executor как побочный эффект записей в Tool API
// и мутирует их же при применении rollback.
//
// Пара (run_id, handle_id) уникальна — повторная вставка того же
// handle_id является no-op, что делает запись идемпотентной.
type RollbackHandle struct {
	// ID — порядковый идентификатор записи.
	ID int64 `json:"id"`

	// RunID — ссылка на run.
	RunID uuid.UUID `json:"run_id"`

	// HandleID — идентификатор действия, выданный Tool API.
	HandleID string `json:"handle_id"`

	// Kind — вид компенсирующего действия (например, delete_post).
	Kind string `json:"kind"`

	// Status — текущий статус действия.
	Status RollbackStatus `json:"status"`

	// Payload — данные, необходимые Tool API для применения действия.
	// Хранится как есть, движок внутрь не заглядывает.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Error — текст ошибки, если применить действие не удалось.
	Error string `json:"error,omitempty"`

	// AppliedAt — время успешного применения.
	AppliedAt *time.Time `json:"applied_at,omitempty"`

	// CreatedAt — время записи действия.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последней мутации.
	UpdatedAt time.Time `json:"updated_at"`
}
