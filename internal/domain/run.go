package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Run — экземпляр выполнения одобренного плана.
//
// Run создаётся внешним слоем (HTTP API) после того, как план одобрен
// и проверено отсутствие другого активного run для той же installation.
// Дальше run мутируют только Executor, Worker и Reconciler.
//
// Run никогда не удаляется — терминальные состояния хранятся для аудита.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// InstallationID — installation (подключённый сайт), против которой выполняется run.
	InstallationID string `json:"installation_id"`

	// WPUserID — пользователь WordPress, от имени которого выполняются записи.
	WPUserID int64 `json:"wp_user_id"`

	// PlanID — одобренный план, из которого создан run.
	PlanID uuid.UUID `json:"plan_id"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Плановые объёмы работы, зафиксированные при создании.
	PlannedSteps     int `json:"planned_steps"`
	PlannedToolCalls int `json:"planned_tool_calls"`
	PlannedPages     int `json:"planned_pages"`

	// Фактические объёмы, записанные Executor'ом по ходу выполнения.
	ActualToolCalls int `json:"actual_tool_calls"`
	ActualPages     int `json:"actual_pages"`

	// ErrorCode и ErrorMessage заполняются при любом неуспешном
	// финальном статусе; пустые при успехе.
	ErrorCode    ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	// RollbackAvailable — есть ли у run компенсирующие действия,
	// которые можно применить.
	RollbackAvailable bool `json:"rollback_available"`

	// InputPayload — параметры выполнения (mode, step_id, pages).
	// Хранится как есть; парсится Executor'ом через ParseRunInput.
	InputPayload json.RawMessage `json:"input_payload,omitempty"`

	// StartedAt — время начала выполнения (когда статус стал running).
	// Nil, если run ещё не забирали.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время достижения терминального статуса.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последней мутации.
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveStart возвращает время, с которого считается возраст run:
// StartedAt, если выполнение началось, иначе CreatedAt.
// Используется восстановлением для поиска зависших runs.
func (r *Run) EffectiveStart() time.Time {
	if r.StartedAt != nil {
		return *r.StartedAt
	}
	return r.CreatedAt
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом терминальном статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}
