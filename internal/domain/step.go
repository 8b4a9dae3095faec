package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStep — запланированная единица работы внутри run.
//
// Шаги создаются атомарно вместе с run (сейчас всегда ровно один шаг,
// но модель рассчитана на несколько) и мутируются только Executor'ом
// и Reconciler'ом.
//
// Пара (run_id, step_id) уникальна.
type RunStep struct {
	// RunID — ссылка на родительский run.
	RunID uuid.UUID `json:"run_id"`

	// StepID — идентификатор шага из одобренного плана.
	StepID string `json:"step_id"`

	// Status — текущий статус шага.
	Status StepStatus `json:"status"`

	// Плановые и фактические объёмы работы шага.
	PlannedToolCalls int `json:"planned_tool_calls"`
	PlannedPages     int `json:"planned_pages"`
	ActualToolCalls  int `json:"actual_tool_calls"`
	ActualPages      int `json:"actual_pages"`

	// ErrorCode и ErrorMessage заполняются при статусе failed.
	ErrorCode    ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	// StartedAt — время перевода шага в running.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время достижения финального статуса.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания шага.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последней мутации.
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration возвращает продолжительность выполнения шага.
func (s *RunStep) Duration() time.Duration {
	if s.StartedAt == nil || s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(*s.StartedAt)
}
