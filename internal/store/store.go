package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Pressline/internal/domain"
)

// Store — контракт хранилища runs, steps, events и rollback handles.
//
// Две реализации: MemoryStore (тесты) и PostgresStore (production).
// Все операции атомарны в пределах одной записи, если не указано иное.
//
// Семантика частичных обновлений: в Set*-операциях nil-поле означает
// «не трогать», а не «обнулить». Так «поле не передано» отличимо
// от «поле установлено в null».
type Store interface {
	// CreateRun атомарно создаёт run в статусе queued вместе с его шагами.
	// Возвращает ErrAlreadyExists, если run с таким ID уже есть,
	// и ErrActiveRunExists, если для installation уже есть активный run.
	CreateRun(ctx context.Context, spec RunSpec) (*domain.Run, error)

	// GetRun возвращает run по ID.
	GetRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error)

	// GetRunDetails возвращает run вместе с шагами, событиями
	// (в порядке created_at, id) и rollback handles.
	GetRunDetails(ctx context.Context, runID uuid.UUID) (*RunDetails, error)

	// ListRuns возвращает runs для installation, новые первыми.
	ListRuns(ctx context.Context, installationID string, limit int) ([]domain.Run, error)

	// ActiveRunForInstallation возвращает самый свежий run installation
	// в статусе queued/running/rolling_back, либо ErrNotFound.
	ActiveRunForInstallation(ctx context.Context, installationID string) (*domain.Run, error)

	// ClaimNextQueuedRun атомарно забирает самый старый queued run:
	// переводит его в running, проставляет started_at (если ещё не
	// установлен) и возвращает. Возвращает ErrNotFound, если очередь пуста.
	//
	// Гарантия: два конкурентных вызова никогда не получат один и тот же run.
	ClaimNextQueuedRun(ctx context.Context) (*domain.Run, error)

	// SetRunStatus обновляет статус run; непереданные поля не меняются.
	SetRunStatus(ctx context.Context, runID uuid.UUID, upd RunStatusUpdate) error

	// SetRunCounts перезаписывает фактические объёмы работы run.
	SetRunCounts(ctx context.Context, runID uuid.UUID, toolCalls, pages int) error

	// SetRunRollbackAvailable выставляет флаг доступности rollback.
	SetRunRollbackAvailable(ctx context.Context, runID uuid.UUID, available bool) error

	// SetRunStepStatus обновляет один шаг; семантика как у SetRunStatus.
	SetRunStepStatus(ctx context.Context, runID uuid.UUID, stepID string, upd StepStatusUpdate) error

	// FailActiveSteps переводит все queued/running шаги run в failed
	// с указанными кодом, сообщением и временем завершения.
	// Используется восстановлением после сбоя.
	FailActiveSteps(ctx context.Context, runID uuid.UUID, code domain.ErrorCode, message string, finishedAt time.Time) error

	// AppendRunEvent добавляет запись в аудит-лог run.
	// Всегда вставляет новую запись; дубликатов не существует по построению.
	AppendRunEvent(ctx context.Context, runID uuid.UUID, eventType domain.EventType, payload map[string]any) error

	// AddRunRollbacks записывает компенсирующие действия в статусе pending.
	// Идемпотентна по (run_id, handle_id): повторная вставка — no-op.
	AddRunRollbacks(ctx context.Context, runID uuid.UUID, handles []domain.RollbackHandle) error

	// SetRunRollbackStatus обновляет одно действие по (run_id, handle_id).
	SetRunRollbackStatus(ctx context.Context, runID uuid.UUID, handleID string, upd RollbackStatusUpdate) error

	// ListPendingRollbacks возвращает pending-действия run в порядке записи.
	ListPendingRollbacks(ctx context.Context, runID uuid.UUID) ([]domain.RollbackHandle, error)

	// ListStaleActiveRuns возвращает активные runs, у которых
	// coalesce(started_at, created_at) < cutoff, старые первыми.
	ListStaleActiveRuns(ctx context.Context, cutoff time.Time, limit int) ([]domain.Run, error)
}

// RunSpec — параметры создания run.
type RunSpec struct {
	RunID            uuid.UUID
	InstallationID   string
	WPUserID         int64
	PlanID           uuid.UUID
	PlannedSteps     int
	PlannedToolCalls int
	PlannedPages     int
	InputPayload     json.RawMessage
	Steps            []StepSpec
}

// StepSpec — параметры создания одного шага run.
type StepSpec struct {
	StepID           string
	PlannedToolCalls int
	PlannedPages     int
}

// RunDetails — run со всеми связанными записями.
type RunDetails struct {
	Run       domain.Run              `json:"run"`
	Steps     []domain.RunStep        `json:"steps"`
	Events    []domain.RunEvent       `json:"events"`
	Rollbacks []domain.RollbackHandle `json:"rollbacks"`
}

// RunStatusUpdate — частичное обновление run. Nil-поля не меняются.
type RunStatusUpdate struct {
	Status       domain.RunStatus
	ErrorCode    *domain.ErrorCode
	ErrorMessage *string
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// StepStatusUpdate — частичное обновление шага. Nil-поля не меняются.
type StepStatusUpdate struct {
	Status          domain.StepStatus
	ErrorCode       *domain.ErrorCode
	ErrorMessage    *string
	StartedAt       *time.Time
	FinishedAt      *time.Time
	ActualToolCalls *int
	ActualPages     *int
}

// RollbackStatusUpdate — частичное обновление rollback handle.
type RollbackStatusUpdate struct {
	Status    domain.RollbackStatus
	Error     *string
	AppliedAt *time.Time
}
