package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	queued → running → completed
//	                 ↘ failed
//
// Независимо от основного цикла, rollback переводит run:
//
//	running|completed|failed → rolling_back → rolled_back
//	                                        ↘ rollback_failed
//
// Все переходы односторонние — возврата из терминального статуса нет.
type RunStatus string

const (
	// RunStatusQueued — run создан и ожидает, пока Worker его заберёт.
	RunStatusQueued RunStatus = "queued"

	// RunStatusRunning — run выполняется Executor'ом.
	RunStatusRunning RunStatus = "running"

	// RunStatusCompleted — run успешно завершён.
	RunStatusCompleted RunStatus = "completed"

	// RunStatusFailed — run завершился с ошибкой.
	RunStatusFailed RunStatus = "failed"

	// RunStatusRollingBack — выполняются компенсирующие действия.
	RunStatusRollingBack RunStatus = "rolling_back"

	// RunStatusRolledBack — все компенсирующие действия применены.
	RunStatusRolledBack RunStatus = "rolled_back"

	// RunStatusRollbackFailed — хотя бы одно компенсирующее действие не применилось.
	RunStatusRollbackFailed RunStatus = "rollback_failed"
)

// IsActive возвращает true, если run занимает слот активного run для installation.
// Инвариант системы: не более одного активного run на installation.
func (s RunStatus) IsActive() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusRollingBack:
		return true
	default:
		return false
	}
}

// IsTerminal возвращает true, если статус финальный.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusRolledBack, RunStatusRollbackFailed:
		return true
	default:
		return false
	}
}

// StepStatus — статус выполнения отдельного шага run.
//
// Жизненный цикл:
//
//	queued → running → completed
//	                 ↘ failed
type StepStatus string

const (
	// StepStatusQueued — шаг создан вместе с run и ждёт выполнения.
	StepStatusQueued StepStatus = "queued"

	// StepStatusRunning — шаг выполняется.
	StepStatusRunning StepStatus = "running"

	// StepStatusCompleted — шаг успешно завершён.
	StepStatusCompleted StepStatus = "completed"

	// StepStatusFailed — шаг завершился с ошибкой.
	StepStatusFailed StepStatus = "failed"
)

// IsActive возвращает true, если шаг ещё не достиг финального статуса.
func (s StepStatus) IsActive() bool {
	return s == StepStatusQueued || s == StepStatusRunning
}

// RollbackStatus — статус компенсирующего действия.
//
// Жизненный цикл:
//
//	pending → applied
//	        ↘ failed
type RollbackStatus string

const (
	// RollbackStatusPending — действие записано, но ещё не применялось.
	RollbackStatusPending RollbackStatus = "pending"

	// RollbackStatusApplied — действие успешно применено.
	RollbackStatusApplied RollbackStatus = "applied"

	// RollbackStatusFailed — применить действие не удалось.
	RollbackStatusFailed RollbackStatus = "failed"
)
