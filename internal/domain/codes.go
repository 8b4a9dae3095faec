package domain

// ErrorCode — машиночитаемый код ошибки run.
//
// Код вместе с ErrorMessage сохраняется в run/step при любом
// неуспешном финальном статусе и отдаётся наружу HTTP-слоем как есть.
type ErrorCode string

const (
	// CodeInvalidInput — input_payload не прошёл валидацию.
	CodeInvalidInput ErrorCode = "RUN_INVALID_INPUT"

	// CodeExecutionFailed — ошибка вызова Tool API или неожиданная ошибка выполнения.
	CodeExecutionFailed ErrorCode = "RUN_EXECUTION_FAILED"

	// CodeExecutionTimeout — исчерпан лимит попыток опроса bulk job.
	CodeExecutionTimeout ErrorCode = "RUN_EXECUTION_TIMEOUT"

	// CodeExecutionAborted — run принудительно завершён восстановлением после сбоя.
	CodeExecutionAborted ErrorCode = "RUN_EXECUTION_ABORTED"

	// CodeRollbackFailed — сам вызов rollback/apply завершился ошибкой.
	CodeRollbackFailed ErrorCode = "RUN_ROLLBACK_FAILED"
)
