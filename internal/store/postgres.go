package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Pressline/internal/domain"
)

// PostgresStore — реализация Store поверх PostgreSQL.
//
// Взаимное исключение при заборе runs обеспечивается
// FOR UPDATE SKIP LOCKED; уникальность (run_id, step_id) и
// (run_id, handle_id) — ограничениями схемы.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт PostgresStore поверх пула соединений.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// runColumns — список колонок runs для SELECT/RETURNING.
const runColumns = `id, installation_id, wp_user_id, plan_id, status,
	planned_steps, planned_tool_calls, planned_pages,
	actual_tool_calls, actual_pages,
	error_code, error_message, rollback_available, input_payload,
	started_at, finished_at, created_at, updated_at`

// stepColumns — список колонок run_steps.
const stepColumns = `run_id, step_id, status,
	planned_tool_calls, planned_pages, actual_tool_calls, actual_pages,
	error_code, error_message, started_at, finished_at, created_at, updated_at`

// CreateRun атомарно создаёт run вместе с шагами (одна транзакция).
func (s *PostgresStore) CreateRun(ctx context.Context, spec RunSpec) (*domain.Run, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO runs (id, installation_id, wp_user_id, plan_id, status,
		                  planned_steps, planned_tool_calls, planned_pages, input_payload)
		VALUES ($1, $2, $3, $4, 'queued', $5, $6, $7, $8)
		RETURNING `+runColumns,
		spec.RunID,
		spec.InstallationID,
		spec.WPUserID,
		spec.PlanID,
		spec.PlannedSteps,
		spec.PlannedToolCalls,
		spec.PlannedPages,
		rawOrNull(spec.InputPayload),
	)

	run, err := scanRun(row)
	if err != nil {
		return nil, insertRunError(err)
	}

	for _, st := range spec.Steps {
		_, err := tx.Exec(ctx, `
			INSERT INTO run_steps (run_id, step_id, status, planned_tool_calls, planned_pages)
			VALUES ($1, $2, 'queued', $3, $4)
		`, spec.RunID, st.StepID, st.PlannedToolCalls, st.PlannedPages)
		if err != nil {
			return nil, fmt.Errorf("insert run step %s: %w", st.StepID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return run, nil
}

// GetRun возвращает run по ID.
func (s *PostgresStore) GetRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetRunDetails возвращает run вместе с шагами, событиями и rollback handles.
func (s *PostgresStore) GetRunDetails(ctx context.Context, runID uuid.UUID) (*RunDetails, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	details := &RunDetails{Run: *run}

	rows, err := s.pool.Query(ctx, `
		SELECT `+stepColumns+` FROM run_steps WHERE run_id = $1 ORDER BY created_at ASC, step_id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		details.Steps = append(details.Steps, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	rows, err = s.pool.Query(ctx, `
		SELECT id, run_id, event_type, payload, created_at
		FROM run_events WHERE run_id = $1 ORDER BY created_at ASC, id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		details.Events = append(details.Events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	rows, err = s.pool.Query(ctx, `
		SELECT id, run_id, handle_id, kind, status, payload, error, applied_at, created_at, updated_at
		FROM run_rollbacks WHERE run_id = $1 ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run rollbacks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		h, err := scanRollback(rows)
		if err != nil {
			return nil, err
		}
		details.Rollbacks = append(details.Rollbacks, *h)
	}
	return details, rows.Err()
}

// ListRuns возвращает runs для installation, новые первыми.
func (s *PostgresStore) ListRuns(ctx context.Context, installationID string, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE installation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, installationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ActiveRunForInstallation возвращает самый свежий активный run installation.
func (s *PostgresStore) ActiveRunForInstallation(ctx context.Context, installationID string) (*domain.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE installation_id = $1 AND status IN ('queued', 'running', 'rolling_back')
		ORDER BY created_at DESC
		LIMIT 1
	`, installationID)

	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ClaimNextQueuedRun атомарно забирает самый старый queued run.
//
// FOR UPDATE SKIP LOCKED гарантирует, что конкурентные воркеры
// (в том числе из разных процессов) не заберут один и тот же run.
func (s *PostgresStore) ClaimNextQueuedRun(ctx context.Context) (*domain.Run, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE runs
		SET status = 'running',
		    started_at = COALESCE(started_at, now()),
		    updated_at = now()
		WHERE id = (
			SELECT id FROM runs
			WHERE status = 'queued'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+runColumns)

	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// SetRunStatus обновляет статус run; nil-поля не меняются.
func (s *PostgresStore) SetRunStatus(ctx context.Context, runID uuid.UUID, upd RunStatusUpdate) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE runs
		SET status        = $2,
		    error_code    = COALESCE($3, error_code),
		    error_message = COALESCE($4, error_message),
		    started_at    = COALESCE($5, started_at),
		    finished_at   = COALESCE($6, finished_at),
		    updated_at    = now()
		WHERE id = $1
	`, runID, upd.Status, codePtr(upd.ErrorCode), upd.ErrorMessage, upd.StartedAt, upd.FinishedAt)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRunCounts перезаписывает фактические объёмы работы run.
func (s *PostgresStore) SetRunCounts(ctx context.Context, runID uuid.UUID, toolCalls, pages int) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE runs SET actual_tool_calls = $2, actual_pages = $3, updated_at = now() WHERE id = $1
	`, runID, toolCalls, pages)
	if err != nil {
		return fmt.Errorf("update run counts: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRunRollbackAvailable выставляет флаг доступности rollback.
func (s *PostgresStore) SetRunRollbackAvailable(ctx context.Context, runID uuid.UUID, available bool) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE runs SET rollback_available = $2, updated_at = now() WHERE id = $1
	`, runID, available)
	if err != nil {
		return fmt.Errorf("update rollback_available: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRunStepStatus обновляет один шаг run; nil-поля не меняются.
func (s *PostgresStore) SetRunStepStatus(ctx context.Context, runID uuid.UUID, stepID string, upd StepStatusUpdate) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE run_steps
		SET status            = $3,
		    error_code        = COALESCE($4, error_code),
		    error_message     = COALESCE($5, error_message),
		    started_at        = COALESCE($6, started_at),
		    finished_at       = COALESCE($7, finished_at),
		    actual_tool_calls = COALESCE($8, actual_tool_calls),
		    actual_pages      = COALESCE($9, actual_pages),
		    updated_at        = now()
		WHERE run_id = $1 AND step_id = $2
	`, runID, stepID, upd.Status, codePtr(upd.ErrorCode), upd.ErrorMessage,
		upd.StartedAt, upd.FinishedAt, upd.ActualToolCalls, upd.ActualPages)
	if err != nil {
		return fmt.Errorf("update run step status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailActiveSteps переводит все queued/running шаги run в failed.
func (s *PostgresStore) FailActiveSteps(ctx context.Context, runID uuid.UUID, code domain.ErrorCode, message string, finishedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE run_steps
		SET status = 'failed', error_code = $2, error_message = $3, finished_at = $4, updated_at = now()
		WHERE run_id = $1 AND status IN ('queued', 'running')
	`, runID, string(code), message, finishedAt)
	if err != nil {
		return fmt.Errorf("fail active steps: %w", err)
	}
	return nil
}

// AppendRunEvent добавляет запись в аудит-лог run.
func (s *PostgresStore) AppendRunEvent(ctx context.Context, runID uuid.UUID, eventType domain.EventType, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO run_events (run_id, event_type, payload) VALUES ($1, $2, $3)
	`, runID, string(eventType), payloadJSON)
	if err != nil {
		return fmt.Errorf("append run event: %w", err)
	}
	return nil
}

// AddRunRollbacks записывает компенсирующие действия в статусе pending.
// ON CONFLICT DO NOTHING даёт идемпотентность по (run_id, handle_id).
func (s *PostgresStore) AddRunRollbacks(ctx context.Context, runID uuid.UUID, handles []domain.RollbackHandle) error {
	for _, h := range handles {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO run_rollbacks (run_id, handle_id, kind, status, payload)
			VALUES ($1, $2, $3, 'pending', $4)
			ON CONFLICT (run_id, handle_id) DO NOTHING
		`, runID, h.HandleID, h.Kind, rawOrNull(h.Payload))
		if err != nil {
			return fmt.Errorf("insert rollback handle %s: %w", h.HandleID, err)
		}
	}
	return nil
}

// SetRunRollbackStatus обновляет одно действие по (run_id, handle_id).
func (s *PostgresStore) SetRunRollbackStatus(ctx context.Context, runID uuid.UUID, handleID string, upd RollbackStatusUpdate) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE run_rollbacks
		SET status     = $3,
		    error      = COALESCE($4, error),
		    applied_at = COALESCE($5, applied_at),
		    updated_at = now()
		WHERE run_id = $1 AND handle_id = $2
	`, runID, handleID, upd.Status, upd.Error, upd.AppliedAt)
	if err != nil {
		return fmt.Errorf("update rollback status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPendingRollbacks возвращает pending-действия run в порядке записи.
func (s *PostgresStore) ListPendingRollbacks(ctx context.Context, runID uuid.UUID) ([]domain.RollbackHandle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, handle_id, kind, status, payload, error, applied_at, created_at, updated_at
		FROM run_rollbacks
		WHERE run_id = $1 AND status = 'pending'
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list pending rollbacks: %w", err)
	}
	defer rows.Close()

	var handles []domain.RollbackHandle
	for rows.Next() {
		h, err := scanRollback(rows)
		if err != nil {
			return nil, err
		}
		handles = append(handles, *h)
	}
	return handles, rows.Err()
}

// ListStaleActiveRuns возвращает активные runs старше cutoff, старые первыми.
func (s *PostgresStore) ListStaleActiveRuns(ctx context.Context, cutoff time.Time, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE status IN ('queued', 'running', 'rolling_back')
		  AND COALESCE(started_at, created_at) < $1
		ORDER BY COALESCE(started_at, created_at) ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale active runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// --- Helpers ---

// scannable объединяет pgx.Row и pgx.Rows для общих scan-хелперов.
type scannable interface {
	Scan(dest ...any) error
}

// scanRun сканирует одну строку в Run.
func scanRun(row scannable) (*domain.Run, error) {
	var run domain.Run
	var status string
	var errorCode, errorMessage *string
	var inputPayload []byte

	err := row.Scan(
		&run.ID,
		&run.InstallationID,
		&run.WPUserID,
		&run.PlanID,
		&status,
		&run.PlannedSteps,
		&run.PlannedToolCalls,
		&run.PlannedPages,
		&run.ActualToolCalls,
		&run.ActualPages,
		&errorCode,
		&errorMessage,
		&run.RollbackAvailable,
		&inputPayload,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	if errorCode != nil {
		run.ErrorCode = domain.ErrorCode(*errorCode)
	}
	if errorMessage != nil {
		run.ErrorMessage = *errorMessage
	}
	run.InputPayload = inputPayload
	return &run, nil
}

// scanStep сканирует одну строку в RunStep.
func scanStep(row scannable) (*domain.RunStep, error) {
	var step domain.RunStep
	var status string
	var errorCode, errorMessage *string

	err := row.Scan(
		&step.RunID,
		&step.StepID,
		&status,
		&step.PlannedToolCalls,
		&step.PlannedPages,
		&step.ActualToolCalls,
		&step.ActualPages,
		&errorCode,
		&errorMessage,
		&step.StartedAt,
		&step.FinishedAt,
		&step.CreatedAt,
		&step.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan run step: %w", err)
	}

	step.Status = domain.StepStatus(status)
	if errorCode != nil {
		step.ErrorCode = domain.ErrorCode(*errorCode)
	}
	if errorMessage != nil {
		step.ErrorMessage = *errorMessage
	}
	return &step, nil
}

// scanEvent сканирует одну строку в RunEvent.
func scanEvent(row scannable) (*domain.RunEvent, error) {
	var ev domain.RunEvent
	var eventType string
	var payloadJSON []byte

	err := row.Scan(&ev.ID, &ev.RunID, &eventType, &payloadJSON, &ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan run event: %w", err)
	}

	ev.Type = domain.EventType(eventType)
	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &ev.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
	}
	return &ev, nil
}

// scanRollback сканирует одну строку в RollbackHandle.
func scanRollback(row scannable) (*domain.RollbackHandle, error) {
	var h domain.RollbackHandle
	var status string
	var handleErr *string
	var payload []byte

	err := row.Scan(
		&h.ID,
		&h.RunID,
		&h.HandleID,
		&h.Kind,
		&status,
		&payload,
		&handleErr,
		&h.AppliedAt,
		&h.CreatedAt,
		&h.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan rollback handle: %w", err)
	}

	h.Status = domain.RollbackStatus(status)
	if handleErr != nil {
		h.Error = *handleErr
	}
	h.Payload = payload
	return &h, nil
}

// collectRuns сканирует все строки результата в слайс runs.
func collectRuns(rows pgx.Rows) ([]domain.Run, error) {
	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// insertRunError переводит ошибки уникальности в сентинелы хранилища.
func insertRunError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == "runs_one_active_per_installation" {
			return ErrActiveRunExists
		}
		return ErrAlreadyExists
	}
	return fmt.Errorf("insert run: %w", err)
}

// codePtr конвертирует *domain.ErrorCode в *string для запроса.
func codePtr(code *domain.ErrorCode) *string {
	if code == nil {
		return nil
	}
	s := string(*code)
	return &s
}

// rawOrNull возвращает nil для пустого JSON (NULL в БД).
func rawOrNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
