package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Pressline/internal/domain"
	"github.com/shaiso/Pressline/internal/store"
	"github.com/shaiso/Pressline/internal/telemetry"
	"github.com/shaiso/Pressline/internal/toolapi"
)

// Default configuration values.
const (
	defaultPollInterval = 5 * time.Second
	defaultPollAttempts = 60
)

// ToolClient — часть Tool API, которую использует Executor.
// Реализуется toolapi.Client; в тестах подменяется фейком.
type ToolClient interface {
	CreatePage(ctx context.Context, req toolapi.CreatePageRequest) (*toolapi.CreatePageResult, error)
	BulkCreate(ctx context.Context, req toolapi.BulkCreateRequest) (*toolapi.BulkCreateResult, error)
	JobStatus(ctx context.Context, jobID string) (*toolapi.JobStatusResult, error)
	ApplyRollback(ctx context.Context, req toolapi.RollbackApplyRequest) (*toolapi.RollbackApplyResult, error)
}

// Notifier — опциональный канал уведомлений о терминальных переходах run.
// Реализуется mq.Publisher; nil отключает уведомления.
type Notifier interface {
	PublishRunStatus(ctx context.Context, runID uuid.UUID, installationID string, status domain.RunStatus) error
}

// Executor доводит забранный run до терминального состояния.
//
// ExecuteRun никогда не возвращает ошибку выполнения — любой сбой
// превращается в терминальный статус run/step плюс событие аудита,
// чтобы цикл Worker'а жил независимо от судьбы отдельных runs.
// Ненулевая ошибка означает только отказ самого хранилища.
//
// RollbackRun, наоборот, пробрасывает ошибку вызова rollback/apply
// наверх: его вызывает синхронно HTTP-слой, которому нужно сообщить
// о неудаче человеку.
type Executor struct {
	store    store.Store
	tool     ToolClient
	notifier Notifier

	pollInterval time.Duration
	pollAttempts int

	logger *slog.Logger
}

// Config — конфигурация Executor.
type Config struct {
	// Store — хранилище runs.
	Store store.Store

	// Tool — клиент Tool API.
	Tool ToolClient

	// Notifier — уведомления о терминальных переходах (опционально).
	Notifier Notifier

	// PollInterval — фиксированная задержка между опросами bulk job (default: 5s).
	PollInterval time.Duration

	// PollAttempts — лимит опросов bulk job (default: 60).
	// Вместе с PollInterval даёт детерминированный worst-case таймаут.
	PollAttempts int

	// Logger — логгер (default: slog.Default()).
	Logger *slog.Logger
}

// New создаёт новый Executor.
func New(cfg Config) *Executor {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	pollAttempts := cfg.PollAttempts
	if pollAttempts <= 0 {
		pollAttempts = defaultPollAttempts
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		store:        cfg.Store,
		tool:         cfg.Tool,
		notifier:     cfg.Notifier,
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
		logger:       logger,
	}
}

// ExecuteRun выполняет run до терминального состояния.
//
// Если run не найден, молча возвращает nil (идемпотентный no-op —
// run уже обработан или удалён).
func (e *Executor) ExecuteRun(ctx context.Context, runID uuid.UUID, installationID string) error {
	logger := telemetry.WithInstallationID(telemetry.WithRunID(e.logger, runID.String()), installationID)

	// 1. Загружаем run
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Debug("run not found, skipping")
			return nil
		}
		return fmt.Errorf("get run: %w", err)
	}

	// 2. Валидируем input_payload
	input, err := domain.ParseRunInput(run.InputPayload)
	if err != nil {
		logger.Warn("invalid run input", "error", err)
		e.failRun(ctx, run, "", domain.CodeInvalidInput, fmt.Sprintf("invalid input payload: %v", err), nil)
		return nil
	}

	logger = logger.With("mode", string(input.Mode), "step_id", input.StepID)

	// 3. Переводим run и целевой шаг в running
	now := time.Now().UTC()
	upd := store.RunStatusUpdate{Status: domain.RunStatusRunning}
	if run.StartedAt == nil {
		upd.StartedAt = &now
	}
	if err := e.store.SetRunStatus(ctx, runID, upd); err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	if err := e.store.SetRunStepStatus(ctx, runID, input.StepID, store.StepStatusUpdate{
		Status:    domain.StepStatusRunning,
		StartedAt: &now,
	}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.failRun(ctx, run, "", domain.CodeInvalidInput,
				fmt.Sprintf("step %s not found in run", input.StepID), nil)
			return nil
		}
		return fmt.Errorf("mark step running: %w", err)
	}
	e.appendEvent(ctx, runID, domain.EventRunStarted, map[string]any{
		"mode":  string(input.Mode),
		"pages": len(input.Pages),
	})

	logger.Info("run started", "pages", len(input.Pages))
	started := time.Now()

	// 4. Выполняем. Любая ошибка ловится здесь один раз и превращается
	// в терминальный статус — дальше она не распространяется.
	var execErr error
	switch input.Mode {
	case domain.ModeSingle:
		execErr = e.runSingle(ctx, run, input, logger)
	case domain.ModeBulk:
		execErr = e.runBulk(ctx, run, input, logger)
	}
	if execErr != nil {
		logger.Error("run execution failed", "error", execErr)
		e.failRun(ctx, run, input.StepID, domain.CodeExecutionFailed, execErr.Error(), nil)
	}

	telemetry.RunDuration.Observe(time.Since(started).Seconds())
	return nil
}

// runSingle выполняет run в режиме single: один вызов create-page.
func (e *Executor) runSingle(ctx context.Context, run *domain.Run, input *domain.RunInput, logger *slog.Logger) error {
	result, err := e.tool.CreatePage(ctx, toolapi.CreatePageRequest{
		RunID:  run.ID.String(),
		StepID: input.StepID,
		Page:   input.Pages[0],
	})
	if err != nil {
		return err
	}
	e.appendEvent(ctx, run.ID, domain.EventToolCalled, map[string]any{
		"tool": "content/create-page",
	})

	if h := result.RollbackHandle; h != nil && h.HandleID != "" && h.Kind != "" {
		if err := e.recordRollbacks(ctx, run.ID, []toolapi.RollbackHandle{*h}); err != nil {
			return err
		}
	}

	if err := e.store.SetRunCounts(ctx, run.ID, 1, 1); err != nil {
		return fmt.Errorf("set run counts: %w", err)
	}
	e.completeRun(ctx, run, input.StepID, 1, 1, map[string]any{"pages_created": 1})

	logger.Info("run completed", "item_id", result.ItemID)
	return nil
}

// runBulk выполняет run в режиме bulk: bulk-create плюс ограниченный
// опрос job с фиксированным интервалом.
func (e *Executor) runBulk(ctx context.Context, run *domain.Run, input *domain.RunInput, logger *slog.Logger) error {
	result, err := e.tool.BulkCreate(ctx, toolapi.BulkCreateRequest{
		RunID:  run.ID.String(),
		StepID: input.StepID,
		Items:  input.Pages,
	})
	if err != nil {
		return err
	}
	e.appendEvent(ctx, run.ID, domain.EventToolCalled, map[string]any{
		"tool": "content/bulk-create",
	})

	if result.JobID == "" {
		return errors.New("bulk create response has no job_id")
	}
	e.appendEvent(ctx, run.ID, domain.EventBulkJobQueued, map[string]any{
		"job_id": result.JobID,
	})
	logger = logger.With("job_id", result.JobID)

	var lastStatus string
	for attempt := 1; attempt <= e.pollAttempts; attempt++ {
		if err := sleepCtx(ctx, e.pollInterval); err != nil {
			return err
		}

		job, err := e.tool.JobStatus(ctx, result.JobID)
		if err != nil {
			return err
		}
		telemetry.BulkPollAttempts.Inc()
		e.appendEvent(ctx, run.ID, domain.EventToolCalled, map[string]any{
			"tool":    "jobs/status",
			"attempt": attempt,
		})
		e.appendEvent(ctx, run.ID, domain.EventBulkJobPolled, map[string]any{
			"attempt": attempt,
			"status":  job.Status,
		})

		// Сливаем handles с каждого опроса: job может отдавать их
		// порциями по мере выполнения.
		if err := e.recordRollbacks(ctx, run.ID, job.RollbackHandles); err != nil {
			return err
		}

		lastStatus = job.Status
		if job.IsActive() {
			continue
		}

		toolCalls := 1 + attempt // bulk-create plus issued polls

		if job.Status == toolapi.JobStatusCompleted {
			created, ok := job.CreatedItems()
			if !ok {
				// Удалённая сторона не сообщила created_items —
				// подставляем запрошенное количество страниц.
				created = len(input.Pages)
			}
			if err := e.store.SetRunCounts(ctx, run.ID, toolCalls, created); err != nil {
				return fmt.Errorf("set run counts: %w", err)
			}
			e.completeRun(ctx, run, input.StepID, toolCalls, created, map[string]any{
				"pages_created": created,
				"job_id":        result.JobID,
			})
			logger.Info("run completed", "pages_created", created, "polls", attempt)
			return nil
		}

		// Терминальный неуспех job (failed и любой другой неизвестный
		// финальный статус).
		message := job.FirstError()
		if message == "" {
			message = fmt.Sprintf("bulk job finished with status %q", job.Status)
		}
		created, _ := job.CreatedItems()
		created = max(created, 0)
		if err := e.store.SetRunCounts(ctx, run.ID, toolCalls, created); err != nil {
			return fmt.Errorf("set run counts: %w", err)
		}
		e.failRun(ctx, run, input.StepID, domain.CodeExecutionFailed, message, map[string]any{
			"job_id": result.JobID,
		})
		logger.Warn("bulk job failed", "status", job.Status, "error", message)
		return nil
	}

	// Лимит опросов исчерпан, job всё ещё queued/running.
	e.failRun(ctx, run, input.StepID, domain.CodeExecutionTimeout,
		fmt.Sprintf("bulk job %s still %s after %d poll attempts", result.JobID, lastStatus, e.pollAttempts),
		map[string]any{"job_id": result.JobID})
	logger.Warn("bulk job polling exhausted", "attempts", e.pollAttempts, "last_status", lastStatus)
	return nil
}

// recordRollbacks сохраняет handles (пропуская записи без id или kind)
// и выставляет rollback_available, если хоть один handle записан.
func (e *Executor) recordRollbacks(ctx context.Context, runID uuid.UUID, handles []toolapi.RollbackHandle) error {
	var valid []domain.RollbackHandle
	for _, h := range handles {
		if h.HandleID == "" || h.Kind == "" {
			continue
		}
		valid = append(valid, domain.RollbackHandle{
			HandleID: h.HandleID,
			Kind:     h.Kind,
			Payload:  h.Payload,
		})
	}
	if len(valid) == 0 {
		return nil
	}

	if err := e.store.AddRunRollbacks(ctx, runID, valid); err != nil {
		return fmt.Errorf("add rollbacks: %w", err)
	}
	if err := e.store.SetRunRollbackAvailable(ctx, runID, true); err != nil {
		return fmt.Errorf("set rollback available: %w", err)
	}
	return nil
}

// completeRun переводит шаг, затем run в completed и пишет run_completed.
func (e *Executor) completeRun(ctx context.Context, run *domain.Run, stepID string, toolCalls, pages int, payload map[string]any) {
	now := time.Now().UTC()

	if err := e.store.SetRunStepStatus(ctx, run.ID, stepID, store.StepStatusUpdate{
		Status:          domain.StepStatusCompleted,
		FinishedAt:      &now,
		ActualToolCalls: &toolCalls,
		ActualPages:     &pages,
	}); err != nil {
		e.logger.Error("failed to mark step completed", "run_id", run.ID, "error", err)
	}

	if err := e.store.SetRunStatus(ctx, run.ID, store.RunStatusUpdate{
		Status:     domain.RunStatusCompleted,
		FinishedAt: &now,
	}); err != nil {
		e.logger.Error("failed to mark run completed", "run_id", run.ID, "error", err)
	}

	e.appendEvent(ctx, run.ID, domain.EventRunCompleted, payload)
	telemetry.RunsExecuted.WithLabelValues(string(domain.RunStatusCompleted)).Inc()
	e.notify(ctx, run, domain.RunStatusCompleted)
}

// failRun переводит шаг (или все активные шаги, если stepID пуст)
// и run в failed, пишет run_failed и уведомляет наружу.
func (e *Executor) failRun(ctx context.Context, run *domain.Run, stepID string, code domain.ErrorCode, message string, payload map[string]any) {
	now := time.Now().UTC()

	if stepID == "" {
		if err := e.store.FailActiveSteps(ctx, run.ID, code, message, now); err != nil {
			e.logger.Error("failed to fail active steps", "run_id", run.ID, "error", err)
		}
	} else {
		if err := e.store.SetRunStepStatus(ctx, run.ID, stepID, store.StepStatusUpdate{
			Status:       domain.StepStatusFailed,
			ErrorCode:    &code,
			ErrorMessage: &message,
			FinishedAt:   &now,
		}); err != nil {
			e.logger.Error("failed to mark step failed", "run_id", run.ID, "error", err)
		}
	}

	if err := e.store.SetRunStatus(ctx, run.ID, store.RunStatusUpdate{
		Status:       domain.RunStatusFailed,
		ErrorCode:    &code,
		ErrorMessage: &message,
		FinishedAt:   &now,
	}); err != nil {
		e.logger.Error("failed to mark run failed", "run_id", run.ID, "error", err)
	}

	eventPayload := map[string]any{
		"code":    string(code),
		"message": message,
	}
	for k, v := range payload {
		eventPayload[k] = v
	}
	e.appendEvent(ctx, run.ID, domain.EventRunFailed, eventPayload)
	telemetry.RunsExecuted.WithLabelValues(string(domain.RunStatusFailed)).Inc()
	e.notify(ctx, run, domain.RunStatusFailed)
}

// appendEvent пишет событие аудита; отказ записи события не
// останавливает выполнение.
func (e *Executor) appendEvent(ctx context.Context, runID uuid.UUID, eventType domain.EventType, payload map[string]any) {
	if err := e.store.AppendRunEvent(ctx, runID, eventType, payload); err != nil {
		e.logger.Error("failed to append run event",
			"run_id", runID,
			"event_type", string(eventType),
			"error", err,
		)
	}
}

// notify публикует уведомление о переходе run; best-effort.
func (e *Executor) notify(ctx context.Context, run *domain.Run, status domain.RunStatus) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.PublishRunStatus(ctx, run.ID, run.InstallationID, status); err != nil {
		e.logger.Warn("failed to publish run status", "run_id", run.ID, "error", err)
	}
}

// sleepCtx ждёт фиксированный интервал, уважая отмену контекста.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
