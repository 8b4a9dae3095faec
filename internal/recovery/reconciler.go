// Package recovery возвращает хранилище в согласованное состояние
// после аварийного завершения процесса.
//
// Run, оставшийся в активном статусе дольше порога, означает, что
// процесс умер посреди выполнения. Побочные эффекты такого run на
// стороне Tool API неизвестны, поэтому повторный запуск небезопасен:
// Reconciler принудительно переводит такие runs в failed, сохраняя
// записанные rollback handles для ручного отката.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Pressline/internal/domain"
	"github.com/shaiso/Pressline/internal/store"
	"github.com/shaiso/Pressline/internal/telemetry"
)

// Default configuration values.
const (
	defaultStaleAfter = 15 * time.Minute
	defaultLimit      = 100
)

// Reconciler принудительно завершает зависшие runs при старте процесса.
type Reconciler struct {
	store      store.Store
	staleAfter time.Duration
	limit      int
	logger     *slog.Logger
}

// Config — конфигурация Reconciler.
type Config struct {
	// Store — хранилище runs.
	Store store.Store

	// StaleAfter — порог давности: активный run старше порога считается
	// зависшим (default: 15m).
	StaleAfter time.Duration

	// Limit — максимум runs за один проход (default: 100).
	Limit int

	// Logger — логгер (default: slog.Default()).
	Logger *slog.Logger
}

// New создаёт новый Reconciler.
func New(cfg Config) *Reconciler {
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		store:      cfg.Store,
		staleAfter: staleAfter,
		limit:      limit,
		logger:     logger,
	}
}

// Run выполняет один проход восстановления и возвращает количество
// принудительно завершённых runs.
//
// Ошибки обработки отдельных runs логируются и не прерывают проход:
// лучше восстановить часть, чем ничего.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.staleAfter)

	stale, err := r.store.ListStaleActiveRuns(ctx, cutoff, r.limit)
	if err != nil {
		return 0, fmt.Errorf("list stale active runs: %w", err)
	}
	if len(stale) == 0 {
		r.logger.Info("recovery: no stale runs found")
		return 0, nil
	}

	r.logger.Warn("recovery: found stale active runs", "count", len(stale))

	recovered := 0
	for i := range stale {
		run := &stale[i]
		if err := r.forceFail(ctx, run); err != nil {
			r.logger.Error("recovery: failed to force-fail run",
				"run_id", run.ID,
				"error", err,
			)
			continue
		}
		recovered++
	}

	r.logger.Info("recovery finished", "recovered", recovered)
	return recovered, nil
}

// forceFail переводит один зависший run и его активные шаги в failed.
func (r *Reconciler) forceFail(ctx context.Context, run *domain.Run) error {
	logger := telemetry.WithRunID(r.logger, run.ID.String())

	now := time.Now().UTC()
	code := domain.CodeExecutionAborted
	message := fmt.Sprintf("run aborted by recovery: stuck in status %q for more than %s", run.Status, r.staleAfter)

	// Сначала шаги, затем run: если упадём посередине, run останется
	// активным и будет подобран следующим проходом.
	if err := r.store.FailActiveSteps(ctx, run.ID, code, message, now); err != nil {
		return fmt.Errorf("fail active steps: %w", err)
	}

	if err := r.store.SetRunStatus(ctx, run.ID, store.RunStatusUpdate{
		Status:       domain.RunStatusFailed,
		ErrorCode:    &code,
		ErrorMessage: &message,
		FinishedAt:   &now,
	}); err != nil {
		return fmt.Errorf("set run status: %w", err)
	}

	if err := r.store.AppendRunEvent(ctx, run.ID, domain.EventRunRecoveredFailed, map[string]any{
		"previous_status":     string(run.Status),
		"stale_after_seconds": int(r.staleAfter.Seconds()),
	}); err != nil {
		logger.Error("failed to append run_recovered_failed event", "error", err)
	}

	telemetry.RunsRecovered.Inc()
	logger.Warn("run force-failed by recovery",
		"previous_status", string(run.Status),
		"rollback_available", run.RollbackAvailable,
	)
	return nil
}
