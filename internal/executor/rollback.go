package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Pressline/internal/domain"
	"github.com/shaiso/Pressline/internal/store"
	"github.com/shaiso/Pressline/internal/telemetry"
	"github.com/shaiso/Pressline/internal/toolapi"
)

// RollbackResult — итог отката run.
type RollbackResult struct {
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}

// RollbackRun применяет все pending компенсирующие действия run одним
// вызовом rollback/apply на стороне Tool API.
//
// Если pending-действий нет, возвращает {0, 0} не меняя состояния.
// Ошибка самого вызова rollback/apply пробрасывается вызывающему
// после перевода run в rollback_failed.
func (e *Executor) RollbackRun(ctx context.Context, runID uuid.UUID, installationID string) (RollbackResult, error) {
	logger := telemetry.WithInstallationID(telemetry.WithRunID(e.logger, runID.String()), installationID)

	// 1. Собираем pending-действия
	pending, err := e.store.ListPendingRollbacks(ctx, runID)
	if err != nil {
		return RollbackResult{}, fmt.Errorf("list pending rollbacks: %w", err)
	}
	if len(pending) == 0 {
		logger.Info("no pending rollbacks, nothing to do")
		return RollbackResult{}, nil
	}

	// 2. Переводим run в rolling_back
	if err := e.store.SetRunStatus(ctx, runID, store.RunStatusUpdate{
		Status: domain.RunStatusRollingBack,
	}); err != nil {
		return RollbackResult{}, fmt.Errorf("mark run rolling back: %w", err)
	}
	e.appendEvent(ctx, runID, domain.EventRollbackStarted, map[string]any{
		"pending": len(pending),
	})
	logger.Info("rollback started", "pending", len(pending))

	// 3. Один вызов rollback/apply на весь run: удалённая сторона сама
	// знает свои handles и отчитывается по каждому.
	result, err := e.tool.ApplyRollback(ctx, toolapi.RollbackApplyRequest{RunID: runID.String()})
	if err != nil {
		code := domain.CodeRollbackFailed
		message := err.Error()
		now := time.Now().UTC()
		if serr := e.store.SetRunStatus(ctx, runID, store.RunStatusUpdate{
			Status:       domain.RunStatusRollbackFailed,
			ErrorCode:    &code,
			ErrorMessage: &message,
			FinishedAt:   &now,
		}); serr != nil {
			logger.Error("failed to mark run rollback_failed", "error", serr)
		}
		e.appendEvent(ctx, runID, domain.EventRollbackFailed, map[string]any{
			"error": message,
		})
		logger.Error("rollback apply call failed", "error", err)
		return RollbackResult{}, fmt.Errorf("apply rollback: %w", err)
	}
	e.appendEvent(ctx, runID, domain.EventToolCalled, map[string]any{
		"tool": "rollback/apply",
	})

	// 4. Разносим результаты по handles. Неизвестные и пустые id
	// пропускаем: удалённая сторона может знать больше, чем мы записали.
	known := make(map[string]struct{}, len(pending))
	for _, h := range pending {
		known[h.HandleID] = struct{}{}
	}

	var res RollbackResult
	now := time.Now().UTC()
	for _, r := range result.Results {
		if r.HandleID == "" {
			continue
		}
		if _, ok := known[r.HandleID]; !ok {
			logger.Debug("skipping unknown rollback handle", "handle_id", r.HandleID)
			continue
		}

		if r.Status == toolapi.RollbackApplied {
			if err := e.store.SetRunRollbackStatus(ctx, runID, r.HandleID, store.RollbackStatusUpdate{
				Status:    domain.RollbackStatusApplied,
				AppliedAt: &now,
			}); err != nil {
				logger.Error("failed to mark rollback applied", "handle_id", r.HandleID, "error", err)
			}
			res.Applied++
			telemetry.RollbackHandles.WithLabelValues("applied").Inc()
			continue
		}

		message := r.Error
		if message == "" {
			message = fmt.Sprintf("rollback handle finished with status %q", r.Status)
		}
		if err := e.store.SetRunRollbackStatus(ctx, runID, r.HandleID, store.RollbackStatusUpdate{
			Status: domain.RollbackStatusFailed,
			Error:  &message,
		}); err != nil {
			logger.Error("failed to mark rollback failed", "handle_id", r.HandleID, "error", err)
		}
		res.Failed++
		telemetry.RollbackHandles.WithLabelValues("failed").Inc()
	}

	// 5. Финальный статус: rolled_back, если всё применилось,
	// иначе rollback_failed с возможностью повторить.
	final := domain.RunStatusRolledBack
	if res.Failed > 0 {
		final = domain.RunStatusRollbackFailed
	}
	if err := e.store.SetRunStatus(ctx, runID, store.RunStatusUpdate{Status: final}); err != nil {
		logger.Error("failed to set final rollback status", "error", err)
	}
	if err := e.store.SetRunRollbackAvailable(ctx, runID, res.Failed > 0); err != nil {
		logger.Error("failed to update rollback availability", "error", err)
	}
	e.appendEvent(ctx, runID, domain.EventRollbackCompleted, map[string]any{
		"applied": res.Applied,
		"failed":  res.Failed,
		"status":  string(final),
	})
	e.notifyByID(ctx, runID, installationID, final)

	logger.Info("rollback finished", "applied", res.Applied, "failed", res.Failed, "status", string(final))
	return res, nil
}

func (e *Executor) notifyByID(ctx context.Context, runID uuid.UUID, installationID string, status domain.RunStatus) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.PublishRunStatus(ctx, runID, installationID, status); err != nil {
		e.logger.Warn("failed to publish run status", "run_id", runID, "error", err)
	}
}
