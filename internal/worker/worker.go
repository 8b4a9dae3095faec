package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Pressline/internal/domain"
	"github.com/shaiso/Pressline/internal/store"
	"github.com/shaiso/Pressline/internal/telemetry"
)

// defaultInterval — интервал между тиками по умолчанию.
const defaultInterval = 5 * time.Second

// RunExecutor — исполнитель забранного run. Реализуется executor.Executor.
type RunExecutor interface {
	ExecuteRun(ctx context.Context, runID uuid.UUID, installationID string) error
}

// Worker — единственный фоновый цикл процесса.
//
// По таймеру забирает queued runs из хранилища и передаёт их
// исполнителю, пока очередь не опустеет. Параллельных тиков не бывает:
// если предыдущий тик ещё работает, новый пропускается.
type Worker struct {
	store    store.Store
	executor RunExecutor
	interval time.Duration
	logger   *slog.Logger

	busy     atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Config — конфигурация Worker.
type Config struct {
	// Store — хранилище runs.
	Store store.Store

	// Executor — исполнитель забранных runs.
	Executor RunExecutor

	// Interval — интервал между тиками (default: 5s).
	Interval time.Duration

	// Logger — логгер (default: slog.Default()).
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		store:    cfg.Store,
		executor: cfg.Executor,
		interval: interval,
		logger:   logger,
	}
}

// Start запускает фоновый цикл. Первый тик выполняется сразу,
// не дожидаясь интервала.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		w.logger.Info("worker started", "interval", w.interval.String())

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				w.logger.Info("worker stopped")
				return
			case <-ticker.C:
				w.Tick(ctx)
			}
		}
	}()
}

// Stop останавливает цикл и дожидается завершения текущего тика.
// Повторные вызовы безопасны.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		w.wg.Wait()
	})
}

// Tick выполняет один проход: забирает runs из очереди до её
// опустошения. Если предыдущий тик ещё не завершился, проход
// пропускается.
func (w *Worker) Tick(ctx context.Context) {
	if !w.busy.CompareAndSwap(false, true) {
		telemetry.WorkerTicks.WithLabelValues("skipped").Inc()
		w.logger.Debug("previous tick still running, skipping")
		return
	}
	defer w.busy.Store(false)

	drained := 0
	for ctx.Err() == nil {
		run, err := w.store.ClaimNextQueuedRun(ctx)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				break
			}
			telemetry.WorkerTicks.WithLabelValues("error").Inc()
			w.logger.Error("failed to claim next run", "error", err)
			return
		}

		drained++
		telemetry.RunsClaimed.Inc()
		w.processRun(ctx, run)
	}

	telemetry.WorkerTicks.WithLabelValues("ok").Inc()
	if drained > 0 {
		w.logger.Info("tick finished", "runs_processed", drained)
	}
}

// processRun исполняет один забранный run. Любой сбой исполнителя,
// включая панику, логируется и не прерывает цикл.
//
// Выполнение идёт на контексте, отвязанном от cancel цикла: Stop
// прекращает забор новых runs, но начатый run доводится до
// терминального состояния — Stop дожидается его через wg.Wait.
func (w *Worker) processRun(ctx context.Context, run *domain.Run) {
	ctx = context.WithoutCancel(ctx)
	logger := telemetry.WithInstallationID(telemetry.WithRunID(w.logger, run.ID.String()), run.InstallationID)

	if err := w.store.AppendRunEvent(ctx, run.ID, domain.EventRunLeased, map[string]any{
		"installation_id": run.InstallationID,
	}); err != nil {
		logger.Error("failed to append run_leased event", "error", err)
	}
	logger.Info("run leased")

	defer func() {
		if r := recover(); r != nil {
			logger.Error("executor panicked", "panic", r)
		}
	}()

	if err := w.executor.ExecuteRun(ctx, run.ID, run.InstallationID); err != nil {
		logger.Error("run execution error", "error", err)
	}
}
