// Pressline Runner — движок выполнения планов публикации.
//
// Процесс:
//   - Применяет миграции и восстанавливает зависшие runs
//   - Фоновым циклом забирает queued runs и выполняет их против Tool API
//   - Публикует уведомления о терминальных переходах в RabbitMQ
//   - Отдаёт /healthz и /metrics
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Pressline/internal/config"
	"github.com/shaiso/Pressline/internal/executor"
	"github.com/shaiso/Pressline/internal/mq"
	"github.com/shaiso/Pressline/internal/recovery"
	"github.com/shaiso/Pressline/internal/store"
	"github.com/shaiso/Pressline/internal/telemetry"
	"github.com/shaiso/Pressline/internal/toolapi"
	"github.com/shaiso/Pressline/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Логгер ещё не настроен — падаем через stderr.
		telemetry.SetupLogger("info", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("starting pressline-runner")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Миграции и DB pool
	if err := store.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	pool, err := store.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	st := store.NewPostgresStore(pool)

	// RabbitMQ (опционально)
	var publisher *mq.Publisher
	if cfg.MQ.URL != "" {
		mqConn, err := mq.NewConnection(cfg.MQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, notifications disabled", "error", err)
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}

			publisher = mq.NewPublisher(mqConn, logger)
		}
	}

	// Восстановление: зависшие runs завершаются до старта цикла,
	// иначе worker мог бы гоняться с реконсилером за те же записи.
	reconciler := recovery.New(recovery.Config{
		Store:      st,
		StaleAfter: cfg.Recovery.StaleAfter,
		Limit:      cfg.Recovery.Limit,
		Logger:     logger,
	})
	if _, err := reconciler.Run(ctx); err != nil {
		// Восстановление best-effort: зависшие runs подберёт
		// следующий рестарт.
		logger.Error("recovery failed", "error", err)
	}

	// Executor и Worker
	tool := toolapi.NewClient(toolapi.Config{
		BaseURL: cfg.ToolAPI.BaseURL,
		Token:   cfg.ToolAPI.Token,
		Timeout: cfg.ToolAPI.Timeout,
	})

	exec := executor.New(executor.Config{
		Store:        st,
		Tool:         tool,
		Notifier:     notifier(publisher),
		PollInterval: cfg.Executor.PollInterval,
		PollAttempts: cfg.Executor.PollAttempts,
		Logger:       logger,
	})

	w := worker.New(worker.Config{
		Store:    st,
		Executor: exec,
		Interval: cfg.Worker.Interval,
		Logger:   logger,
	})
	w.Start(ctx)

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.Server.Port
	go func() {
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	w.Stop()
	logger.Info("pressline-runner stopped")
}

// notifier приводит *mq.Publisher к executor.Notifier так, чтобы
// nil-указатель не превратился в ненулевой интерфейс.
func notifier(p *mq.Publisher) executor.Notifier {
	if p == nil {
		return nil
	}
	return p
}
