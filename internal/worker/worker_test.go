package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Pressline/internal/domain"
	"github.com/shaiso/Pressline/internal/store"
)

// recordingExecutor — фейковый исполнитель, запоминающий вызовы.
type recordingExecutor struct {
	mu      sync.Mutex
	runs    []uuid.UUID
	execute func(ctx context.Context, runID uuid.UUID) error
}

func (e *recordingExecutor) ExecuteRun(ctx context.Context, runID uuid.UUID, _ string) error {
	e.mu.Lock()
	e.runs = append(e.runs, runID)
	e.mu.Unlock()
	if e.execute != nil {
		return e.execute(ctx, runID)
	}
	return nil
}

func (e *recordingExecutor) executed() []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uuid.UUID(nil), e.runs...)
}

func seedQueuedRun(t *testing.T, st store.Store, installationID string) *domain.Run {
	t.Helper()
	run, err := st.CreateRun(context.Background(), store.RunSpec{
		RunID:          uuid.New(),
		InstallationID: installationID,
		PlanID:         uuid.New(),
		PlannedSteps:   1,
		InputPayload:   json.RawMessage(`{"mode":"single","step_id":"publish","pages":[{"title":"x"}]}`),
		Steps:          []store.StepSpec{{StepID: "publish"}},
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return run
}

func TestTickDrainsQueue(t *testing.T) {
	st := store.NewMemoryStore()
	first := seedQueuedRun(t, st, "inst-1")
	second := seedQueuedRun(t, st, "inst-2")

	exec := &recordingExecutor{}
	w := New(Config{Store: st, Executor: exec, Interval: time.Hour})

	w.Tick(context.Background())

	executed := exec.executed()
	if len(executed) != 2 {
		t.Fatalf("executed %d runs, want 2", len(executed))
	}

	// run_leased записан для каждого забранного run.
	for _, run := range []*domain.Run{first, second} {
		details, err := st.GetRunDetails(context.Background(), run.ID)
		if err != nil {
			t.Fatalf("GetRunDetails: %v", err)
		}
		found := false
		for _, ev := range details.Events {
			if ev.Type == domain.EventRunLeased {
				found = true
			}
		}
		if !found {
			t.Errorf("run %s has no run_leased event", run.ID)
		}
		if details.Run.Status != domain.RunStatusRunning {
			t.Errorf("run %s status = %s, want running after claim", run.ID, details.Run.Status)
		}
		if details.Run.StartedAt == nil {
			t.Errorf("run %s started_at is not set", run.ID)
		}
	}
}

func TestTickEmptyQueue(t *testing.T) {
	st := store.NewMemoryStore()
	exec := &recordingExecutor{}
	w := New(Config{Store: st, Executor: exec, Interval: time.Hour})

	w.Tick(context.Background())

	if len(exec.executed()) != 0 {
		t.Errorf("executed %d runs on empty queue, want 0", len(exec.executed()))
	}
}

func TestTickSurvivesExecutorFailure(t *testing.T) {
	st := store.NewMemoryStore()
	failing := seedQueuedRun(t, st, "inst-1")
	healthy := seedQueuedRun(t, st, "inst-2")

	exec := &recordingExecutor{
		execute: func(_ context.Context, runID uuid.UUID) error {
			if runID == failing.ID {
				return errors.New("store is on fire")
			}
			return nil
		},
	}
	w := New(Config{Store: st, Executor: exec, Interval: time.Hour})

	w.Tick(context.Background())

	executed := exec.executed()
	if len(executed) != 2 {
		t.Fatalf("executed %d runs, want 2 (failure must not stop the drain)", len(executed))
	}
	if executed[0] != failing.ID || executed[1] != healthy.ID {
		t.Errorf("executed order = %v, want oldest first", executed)
	}
}

func TestTickSurvivesExecutorPanic(t *testing.T) {
	st := store.NewMemoryStore()
	seedQueuedRun(t, st, "inst-1")
	seedQueuedRun(t, st, "inst-2")

	exec := &recordingExecutor{
		execute: func(context.Context, uuid.UUID) error {
			panic("boom")
		},
	}
	w := New(Config{Store: st, Executor: exec, Interval: time.Hour})

	w.Tick(context.Background())

	if len(exec.executed()) != 2 {
		t.Fatalf("executed %d runs, want 2 (panic must not stop the drain)", len(exec.executed()))
	}
}

func TestStartAndStop(t *testing.T) {
	st := store.NewMemoryStore()
	seedQueuedRun(t, st, "inst-1")

	done := make(chan uuid.UUID, 1)
	exec := &recordingExecutor{
		execute: func(_ context.Context, runID uuid.UUID) error {
			select {
			case done <- runID:
			default:
			}
			return nil
		},
	}
	w := New(Config{Store: st, Executor: exec, Interval: 10 * time.Millisecond})

	w.Start(context.Background())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not pick up the queued run")
	}

	// Stop идемпотентен.
	w.Stop()
	w.Stop()
}

func TestStopDoesNotCancelInFlightRun(t *testing.T) {
	st := store.NewMemoryStore()
	seedQueuedRun(t, st, "inst-1")

	started := make(chan struct{})
	release := make(chan struct{})
	ctxErr := make(chan error, 1)
	exec := &recordingExecutor{
		execute: func(ctx context.Context, _ uuid.UUID) error {
			close(started)
			<-release
			ctxErr <- ctx.Err()
			return nil
		},
	}
	w := New(Config{Store: st, Executor: exec, Interval: time.Hour})

	w.Start(context.Background())

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not pick up the queued run")
	}

	// Останавливаем воркер посреди выполнения run.
	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	time.Sleep(20 * time.Millisecond) // даём Stop отменить контекст цикла
	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not wait for the in-flight run")
	}

	// Контекст начатого run переживает остановку цикла.
	if err := <-ctxErr; err != nil {
		t.Fatalf("in-flight run context canceled by Stop: %v", err)
	}
}
