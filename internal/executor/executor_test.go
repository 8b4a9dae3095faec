package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Pressline/internal/domain"
	"github.com/shaiso/Pressline/internal/store"
	"github.com/shaiso/Pressline/internal/toolapi"
)

// fakeTool — подменный ToolClient с поведением на функциях.
type fakeTool struct {
	createPage    func(req toolapi.CreatePageRequest) (*toolapi.CreatePageResult, error)
	bulkCreate    func(req toolapi.BulkCreateRequest) (*toolapi.BulkCreateResult, error)
	jobStatus     func(jobID string) (*toolapi.JobStatusResult, error)
	applyRollback func(req toolapi.RollbackApplyRequest) (*toolapi.RollbackApplyResult, error)
}

func (f *fakeTool) CreatePage(_ context.Context, req toolapi.CreatePageRequest) (*toolapi.CreatePageResult, error) {
	if f.createPage == nil {
		return nil, errors.New("unexpected CreatePage call")
	}
	return f.createPage(req)
}

func (f *fakeTool) BulkCreate(_ context.Context, req toolapi.BulkCreateRequest) (*toolapi.BulkCreateResult, error) {
	if f.bulkCreate == nil {
		return nil, errors.New("unexpected BulkCreate call")
	}
	return f.bulkCreate(req)
}

func (f *fakeTool) JobStatus(_ context.Context, jobID string) (*toolapi.JobStatusResult, error) {
	if f.jobStatus == nil {
		return nil, errors.New("unexpected JobStatus call")
	}
	return f.jobStatus(jobID)
}

func (f *fakeTool) ApplyRollback(_ context.Context, req toolapi.RollbackApplyRequest) (*toolapi.RollbackApplyResult, error) {
	if f.applyRollback == nil {
		return nil, errors.New("unexpected ApplyRollback call")
	}
	return f.applyRollback(req)
}

func newTestExecutor(t *testing.T, st store.Store, tool ToolClient) *Executor {
	t.Helper()
	return New(Config{
		Store:        st,
		Tool:         tool,
		PollInterval: time.Millisecond,
		PollAttempts: 5,
	})
}

// seedRun создаёт queued run с одним шагом и заданным input_payload.
func seedRun(t *testing.T, st store.Store, payload string) *domain.Run {
	t.Helper()

	run, err := st.CreateRun(context.Background(), store.RunSpec{
		RunID:            uuid.New(),
		InstallationID:   "inst-" + uuid.NewString(),
		WPUserID:         7,
		PlanID:           uuid.New(),
		PlannedSteps:     1,
		PlannedToolCalls: 1,
		PlannedPages:     1,
		InputPayload:     json.RawMessage(payload),
		Steps:            []store.StepSpec{{StepID: "publish", PlannedToolCalls: 1, PlannedPages: 1}},
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return run
}

func getDetails(t *testing.T, st store.Store, runID uuid.UUID) *store.RunDetails {
	t.Helper()
	details, err := st.GetRunDetails(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRunDetails: %v", err)
	}
	return details
}

func hasEvent(details *store.RunDetails, eventType domain.EventType) bool {
	for _, ev := range details.Events {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

func TestExecuteRunSingleSuccess(t *testing.T) {
	st := store.NewMemoryStore()
	tool := &fakeTool{
		createPage: func(req toolapi.CreatePageRequest) (*toolapi.CreatePageResult, error) {
			if req.StepID != "publish" {
				t.Errorf("unexpected step id: %q", req.StepID)
			}
			if req.Page.Title != "About" {
				t.Errorf("unexpected page title: %q", req.Page.Title)
			}
			return &toolapi.CreatePageResult{
				ItemID:         42,
				RollbackHandle: &toolapi.RollbackHandle{HandleID: "h-1", Kind: "delete_page"},
			}, nil
		},
	}
	exec := newTestExecutor(t, st, tool)

	run := seedRun(t, st, `{"mode":"single","step_id":"publish","pages":[{"title":"About","content":"<p>hi</p>"}]}`)

	if err := exec.ExecuteRun(context.Background(), run.ID, run.InstallationID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	details := getDetails(t, st, run.ID)
	if details.Run.Status != domain.RunStatusCompleted {
		t.Fatalf("run status = %s, want completed", details.Run.Status)
	}
	if details.Run.ActualToolCalls != 1 || details.Run.ActualPages != 1 {
		t.Errorf("actual counts = (%d, %d), want (1, 1)", details.Run.ActualToolCalls, details.Run.ActualPages)
	}
	if !details.Run.RollbackAvailable {
		t.Error("rollback_available = false, want true")
	}
	if details.Run.FinishedAt == nil {
		t.Error("finished_at is not set")
	}
	if len(details.Steps) != 1 || details.Steps[0].Status != domain.StepStatusCompleted {
		t.Errorf("step not completed: %+v", details.Steps)
	}
	if len(details.Rollbacks) != 1 || details.Rollbacks[0].HandleID != "h-1" {
		t.Errorf("rollback handles = %+v, want one h-1", details.Rollbacks)
	}
	for _, want := range []domain.EventType{domain.EventRunStarted, domain.EventToolCalled, domain.EventRunCompleted} {
		if !hasEvent(details, want) {
			t.Errorf("missing event %s", want)
		}
	}
}

func TestExecuteRunInvalidInput(t *testing.T) {
	st := store.NewMemoryStore()
	exec := newTestExecutor(t, st, &fakeTool{})

	run := seedRun(t, st, `{"mode":"teleport","step_id":"publish","pages":[{"title":"x"}]}`)

	if err := exec.ExecuteRun(context.Background(), run.ID, run.InstallationID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	details := getDetails(t, st, run.ID)
	if details.Run.Status != domain.RunStatusFailed {
		t.Fatalf("run status = %s, want failed", details.Run.Status)
	}
	if details.Run.ErrorCode != domain.CodeInvalidInput {
		t.Errorf("error code = %s, want %s", details.Run.ErrorCode, domain.CodeInvalidInput)
	}
	if len(details.Steps) != 1 || details.Steps[0].Status != domain.StepStatusFailed {
		t.Errorf("active step was not failed: %+v", details.Steps)
	}
	if !hasEvent(details, domain.EventRunFailed) {
		t.Error("missing run_failed event")
	}
}

func TestExecuteRunNotFound(t *testing.T) {
	st := store.NewMemoryStore()
	exec := newTestExecutor(t, st, &fakeTool{})

	// Неизвестный run — молчаливый no-op.
	if err := exec.ExecuteRun(context.Background(), uuid.New(), "inst-1"); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}
}

func TestExecuteRunToolError(t *testing.T) {
	st := store.NewMemoryStore()
	tool := &fakeTool{
		createPage: func(toolapi.CreatePageRequest) (*toolapi.CreatePageResult, error) {
			return nil, errors.New("tool api error: boom")
		},
	}
	exec := newTestExecutor(t, st, tool)

	run := seedRun(t, st, `{"mode":"single","step_id":"publish","pages":[{"title":"x"}]}`)

	// Ошибка Tool API не пробрасывается наверх.
	if err := exec.ExecuteRun(context.Background(), run.ID, run.InstallationID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	details := getDetails(t, st, run.ID)
	if details.Run.Status != domain.RunStatusFailed {
		t.Fatalf("run status = %s, want failed", details.Run.Status)
	}
	if details.Run.ErrorCode != domain.CodeExecutionFailed {
		t.Errorf("error code = %s, want %s", details.Run.ErrorCode, domain.CodeExecutionFailed)
	}
}

func TestExecuteRunBulkSuccess(t *testing.T) {
	st := store.NewMemoryStore()

	polls := 0
	tool := &fakeTool{
		bulkCreate: func(req toolapi.BulkCreateRequest) (*toolapi.BulkCreateResult, error) {
			if len(req.Items) != 3 {
				t.Errorf("bulk items = %d, want 3", len(req.Items))
			}
			return &toolapi.BulkCreateResult{JobID: "job-1", Status: toolapi.JobStatusQueued}, nil
		},
		jobStatus: func(jobID string) (*toolapi.JobStatusResult, error) {
			if jobID != "job-1" {
				t.Errorf("unexpected job id: %q", jobID)
			}
			polls++
			if polls == 1 {
				return &toolapi.JobStatusResult{
					JobID:  jobID,
					Status: toolapi.JobStatusRunning,
					RollbackHandles: []toolapi.RollbackHandle{
						{HandleID: "h-1", Kind: "delete_page"},
						{HandleID: "", Kind: "delete_page"}, // без id — пропускается
					},
				}, nil
			}
			return &toolapi.JobStatusResult{
				JobID:    jobID,
				Status:   toolapi.JobStatusCompleted,
				Progress: map[string]any{"created_items": float64(3)},
				RollbackHandles: []toolapi.RollbackHandle{
					{HandleID: "h-1", Kind: "delete_page"}, // дубликат — идемпотентно
					{HandleID: "h-2", Kind: "delete_page"},
				},
			}, nil
		},
	}
	exec := newTestExecutor(t, st, tool)

	run := seedRun(t, st, `{"mode":"bulk","step_id":"publish","pages":[{"title":"a"},{"title":"b"},{"title":"c"}]}`)

	if err := exec.ExecuteRun(context.Background(), run.ID, run.InstallationID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	details := getDetails(t, st, run.ID)
	if details.Run.Status != domain.RunStatusCompleted {
		t.Fatalf("run status = %s, want completed", details.Run.Status)
	}
	// 1 bulk-create + 2 опроса
	if details.Run.ActualToolCalls != 3 {
		t.Errorf("actual tool calls = %d, want 3", details.Run.ActualToolCalls)
	}
	if details.Run.ActualPages != 3 {
		t.Errorf("actual pages = %d, want 3", details.Run.ActualPages)
	}
	if len(details.Rollbacks) != 2 {
		t.Errorf("rollback handles = %d, want 2 (deduplicated)", len(details.Rollbacks))
	}
	for _, want := range []domain.EventType{domain.EventBulkJobQueued, domain.EventBulkJobPolled, domain.EventRunCompleted} {
		if !hasEvent(details, want) {
			t.Errorf("missing event %s", want)
		}
	}
}

func TestExecuteRunBulkCreatedItemsFallback(t *testing.T) {
	st := store.NewMemoryStore()
	tool := &fakeTool{
		bulkCreate: func(toolapi.BulkCreateRequest) (*toolapi.BulkCreateResult, error) {
			return &toolapi.BulkCreateResult{JobID: "job-1"}, nil
		},
		jobStatus: func(jobID string) (*toolapi.JobStatusResult, error) {
			// completed без progress.created_items
			return &toolapi.JobStatusResult{JobID: jobID, Status: toolapi.JobStatusCompleted}, nil
		},
	}
	exec := newTestExecutor(t, st, tool)

	run := seedRun(t, st, `{"mode":"bulk","step_id":"publish","pages":[{"title":"a"},{"title":"b"}]}`)

	if err := exec.ExecuteRun(context.Background(), run.ID, run.InstallationID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	details := getDetails(t, st, run.ID)
	if details.Run.Status != domain.RunStatusCompleted {
		t.Fatalf("run status = %s, want completed", details.Run.Status)
	}
	// Фолбэк: запрошенное количество страниц.
	if details.Run.ActualPages != 2 {
		t.Errorf("actual pages = %d, want 2", details.Run.ActualPages)
	}
}

func TestExecuteRunBulkTimeout(t *testing.T) {
	st := store.NewMemoryStore()

	polls := 0
	tool := &fakeTool{
		bulkCreate: func(toolapi.BulkCreateRequest) (*toolapi.BulkCreateResult, error) {
			return &toolapi.BulkCreateResult{JobID: "job-slow"}, nil
		},
		jobStatus: func(jobID string) (*toolapi.JobStatusResult, error) {
			polls++
			return &toolapi.JobStatusResult{JobID: jobID, Status: toolapi.JobStatusRunning}, nil
		},
	}
	exec := newTestExecutor(t, st, tool)

	run := seedRun(t, st, `{"mode":"bulk","step_id":"publish","pages":[{"title":"a"}]}`)

	if err := exec.ExecuteRun(context.Background(), run.ID, run.InstallationID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}
	if polls != 5 {
		t.Errorf("polls = %d, want 5 (attempt limit)", polls)
	}

	details := getDetails(t, st, run.ID)
	if details.Run.Status != domain.RunStatusFailed {
		t.Fatalf("run status = %s, want failed", details.Run.Status)
	}
	if details.Run.ErrorCode != domain.CodeExecutionTimeout {
		t.Errorf("error code = %s, want %s", details.Run.ErrorCode, domain.CodeExecutionTimeout)
	}
}

func TestExecuteRunBulkJobFailed(t *testing.T) {
	st := store.NewMemoryStore()
	tool := &fakeTool{
		bulkCreate: func(toolapi.BulkCreateRequest) (*toolapi.BulkCreateResult, error) {
			return &toolapi.BulkCreateResult{JobID: "job-1"}, nil
		},
		jobStatus: func(jobID string) (*toolapi.JobStatusResult, error) {
			return &toolapi.JobStatusResult{
				JobID:    jobID,
				Status:   toolapi.JobStatusFailed,
				Progress: map[string]any{"created_items": float64(1)},
				Errors:   []toolapi.JobError{{Message: "duplicate slug"}},
			}, nil
		},
	}
	exec := newTestExecutor(t, st, tool)

	run := seedRun(t, st, `{"mode":"bulk","step_id":"publish","pages":[{"title":"a"},{"title":"b"}]}`)

	if err := exec.ExecuteRun(context.Background(), run.ID, run.InstallationID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	details := getDetails(t, st, run.ID)
	if details.Run.Status != domain.RunStatusFailed {
		t.Fatalf("run status = %s, want failed", details.Run.Status)
	}
	if details.Run.ErrorCode != domain.CodeExecutionFailed {
		t.Errorf("error code = %s, want %s", details.Run.ErrorCode, domain.CodeExecutionFailed)
	}
	if details.Run.ErrorMessage != "duplicate slug" {
		t.Errorf("error message = %q, want first job error", details.Run.ErrorMessage)
	}
	// Частичный прогресс сохраняется.
	if details.Run.ActualPages != 1 {
		t.Errorf("actual pages = %d, want 1", details.Run.ActualPages)
	}
}

func TestExecuteRunBulkMissingJobID(t *testing.T) {
	st := store.NewMemoryStore()
	tool := &fakeTool{
		bulkCreate: func(toolapi.BulkCreateRequest) (*toolapi.BulkCreateResult, error) {
			return &toolapi.BulkCreateResult{}, nil
		},
	}
	exec := newTestExecutor(t, st, tool)

	run := seedRun(t, st, `{"mode":"bulk","step_id":"publish","pages":[{"title":"a"}]}`)

	if err := exec.ExecuteRun(context.Background(), run.ID, run.InstallationID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	details := getDetails(t, st, run.ID)
	if details.Run.Status != domain.RunStatusFailed {
		t.Fatalf("run status = %s, want failed", details.Run.Status)
	}
	if details.Run.ErrorCode != domain.CodeExecutionFailed {
		t.Errorf("error code = %s, want %s", details.Run.ErrorCode, domain.CodeExecutionFailed)
	}
}
