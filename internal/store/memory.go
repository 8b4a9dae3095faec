package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Pressline/internal/domain"
)

// MemoryStore — реализация Store в памяти.
//
// Используется в тестах вместо PostgresStore. Все операции защищены
// одним мьютексом, наружу отдаются копии записей, поэтому хранилище
// безопасно для конкурентного использования.
type MemoryStore struct {
	mu sync.Mutex

	runs      map[uuid.UUID]*domain.Run
	steps     map[uuid.UUID][]*domain.RunStep
	events    map[uuid.UUID][]*domain.RunEvent
	rollbacks map[uuid.UUID][]*domain.RollbackHandle

	nextEventID    int64
	nextRollbackID int64
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      make(map[uuid.UUID]*domain.Run),
		steps:     make(map[uuid.UUID][]*domain.RunStep),
		events:    make(map[uuid.UUID][]*domain.RunEvent),
		rollbacks: make(map[uuid.UUID][]*domain.RollbackHandle),
	}
}

// CreateRun атомарно создаёт run вместе с шагами.
func (s *MemoryStore) CreateRun(_ context.Context, spec RunSpec) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[spec.RunID]; ok {
		return nil, ErrAlreadyExists
	}

	for _, r := range s.runs {
		if r.InstallationID == spec.InstallationID && r.Status.IsActive() {
			return nil, ErrActiveRunExists
		}
	}

	now := time.Now().UTC()
	run := &domain.Run{
		ID:               spec.RunID,
		InstallationID:   spec.InstallationID,
		WPUserID:         spec.WPUserID,
		PlanID:           spec.PlanID,
		Status:           domain.RunStatusQueued,
		PlannedSteps:     spec.PlannedSteps,
		PlannedToolCalls: spec.PlannedToolCalls,
		PlannedPages:     spec.PlannedPages,
		InputPayload:     spec.InputPayload,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.runs[spec.RunID] = run

	steps := make([]*domain.RunStep, 0, len(spec.Steps))
	for _, st := range spec.Steps {
		steps = append(steps, &domain.RunStep{
			RunID:            spec.RunID,
			StepID:           st.StepID,
			Status:           domain.StepStatusQueued,
			PlannedToolCalls: st.PlannedToolCalls,
			PlannedPages:     st.PlannedPages,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
	s.steps[spec.RunID] = steps

	return cloneRun(run), nil
}

// GetRun возвращает run по ID.
func (s *MemoryStore) GetRun(_ context.Context, runID uuid.UUID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(run), nil
}

// GetRunDetails возвращает run вместе со всеми связанными записями.
func (s *MemoryStore) GetRunDetails(_ context.Context, runID uuid.UUID) (*RunDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}

	details := &RunDetails{Run: *cloneRun(run)}

	for _, st := range s.steps[runID] {
		details.Steps = append(details.Steps, *st)
	}

	events := make([]*domain.RunEvent, len(s.events[runID]))
	copy(events, s.events[runID])
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.Before(events[j].CreatedAt)
		}
		return events[i].ID < events[j].ID
	})
	for _, ev := range events {
		details.Events = append(details.Events, *ev)
	}

	for _, h := range s.rollbacks[runID] {
		details.Rollbacks = append(details.Rollbacks, *h)
	}

	return details, nil
}

// ListRuns возвращает runs для installation, новые первыми.
func (s *MemoryStore) ListRuns(_ context.Context, installationID string, limit int) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runs []domain.Run
	for _, r := range s.runs {
		if r.InstallationID == installationID {
			runs = append(runs, *cloneRun(r))
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// ActiveRunForInstallation возвращает самый свежий активный run installation.
func (s *MemoryStore) ActiveRunForInstallation(_ context.Context, installationID string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.Run
	for _, r := range s.runs {
		if r.InstallationID != installationID || !r.Status.IsActive() {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return cloneRun(latest), nil
}

// ClaimNextQueuedRun атомарно забирает самый старый queued run.
func (s *MemoryStore) ClaimNextQueuedRun(_ context.Context) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *domain.Run
	for _, r := range s.runs {
		if r.Status != domain.RunStatusQueued {
			continue
		}
		if oldest == nil || r.CreatedAt.Before(oldest.CreatedAt) {
			oldest = r
		}
	}
	if oldest == nil {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	oldest.Status = domain.RunStatusRunning
	if oldest.StartedAt == nil {
		oldest.StartedAt = &now
	}
	oldest.UpdatedAt = now

	return cloneRun(oldest), nil
}

// SetRunStatus обновляет статус run; nil-поля не меняются.
func (s *MemoryStore) SetRunStatus(_ context.Context, runID uuid.UUID, upd RunStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}

	run.Status = upd.Status
	if upd.ErrorCode != nil {
		run.ErrorCode = *upd.ErrorCode
	}
	if upd.ErrorMessage != nil {
		run.ErrorMessage = *upd.ErrorMessage
	}
	if upd.StartedAt != nil {
		run.StartedAt = timePtr(*upd.StartedAt)
	}
	if upd.FinishedAt != nil {
		run.FinishedAt = timePtr(*upd.FinishedAt)
	}
	run.UpdatedAt = time.Now().UTC()
	return nil
}

// SetRunCounts перезаписывает фактические объёмы работы run.
func (s *MemoryStore) SetRunCounts(_ context.Context, runID uuid.UUID, toolCalls, pages int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}
	run.ActualToolCalls = toolCalls
	run.ActualPages = pages
	run.UpdatedAt = time.Now().UTC()
	return nil
}

// SetRunRollbackAvailable выставляет флаг доступности rollback.
func (s *MemoryStore) SetRunRollbackAvailable(_ context.Context, runID uuid.UUID, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}
	run.RollbackAvailable = available
	run.UpdatedAt = time.Now().UTC()
	return nil
}

// SetRunStepStatus обновляет один шаг run; nil-поля не меняются.
func (s *MemoryStore) SetRunStepStatus(_ context.Context, runID uuid.UUID, stepID string, upd StepStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.steps[runID] {
		if st.StepID != stepID {
			continue
		}
		st.Status = upd.Status
		if upd.ErrorCode != nil {
			st.ErrorCode = *upd.ErrorCode
		}
		if upd.ErrorMessage != nil {
			st.ErrorMessage = *upd.ErrorMessage
		}
		if upd.StartedAt != nil {
			st.StartedAt = timePtr(*upd.StartedAt)
		}
		if upd.FinishedAt != nil {
			st.FinishedAt = timePtr(*upd.FinishedAt)
		}
		if upd.ActualToolCalls != nil {
			st.ActualToolCalls = *upd.ActualToolCalls
		}
		if upd.ActualPages != nil {
			st.ActualPages = *upd.ActualPages
		}
		st.UpdatedAt = time.Now().UTC()
		return nil
	}
	return ErrNotFound
}

// FailActiveSteps переводит все активные шаги run в failed.
func (s *MemoryStore) FailActiveSteps(_ context.Context, runID uuid.UUID, code domain.ErrorCode, message string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	for _, st := range s.steps[runID] {
		if !st.Status.IsActive() {
			continue
		}
		st.Status = domain.StepStatusFailed
		st.ErrorCode = code
		st.ErrorMessage = message
		st.FinishedAt = timePtr(finishedAt)
		st.UpdatedAt = now
	}
	return nil
}

// AppendRunEvent добавляет запись в аудит-лог run.
func (s *MemoryStore) AppendRunEvent(_ context.Context, runID uuid.UUID, eventType domain.EventType, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEventID++
	s.events[runID] = append(s.events[runID], &domain.RunEvent{
		ID:        s.nextEventID,
		RunID:     runID,
		Type:      eventType,
		Payload:   clonePayload(payload),
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// AddRunRollbacks записывает компенсирующие действия в статусе pending.
// Идемпотентна по (run_id, handle_id).
func (s *MemoryStore) AddRunRollbacks(_ context.Context, runID uuid.UUID, handles []domain.RollbackHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]bool, len(s.rollbacks[runID]))
	for _, h := range s.rollbacks[runID] {
		existing[h.HandleID] = true
	}

	now := time.Now().UTC()
	for _, h := range handles {
		if existing[h.HandleID] {
			continue
		}
		existing[h.HandleID] = true

		s.nextRollbackID++
		s.rollbacks[runID] = append(s.rollbacks[runID], &domain.RollbackHandle{
			ID:        s.nextRollbackID,
			RunID:     runID,
			HandleID:  h.HandleID,
			Kind:      h.Kind,
			Status:    domain.RollbackStatusPending,
			Payload:   h.Payload,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return nil
}

// SetRunRollbackStatus обновляет одно действие по (run_id, handle_id).
func (s *MemoryStore) SetRunRollbackStatus(_ context.Context, runID uuid.UUID, handleID string, upd RollbackStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.rollbacks[runID] {
		if h.HandleID != handleID {
			continue
		}
		h.Status = upd.Status
		if upd.Error != nil {
			h.Error = *upd.Error
		}
		if upd.AppliedAt != nil {
			h.AppliedAt = timePtr(*upd.AppliedAt)
		}
		h.UpdatedAt = time.Now().UTC()
		return nil
	}
	return ErrNotFound
}

// ListPendingRollbacks возвращает pending-действия run в порядке записи.
func (s *MemoryStore) ListPendingRollbacks(_ context.Context, runID uuid.UUID) ([]domain.RollbackHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []domain.RollbackHandle
	for _, h := range s.rollbacks[runID] {
		if h.Status == domain.RollbackStatusPending {
			pending = append(pending, *h)
		}
	}
	return pending, nil
}

// ListStaleActiveRuns возвращает активные runs старше cutoff, старые первыми.
func (s *MemoryStore) ListStaleActiveRuns(_ context.Context, cutoff time.Time, limit int) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []domain.Run
	for _, r := range s.runs {
		if r.Status.IsActive() && r.EffectiveStart().Before(cutoff) {
			stale = append(stale, *cloneRun(r))
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].EffectiveStart().Before(stale[j].EffectiveStart())
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// --- Helpers ---

// cloneRun возвращает копию run, безопасную для использования вне мьютекса.
func cloneRun(r *domain.Run) *domain.Run {
	c := *r
	if r.StartedAt != nil {
		c.StartedAt = timePtr(*r.StartedAt)
	}
	if r.FinishedAt != nil {
		c.FinishedAt = timePtr(*r.FinishedAt)
	}
	return &c
}

// clonePayload делает поверхностную копию payload события.
func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	c := make(map[string]any, len(payload))
	for k, v := range payload {
		c[k] = v
	}
	return c
}

// timePtr возвращает указатель на копию времени.
func timePtr(t time.Time) *time.Time {
	return &t
}
