package toolapi

import (
	"encoding/json"

	"github.com/shaiso/Pressline/internal/domain"
)

// Envelope — конверт любого ответа Tool API: {ok, data, error}.
type Envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// APIError — ошибка в конверте ответа.
type APIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// RollbackHandle — компенсирующее действие, возвращённое Tool API.
type RollbackHandle struct {
	HandleID string          `json:"handle_id"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// CreatePageRequest — тело запроса content/create-page.
type CreatePageRequest struct {
	RunID  string          `json:"run_id"`
	StepID string          `json:"step_id"`
	Page   domain.PageSpec `json:"page"`
}

// CreatePageResult — результат создания одной страницы.
type CreatePageResult struct {
	ItemID         int64           `json:"item_id"`
	RollbackHandle *RollbackHandle `json:"rollback_handle,omitempty"`
}

// BulkCreateRequest — тело запроса content/bulk-create.
type BulkCreateRequest struct {
	RunID  string            `json:"run_id"`
	StepID string            `json:"step_id"`
	Items  []domain.PageSpec `json:"items"`
}

// BulkCreateResult — результат постановки bulk job в очередь.
type BulkCreateResult struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Статусы bulk job на стороне Tool API.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// JobError — одна ошибка, о которой сообщил bulk job.
type JobError struct {
	Message string `json:"message"`
}

// JobStatusResult — снимок состояния bulk job.
//
// Progress хранится нетипизированным: удалённая сторона не гарантирует
// ни наличие created_items, ни его числовой тип.
type JobStatusResult struct {
	JobID           string           `json:"job_id"`
	Status          string           `json:"status"`
	Progress        map[string]any   `json:"progress,omitempty"`
	RollbackHandles []RollbackHandle `json:"rollback_handles,omitempty"`
	Errors          []JobError       `json:"errors,omitempty"`
}

// IsActive возвращает true, пока job ещё выполняется на стороне Tool API.
func (r *JobStatusResult) IsActive() bool {
	return r.Status == JobStatusQueued || r.Status == JobStatusRunning
}

// CreatedItems возвращает progress.created_items, если поле есть
// и является числом.
func (r *JobStatusResult) CreatedItems() (int, bool) {
	if r.Progress == nil {
		return 0, false
	}
	switch v := r.Progress["created_items"].(type) {
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// FirstError возвращает сообщение первой ошибки job, либо пустую строку.
func (r *JobStatusResult) FirstError() string {
	for _, e := range r.Errors {
		if e.Message != "" {
			return e.Message
		}
	}
	return ""
}

// RollbackApplyRequest — тело запроса rollback/apply.
// Rollback применяется одним вызовом для всего run, не по-handle.
type RollbackApplyRequest struct {
	RunID string `json:"run_id"`
}

// RollbackResult — результат применения одного компенсирующего действия.
type RollbackResult struct {
	HandleID string `json:"handle_id"`
	Status   string `json:"status"` // applied | failed
	Error    string `json:"error,omitempty"`
}

// RollbackApplyResult — результаты применения rollback по всем handles.
type RollbackApplyResult struct {
	Results []RollbackResult `json:"results"`
}

// Статусы применения компенсирующего действия.
const (
	RollbackApplied = "applied"
	RollbackFailed  = "failed"
)
