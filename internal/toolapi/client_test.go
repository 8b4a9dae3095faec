package toolapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shaiso/Pressline/internal/domain"
)

func envelope(t *testing.T, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	body, err := json.Marshal(map[string]any{"ok": true, "data": json.RawMessage(raw)})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return body
}

func TestCreatePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/content/create-page" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}

		var req CreatePageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Page.Title != "About" {
			t.Errorf("title = %q", req.Page.Title)
		}

		w.Write(envelope(t, CreatePageResult{
			ItemID:         42,
			RollbackHandle: &RollbackHandle{HandleID: "h-1", Kind: "delete_page"},
		}))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Token: "secret"})

	result, err := client.CreatePage(context.Background(), CreatePageRequest{
		RunID:  "r-1",
		StepID: "publish",
		Page:   domain.PageSpec{Title: "About", Content: "<p>hi</p>"},
	})
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if result.ItemID != 42 {
		t.Errorf("item id = %d, want 42", result.ItemID)
	}
	if result.RollbackHandle == nil || result.RollbackHandle.HandleID != "h-1" {
		t.Errorf("rollback handle = %+v", result.RollbackHandle)
	}
}

func TestJobStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/jobs/job-1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write(envelope(t, JobStatusResult{
			JobID:    "job-1",
			Status:   JobStatusCompleted,
			Progress: map[string]any{"created_items": 3},
		}))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})

	result, err := client.JobStatus(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if result.IsActive() {
		t.Error("completed job reported as active")
	}
	created, ok := result.CreatedItems()
	if !ok || created != 3 {
		t.Errorf("created items = (%d, %v), want (3, true)", created, ok)
	}
}

func TestCreatedItemsMissingOrMalformed(t *testing.T) {
	// progress отсутствует
	r := &JobStatusResult{Status: JobStatusCompleted}
	if _, ok := r.CreatedItems(); ok {
		t.Error("CreatedItems ok = true for missing progress")
	}

	// created_items не число
	r = &JobStatusResult{Progress: map[string]any{"created_items": "many"}}
	if _, ok := r.CreatedItems(); ok {
		t.Error("CreatedItems ok = true for non-numeric value")
	}
}

func TestDoErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"ok":false,"error":{"code":"invalid_token","message":"token expired"}}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})

	_, err := client.BulkCreate(context.Background(), BulkCreateRequest{RunID: "r-1"})
	if err == nil {
		t.Fatal("expected error for ok=false envelope")
	}
	if !strings.Contains(err.Error(), "token expired") {
		t.Errorf("error = %v, want api message", err)
	}
}

func TestDoMalformedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})

	_, err := client.JobStatus(context.Background(), "job-1")
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Errorf("err = %v, want ErrMalformedEnvelope", err)
	}
}

func TestDoNon2xxStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})

	_, err := client.ApplyRollback(context.Background(), RollbackApplyRequest{RunID: "r-1"})
	if err == nil {
		t.Fatal("expected error for 504 response")
	}
	if !strings.Contains(err.Error(), "504") {
		t.Errorf("error = %v, want status code", err)
	}
}

func TestJobStatusEscapesID(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write(envelope(t, JobStatusResult{Status: JobStatusRunning}))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})

	if _, err := client.JobStatus(context.Background(), "job/1"); err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if gotPath != "/jobs/job%2F1" {
		t.Errorf("path = %q, want escaped job id", gotPath)
	}
}
