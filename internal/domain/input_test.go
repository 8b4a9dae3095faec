package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseRunInputValid(t *testing.T) {
	raw := json.RawMessage(`{"mode":"bulk","step_id":" publish ","pages":[{"title":"a","content":"<p>x</p>","status":"draft"}]}`)

	input, err := ParseRunInput(raw)
	if err != nil {
		t.Fatalf("ParseRunInput: %v", err)
	}
	if input.Mode != ModeBulk {
		t.Errorf("mode = %s, want bulk", input.Mode)
	}
	// step_id нормализуется обрезкой пробелов.
	if input.StepID != "publish" {
		t.Errorf("step_id = %q, want trimmed", input.StepID)
	}
	if len(input.Pages) != 1 || input.Pages[0].Title != "a" {
		t.Errorf("pages = %+v", input.Pages)
	}
}

func TestParseRunInputErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty payload", "", ErrEmptyInput},
		{"unknown mode", `{"mode":"parallel","step_id":"s","pages":[{"title":"a"}]}`, ErrInvalidMode},
		{"blank step id", `{"mode":"single","step_id":"   ","pages":[{"title":"a"}]}`, ErrEmptyStepID},
		{"no pages", `{"mode":"single","step_id":"s","pages":[]}`, ErrNoPages},
		{"missing pages", `{"mode":"single","step_id":"s"}`, ErrNoPages},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRunInput(json.RawMessage(tt.raw))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseRunInputMalformedJSON(t *testing.T) {
	_, err := ParseRunInput(json.RawMessage(`{"mode":`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestRunStatusIsActive(t *testing.T) {
	active := []RunStatus{RunStatusQueued, RunStatusRunning, RunStatusRollingBack}
	for _, s := range active {
		if !s.IsActive() {
			t.Errorf("%s.IsActive() = false, want true", s)
		}
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
	}

	terminal := []RunStatus{RunStatusCompleted, RunStatusFailed, RunStatusRolledBack, RunStatusRollbackFailed}
	for _, s := range terminal {
		if s.IsActive() {
			t.Errorf("%s.IsActive() = true, want false", s)
		}
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", s)
		}
	}
}
