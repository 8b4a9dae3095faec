package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RunMode — режим выполнения run.
type RunMode string

const (
	// ModeSingle — одиночная запись: один вызов content/create-page.
	ModeSingle RunMode = "single"

	// ModeBulk — массовая запись: content/bulk-create плюс опрос job.
	ModeBulk RunMode = "bulk"
)

// Ошибки валидации input_payload.
var (
	// ErrEmptyInput — input_payload отсутствует или пуст.
	ErrEmptyInput = errors.New("input payload is empty")

	// ErrInvalidMode — неизвестный режим выполнения.
	ErrInvalidMode = errors.New("invalid run mode")

	// ErrEmptyStepID — не указан целевой шаг.
	ErrEmptyStepID = errors.New("step_id is empty")

	// ErrNoPages — список страниц пуст.
	ErrNoPages = errors.New("pages list is empty")
)

// PageSpec — описание одной страницы для создания через Tool API.
type PageSpec struct {
	// Title — заголовок страницы.
	Title string `json:"title"`

	// Content — содержимое страницы (HTML/blocks, движок внутрь не заглядывает).
	Content string `json:"content"`

	// Slug — URL-слаг страницы (опционально).
	Slug string `json:"slug,omitempty"`

	// Status — статус публикации WordPress (draft, publish, ...).
	Status string `json:"status,omitempty"`

	// Meta — произвольные метаполя страницы.
	Meta map[string]any `json:"meta,omitempty"`
}

// RunInput — провалидированные параметры выполнения run.
//
// Опасная зона «нетипизированного JSON» заканчивается здесь: Executor
// парсит input_payload ровно один раз на входе, дальше по машине
// состояний ходит только типизированная структура.
type RunInput struct {
	// Mode — режим выполнения.
	Mode RunMode `json:"mode"`

	// StepID — целевой шаг run.
	StepID string `json:"step_id"`

	// Pages — непустой список страниц.
	Pages []PageSpec `json:"pages"`
}

// ParseRunInput парсит и валидирует input_payload run.
//
// Проверяет:
// - Полезная нагрузка не пуста и является валидным JSON
// - Режим — single либо bulk
// - step_id не пуст (пробельные строки считаются пустыми)
// - Список страниц не пуст
func ParseRunInput(raw json.RawMessage) (*RunInput, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyInput
	}

	var input RunInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("unmarshal input payload: %w", err)
	}

	switch input.Mode {
	case ModeSingle, ModeBulk:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, input.Mode)
	}

	input.StepID = strings.TrimSpace(input.StepID)
	if input.StepID == "" {
		return nil, ErrEmptyStepID
	}

	if len(input.Pages) == 0 {
		return nil, ErrNoPages
	}

	return &input, nil
}
