package toolapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Default configuration values.
const (
	defaultTimeout = 30 * time.Second
)

// ErrMalformedEnvelope — ответ Tool API не является корректным конвертом.
var ErrMalformedEnvelope = errors.New("malformed response envelope")

// Client — HTTP-клиент Tool API.
//
// Каждый ответ приходит в конверте {ok, data, error}; при ok=false
// или некорректном конверте клиент возвращает ошибку — дальше её
// обрабатывает Executor.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Config — конфигурация клиента Tool API.
type Config struct {
	// BaseURL — базовый адрес Tool API.
	BaseURL string

	// Token — токен installation для заголовка Authorization.
	Token string

	// Timeout — таймаут одного HTTP-запроса (default: 30s).
	Timeout time.Duration
}

// NewClient создаёт клиент Tool API.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreatePage создаёт одну страницу.
func (c *Client) CreatePage(ctx context.Context, req CreatePageRequest) (*CreatePageResult, error) {
	var result CreatePageResult
	if err := c.do(ctx, http.MethodPost, "content/create-page", req, &result); err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	return &result, nil
}

// BulkCreate ставит в очередь массовое создание страниц.
func (c *Client) BulkCreate(ctx context.Context, req BulkCreateRequest) (*BulkCreateResult, error) {
	var result BulkCreateResult
	if err := c.do(ctx, http.MethodPost, "content/bulk-create", req, &result); err != nil {
		return nil, fmt.Errorf("bulk create: %w", err)
	}
	return &result, nil
}

// JobStatus возвращает состояние bulk job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*JobStatusResult, error) {
	var result JobStatusResult
	path := "jobs/" + url.PathEscape(jobID)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("job status %s: %w", jobID, err)
	}
	return &result, nil
}

// ApplyRollback применяет все компенсирующие действия run одним вызовом.
func (c *Client) ApplyRollback(ctx context.Context, req RollbackApplyRequest) (*RollbackApplyResult, error) {
	var result RollbackApplyResult
	if err := c.do(ctx, http.MethodPost, "rollback/apply", req, &result); err != nil {
		return nil, fmt.Errorf("apply rollback: %w", err)
	}
	return &result, nil
}

// do выполняет запрос, разворачивает конверт и декодирует data в out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(data, 256))
	}

	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	if !envelope.OK {
		if envelope.Error != nil && envelope.Error.Message != "" {
			return fmt.Errorf("tool api error: %s", envelope.Error.Message)
		}
		return errors.New("tool api error: request rejected")
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("%w: unmarshal data: %v", ErrMalformedEnvelope, err)
		}
	}
	return nil
}

// truncate обрезает тело ответа для сообщения об ошибке.
func truncate(data []byte, limit int) string {
	if len(data) <= limit {
		return string(data)
	}
	return string(data[:limit]) + "..."
}
