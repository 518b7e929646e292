package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// HealthResponse — состояние движка из API.
type HealthResponse struct {
	Status           string            `json:"status"`
	Components       map[string]string `json:"components"`
	Problems         []string          `json:"problems,omitempty"`
	OpenBreakers     []string          `json:"open_breakers,omitempty"`
	HalfOpenBreakers []string          `json:"half_open_breakers,omitempty"`
}

// Counters — счётчики tasks.
type Counters struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// StatsResponse — статистика движка из API (подмножество полей).
type StatsResponse struct {
	Running  bool          `json:"running"`
	Uptime   time.Duration `json:"uptime"`
	Run      Counters      `json:"run"`
	Lifetime Counters      `json:"lifetime"`
	Queue    struct {
		Available bool           `json:"available"`
		Depth     map[string]int `json:"depth"`
	} `json:"queue"`
	Pool struct {
		WorkerCount    int     `json:"worker_count"`
		BusyWorkers    int     `json:"busy_workers"`
		CurrentLoad    float64 `json:"current_load"`
		TotalProcessed int64   `json:"total_processed"`
	} `json:"pool"`
	Loop struct {
		Active int `json:"active"`
	} `json:"loop"`
	Breakers map[string]struct {
		State    string `json:"state"`
		Failures int64  `json:"failures"`
		Rejected int64  `json:"rejected"`
	} `json:"breakers"`
}

// ResultResponse — результат task из API.
type ResultResponse struct {
	TaskID          string `json:"task_id"`
	Status          string `json:"status"`
	Result          any    `json:"result,omitempty"`
	Error           string `json:"error,omitempty"`
	ErrorKind       string `json:"error_kind,omitempty"`
	WorkerID        string `json:"worker_id,omitempty"`
	Attempts        int    `json:"attempts"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}

// CancelResponse — результат отмены.
type CancelResponse struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"`
}

// --- Request types ---

// SubmitTaskRequest — отправка task.
type SubmitTaskRequest struct {
	Handler    string         `json:"handler"`
	Args       []any          `json:"args,omitempty"`
	Kwargs     map[string]any `json:"kwargs,omitempty"`
	Priority   string         `json:"priority,omitempty"`
	TimeoutSec float64        `json:"timeout_sec,omitempty"`
	MaxRetries *int           `json:"max_retries,omitempty"`
	Dependency string         `json:"dependency,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для API движка.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

// Health возвращает состояние движка. unhealthy (HTTP 503) не считается ошибкой.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		if err := c.checkError(resp); err != nil {
			return nil, err
		}
	}

	var health HealthResponse
	if err := decodeData(resp.Body, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Stats возвращает статистику движка.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var stats StatsResponse
	err := c.get(ctx, "/api/v1/stats", &stats)
	return &stats, err
}

// SubmitTask отправляет task.
func (c *Client) SubmitTask(ctx context.Context, req SubmitTaskRequest) (string, error) {
	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := c.post(ctx, "/api/v1/tasks", req, &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

// GetResult возвращает результат task. wait > 0 — ждать завершения на сервере.
func (c *Client) GetResult(ctx context.Context, id string, wait time.Duration) (*ResultResponse, error) {
	path := "/api/v1/results/" + url.PathEscape(id)
	if wait > 0 {
		path += "?" + url.Values{"wait": {wait.String()}}.Encode()
	}

	var res ResultResponse
	err := c.get(ctx, path, &res)
	return &res, err
}

// CancelTask отменяет task.
func (c *Client) CancelTask(ctx context.Context, id string) (*CancelResponse, error) {
	var res CancelResponse
	err := c.post(ctx, "/api/v1/tasks/"+url.PathEscape(id)+"/cancel", nil, &res)
	return &res, err
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.doData(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	return c.doData(ctx, http.MethodPost, path, body, result)
}

func (c *Client) doData(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	if result == nil {
		return nil
	}
	return decodeData(resp.Body, result)
}

func decodeData(r io.Reader, result any) error {
	var dr dataResponse
	if err := json.NewDecoder(r).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(dr.Data, result)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error.Code == "" {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
