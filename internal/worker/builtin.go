package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shaiso/conveyor/internal/registry"
	"github.com/shaiso/conveyor/internal/telemetry"
)

// Имена встроенных handler'ов.
const (
	HandlerHTTP  = "http.request"
	HandlerDelay = "delay"
	HandlerEcho  = "echo"
)

const defaultHTTPTimeout = 30 * time.Second

// RegisterBuiltins регистрирует встроенные handler'ы:
//   - http.request — HTTP-запрос по kwargs
//   - delay — ожидание kwargs["duration_sec"] секунд
//   - echo — возвращает kwargs (или args, если kwargs пуст)
func RegisterBuiltins(reg *registry.Registry) {
	reg.Register(HandlerHTTP, HTTPRequest)
	reg.Register(HandlerDelay, Delay)
	reg.Register(HandlerEcho, Echo)
}

// HTTPRequest выполняет HTTP-запрос.
//
// Kwargs:
//   - method (string): HTTP-метод. Default: GET
//   - url (string): URL для запроса (обязательно)
//   - headers (map[string]any): HTTP-заголовки
//   - body (any): тело запроса (сериализуется в JSON)
//   - timeout_sec (number): таймаут запроса в секундах. Default: 30
//
// Результат: map с status_code, headers и body (JSON или строка).
// Ответ с кодом >= 400 считается ошибкой выполнения и повторяется.
func HTTPRequest(ctx context.Context, _ []any, kwargs map[string]any) (any, error) {
	method := getString(kwargs, "method", http.MethodGet)
	url := getString(kwargs, "url", "")
	if url == "" {
		return nil, fmt.Errorf("%w: url is required", ErrHTTPRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, getTimeout(kwargs, "timeout_sec", defaultHTTPTimeout))
	defer cancel()

	var bodyReader io.Reader
	if body, ok := kwargs["body"]; ok && body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal body: %v", ErrHTTPRequest, err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}

	setHeaders(req, kwargs)
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}

	telemetry.FromContext(ctx).Debug("http request done",
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"bytes", len(respBody),
	)

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrHTTPRequest, resp.StatusCode, truncate(string(respBody), 200))
	}

	return buildOutputs(resp, respBody), nil
}

// Delay ждёт kwargs["duration_sec"] секунд (default: 1).
func Delay(ctx context.Context, _ []any, kwargs map[string]any) (any, error) {
	duration := getTimeout(kwargs, "duration_sec", time.Second)

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return map[string]any{"delayed_sec": duration.Seconds()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Echo возвращает входные данные без изменений.
func Echo(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	if len(kwargs) > 0 {
		return kwargs, nil
	}
	if args == nil {
		return []any{}, nil
	}
	return args, nil
}

func buildOutputs(resp *http.Response, body []byte) map[string]any {
	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	var parsedBody any
	if err := json.Unmarshal(body, &parsedBody); err != nil {
		parsedBody = string(body)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        parsedBody,
	}
}

func getString(m map[string]any, key, defaultVal string) string {
	if val, ok := m[key]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return defaultVal
}

// getTimeout читает длительность в секундах; неположительное
// или нечисловое значение заменяется на defaultVal.
func getTimeout(m map[string]any, key string, defaultVal time.Duration) time.Duration {
	val, ok := m[key]
	if !ok {
		return defaultVal
	}
	sec, err := registry.ToFloat(val)
	if err != nil || sec <= 0 {
		return defaultVal
	}
	return time.Duration(sec * float64(time.Second))
}

func setHeaders(req *http.Request, kwargs map[string]any) {
	switch h := kwargs["headers"].(type) {
	case map[string]any:
		for key, val := range h {
			if s, ok := val.(string); ok {
				req.Header.Set(key, s)
			}
		}
	case map[string]string:
		for key, val := range h {
			req.Header.Set(key, val)
		}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
