package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/shaiso/Conveyor/internal/domain"
)

const (
	// Значения по умолчанию.
	defaultAPITimeout = 5000 * time.Millisecond
	maxResponseBody   = 10 * 1024 * 1024 // 10 MB
)

// Ключи конфигурации apiCall.
const (
	configRequestMethod = "requestMethod"
	configMethod        = "method"
	configURL           = "url"
	configHeaders       = "headers"
	configBody          = "body"
	configQueryParams   = "queryParams"
	configTimeout       = "timeout"
	configRetryCount    = "retryCount"
)

// APICallStep — шаг исходящего HTTP запроса.
//
// Конфигурация:
//
//	{
//	    "requestMethod": "POST",
//	    "url": "https://api.example.com/data",
//	    "headers": {"Authorization": "Bearer {{body.token}}"},
//	    "body": {"items": "{{outputs.fetch.data.items}}"},
//	    "queryParams": {"page": 2},
//	    "timeout": 5000,     // мс
//	    "retryCount": 3
//	}
//
// При ошибке транспорта или статусе вне 2xx запрос повторяется целиком
// до retryCount раз, затем шаг падает.
//
// Output:
//
//	{
//	    "status": 200,
//	    "headers": {"Content-Type": "application/json"},
//	    "data": {...}  // разобранный JSON или строка
//	}
type APICallStep struct {
	client *http.Client
}

// NewAPICallStep создаёт новый APICallStep.
func NewAPICallStep() *APICallStep {
	return &APICallStep{
		client: &http.Client{},
	}
}

// Type возвращает тип шага.
func (s *APICallStep) Type() domain.StepType {
	return domain.StepTypeAPICall
}

// Execute выполняет HTTP запрос с повторами.
func (s *APICallStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	cfg, err := s.parseConfig(req.Config)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if req.Timeout > 0 && req.Timeout < timeout {
		timeout = req.Timeout
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.RetryCount; attempt++ {
		output, err := s.do(ctx, cfg, timeout)
		if err == nil {
			return NewResponse(output), nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		}
	}

	return nil, fmt.Errorf("%w: api call failed after %d attempt(s): %w",
		ErrHandlerFailure, cfg.RetryCount+1, lastErr)
}

// apiCallConfig — распарсенная конфигурация apiCall.
type apiCallConfig struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        any
	QueryParams map[string]string
	Timeout     time.Duration
	RetryCount  int
}

// parseConfig парсит конфигурацию шага.
func (s *APICallStep) parseConfig(config map[string]any) (*apiCallConfig, error) {
	cfg := &apiCallConfig{
		Method:      GetConfigString(config, configRequestMethod),
		URL:         GetConfigString(config, configURL),
		Headers:     GetConfigMapString(config, configHeaders),
		Body:        config[configBody],
		QueryParams: GetConfigMapString(config, configQueryParams),
		Timeout:     defaultAPITimeout,
		RetryCount:  GetConfigInt(config, configRetryCount),
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: %s: url is required", ErrInvalidConfig, domain.StepTypeAPICall)
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("%w: %s: invalid url: %v", ErrInvalidConfig, domain.StepTypeAPICall, err)
	}

	if cfg.Method == "" {
		cfg.Method = GetConfigString(config, configMethod)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	cfg.Method = strings.ToUpper(cfg.Method)

	if ms := GetConfigInt(config, configTimeout); ms > 0 {
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}

	return cfg, nil
}

// do выполняет одну попытку запроса.
func (s *APICallStep) do(ctx context.Context, cfg *apiCallConfig, timeout time.Duration) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := s.buildRequest(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	output, err := s.parseResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       toString(output["data"]),
		}
	}

	return output, nil
}

// buildRequest создаёт HTTP запрос.
func (s *APICallStep) buildRequest(ctx context.Context, cfg *apiCallConfig) (*http.Request, error) {
	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if len(cfg.QueryParams) > 0 {
		q := target.Query()
		for k, v := range cfg.QueryParams {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	var bodyReader io.Reader
	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	if cfg.Body != nil && cfg.Method != http.MethodGet && cfg.Method != http.MethodHead {
		bodyBytes, err := serializeBody(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)

		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, target.String(), bodyReader)
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// serializeBody сериализует body в bytes.
func serializeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// parseResponse читает ответ. JSON тело разбирается через gjson
// независимо от Content-Type.
func (s *APICallStep) parseResponse(resp *http.Response) (map[string]any, error) {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var data any
	if len(bodyBytes) > 0 && gjson.ValidBytes(bodyBytes) {
		data = gjson.ParseBytes(bodyBytes).Value()
	} else {
		data = string(bodyBytes)
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"data":    data,
	}, nil
}

// HTTPError — ответ со статусом вне 2xx.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}
