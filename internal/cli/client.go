package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// --- Request types ---

// CreateEndpointRequest — запрос на создание endpoint.
type CreateEndpointRequest struct {
	ProjectID   string `json:"project_id"`
	URL         string `json:"endpoint_url"`
	Method      string `json:"request_method"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

// CreateWorkflowRequest — запрос на создание workflow.
type CreateWorkflowRequest struct {
	Name       string        `json:"name"`
	EndpointID string        `json:"endpoint_id"`
	Steps      []domain.Step `json:"steps"`
}

// ListRunsOpts — фильтры для списка runs.
type ListRunsOpts struct {
	WorkflowID string
	Status     string
	Limit      int
}

// CallRequest — вызов пользовательского endpoint.
type CallRequest struct {
	ProjectID string
	Method    string
	Version   string
	Path      string
	Query     url.Values
	Body      json.RawMessage
}

// CallResult — ответ execute trigger.
type CallResult struct {
	RunID   string         `json:"run_id"`
	StepID  string         `json:"step_id,omitempty"`
	Outputs map[string]any `json:"outputs"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Conveyor API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Endpoints ---

// ListEndpoints возвращает endpoints проекта.
func (c *Client) ListEndpoints(ctx context.Context, projectID string) ([]domain.Endpoint, error) {
	var endpoints []domain.Endpoint
	err := c.list(ctx, "/api/v1/endpoints", url.Values{"projectId": {projectID}}, &endpoints)
	return endpoints, err
}

// CreateEndpoint создаёт endpoint.
func (c *Client) CreateEndpoint(ctx context.Context, req CreateEndpointRequest) (*domain.Endpoint, error) {
	var ep domain.Endpoint
	err := c.post(ctx, "/api/v1/endpoints", req, &ep)
	return &ep, err
}

// SetEndpointActive включает или выключает endpoint.
func (c *Client) SetEndpointActive(ctx context.Context, id string, active bool) (*domain.Endpoint, error) {
	var ep domain.Endpoint
	err := c.put(ctx, "/api/v1/endpoints/"+id+"/active", map[string]bool{"is_active": active}, &ep)
	return &ep, err
}

// DeleteEndpoint удаляет endpoint.
func (c *Client) DeleteEndpoint(ctx context.Context, id string) error {
	return c.delete(ctx, "/api/v1/endpoints/"+id)
}

// --- Workflows ---

// ListWorkflows возвращает workflows endpoint.
func (c *Client) ListWorkflows(ctx context.Context, endpointID string) ([]domain.Workflow, error) {
	var workflows []domain.Workflow
	err := c.list(ctx, "/api/v1/workflows", url.Values{"endpointId": {endpointID}}, &workflows)
	return workflows, err
}

// CreateWorkflow создаёт workflow с шагами.
func (c *Client) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := c.post(ctx, "/api/v1/workflows", req, &wf)
	return &wf, err
}

// GetWorkflow возвращает workflow по ID.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := c.get(ctx, "/api/v1/workflows/"+id, &wf)
	return &wf, err
}

// ActivateWorkflow делает workflow активным для его endpoint.
func (c *Client) ActivateWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := c.post(ctx, "/api/v1/workflows/"+id+"/activate", nil, &wf)
	return &wf, err
}

// DeactivateWorkflow выключает workflow.
func (c *Client) DeactivateWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := c.post(ctx, "/api/v1/workflows/"+id+"/deactivate", nil, &wf)
	return &wf, err
}

// DeleteWorkflow удаляет неактивный workflow.
func (c *Client) DeleteWorkflow(ctx context.Context, id string) error {
	return c.delete(ctx, "/api/v1/workflows/"+id)
}

// --- Runs ---

// ListRuns возвращает историю runs с фильтрацией.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]domain.Run, error) {
	params := url.Values{}
	if opts.WorkflowID != "" {
		params.Set("workflowId", opts.WorkflowID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var runs []domain.Run
	err := c.list(ctx, "/api/v1/runs", params, &runs)
	return runs, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	var run domain.Run
	err := c.get(ctx, "/api/v1/runs/"+id, &run)
	return &run, err
}

// Call вызывает пользовательский endpoint через execute trigger.
// При неудачном run возвращает и результат (run_id, outputs), и ошибку.
func (c *Client) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	params := url.Values{}
	for k, v := range req.Query {
		params[k] = v
	}
	params.Set("projectId", req.ProjectID)

	version := req.Version
	if version == "" {
		version = domain.DefaultEndpointVersion
	}
	path := "/api/v1/execute/" + version + "/" + strings.TrimLeft(req.Path, "/") + "?" + params.Encode()

	var body any
	if len(req.Body) > 0 {
		body = req.Body
	}

	resp, err := c.do(ctx, strings.ToUpper(req.Method), path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result CallResult
	_ = json.Unmarshal(data, &result)
	if resp.StatusCode >= 400 {
		apiErr := decodeError(resp.StatusCode, data)
		if result.RunID != "" {
			return &result, apiErr
		}
		return nil, apiErr
	}
	return &result, nil
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.doData(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	return c.doData(ctx, http.MethodPost, path, body, result)
}

func (c *Client) put(ctx context.Context, path string, body any, result any) error {
	return c.doData(ctx, http.MethodPut, path, body, result)
}

func (c *Client) delete(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkError(resp)
}

func (c *Client) list(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
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

func checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	data, _ := io.ReadAll(resp.Body)
	return decodeError(resp.StatusCode, data)
}

func decodeError(status int, data []byte) error {
	var er errorResponse
	if err := json.Unmarshal(data, &er); err != nil || er.Error.Code == "" {
		return fmt.Errorf("API error: HTTP %d", status)
	}
	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
