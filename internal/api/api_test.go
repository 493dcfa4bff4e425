package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// memoryStore — in-memory хранилище endpoints, workflows, метаданных и runs.
type memoryStore struct {
	mu        sync.Mutex
	endpoints map[uuid.UUID]*domain.Endpoint
	workflows map[uuid.UUID]*domain.Workflow
	metadata  map[uuid.UUID]*domain.DatabaseMetadata
	runs      map[uuid.UUID]*domain.Run
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		endpoints: map[uuid.UUID]*domain.Endpoint{},
		workflows: map[uuid.UUID]*domain.Workflow{},
		metadata:  map[uuid.UUID]*domain.DatabaseMetadata{},
		runs:      map[uuid.UUID]*domain.Run{},
	}
}

type endpointStore struct{ *memoryStore }

func (s endpointStore) Create(_ context.Context, ep *domain.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep.Normalize()
	for _, other := range s.endpoints {
		if other.IsActive && ep.IsActive && other.ProjectID == ep.ProjectID &&
			other.URL == ep.URL && other.Method == ep.Method && other.Version == ep.Version {
			return repo.ErrAlreadyExists
		}
	}
	if ep.ID == uuid.Nil {
		ep.ID = uuid.New()
	}
	s.endpoints[ep.ID] = ep
	return nil
}

func (s endpointStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *ep
	return &cp, nil
}

func (s endpointStore) ListByProject(_ context.Context, projectID uuid.UUID) ([]domain.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.Endpoint
	for _, ep := range s.endpoints {
		if ep.ProjectID == projectID {
			result = append(result, *ep)
		}
	}
	return result, nil
}

func (s endpointStore) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return repo.ErrNotFound
	}
	ep.IsActive = active
	return nil
}

func (s endpointStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.endpoints, id)
	return nil
}

// Resolve и GetActiveByEndpoint реализуют RouteResolver.
func (s endpointStore) Resolve(_ context.Context, projectID uuid.UUID, url, method, version string) (*domain.Endpoint, error) {
	key := domain.Endpoint{URL: url, Method: method, Version: version}
	key.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ep := range s.endpoints {
		if ep.IsActive && ep.ProjectID == projectID && ep.URL == key.URL &&
			ep.Method == key.Method && ep.Version == key.Version {
			return ep, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s endpointStore) GetActiveByEndpoint(_ context.Context, endpointID uuid.UUID) (*domain.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, wf := range s.workflows {
		if wf.EndpointID == endpointID && wf.IsActive {
			return wf, nil
		}
	}
	return nil, repo.ErrNotFound
}

type workflowStore struct{ *memoryStore }

func (s workflowStore) Create(_ context.Context, wf *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = wf
	return nil
}

func (s workflowStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *wf
	cp.Steps = append([]domain.Step(nil), wf.Steps...)
	return &cp, nil
}

func (s workflowStore) ListByEndpoint(_ context.Context, endpointID uuid.UUID) ([]domain.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.Workflow
	for _, wf := range s.workflows {
		if wf.EndpointID == endpointID {
			result = append(result, *wf)
		}
	}
	return result, nil
}

func (s workflowStore) mutable(id uuid.UUID) (*domain.Workflow, error) {
	wf, ok := s.workflows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if wf.IsActive {
		return nil, repo.ErrInvalidState
	}
	return wf, nil
}

func (s workflowStore) Update(_ context.Context, wf *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.mutable(wf.ID); err != nil {
		return err
	}
	s.workflows[wf.ID] = wf
	return nil
}

func (s workflowStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.mutable(id); err != nil {
		return err
	}
	delete(s.workflows, id)
	return nil
}

func (s workflowStore) Activate(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return repo.ErrNotFound
	}
	for _, other := range s.workflows {
		if other.EndpointID == wf.EndpointID {
			other.IsActive = false
		}
	}
	wf.IsActive = true
	return nil
}

func (s workflowStore) Deactivate(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return repo.ErrNotFound
	}
	wf.IsActive = false
	return nil
}

func (s workflowStore) AddStep(_ context.Context, workflowID uuid.UUID, step *domain.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, err := s.mutable(workflowID)
	if err != nil {
		return err
	}
	wf.Steps = append(wf.Steps, *step)
	return nil
}

func (s workflowStore) UpdateStep(_ context.Context, workflowID uuid.UUID, step *domain.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, err := s.mutable(workflowID)
	if err != nil {
		return err
	}
	for i := range wf.Steps {
		if wf.Steps[i].ID == step.ID {
			wf.Steps[i] = *step
			return nil
		}
	}
	return repo.ErrNotFound
}

func (s workflowStore) DeleteStep(_ context.Context, workflowID uuid.UUID, stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, err := s.mutable(workflowID)
	if err != nil {
		return err
	}
	for i := range wf.Steps {
		if wf.Steps[i].ID == stepID {
			wf.Steps = append(wf.Steps[:i], wf.Steps[i+1:]...)
			return nil
		}
	}
	return repo.ErrNotFound
}

type metadataStore struct{ *memoryStore }

func (s metadataStore) Create(_ context.Context, meta *domain.DatabaseMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range meta.Fields {
		if f.Ref != nil {
			if _, ok := s.metadata[*f.Ref]; !ok {
				return repo.ErrInvalidReference
			}
		}
	}
	meta.ID = uuid.New()
	if meta.Version == 0 {
		meta.Version = 1
	}
	s.metadata[meta.ID] = meta
	return nil
}

func (s metadataStore) GetByID(_ context.Context, id uuid.UUID) (*domain.DatabaseMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.metadata[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return meta, nil
}

func (s metadataStore) ListByProject(_ context.Context, projectID uuid.UUID) ([]domain.DatabaseMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.DatabaseMetadata
	for _, meta := range s.metadata {
		if meta.ProjectID == projectID {
			result = append(result, *meta)
		}
	}
	return result, nil
}

func (s metadataStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.metadata[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.metadata, id)
	return nil
}

type runStore struct{ *memoryStore }

func (s runStore) Create(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s runStore) Finish(ctx context.Context, run *domain.Run) error {
	return s.Create(ctx, run)
}

func (s runStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return run, nil
}

func (s runStore) List(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.Run
	for _, run := range s.runs {
		if filter.WorkflowID != nil && run.WorkflowID != *filter.WorkflowID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		result = append(result, *run)
	}
	return result, nil
}

// recordingInvalidator запоминает сброшенные ключи кэша.
type recordingInvalidator struct {
	mu        sync.Mutex
	endpoints []uuid.UUID
	workflows []uuid.UUID
	metadata  []uuid.UUID
	schemas   []string
}

func (r *recordingInvalidator) InvalidateEndpoint(_ context.Context, ep *domain.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = append(r.endpoints, ep.ID)
	return nil
}

func (r *recordingInvalidator) InvalidateWorkflow(_ context.Context, endpointID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows = append(r.workflows, endpointID)
	return nil
}

func (r *recordingInvalidator) Invalidate(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata = append(r.metadata, id)
	return nil
}

type schemaRecorder struct{ *recordingInvalidator }

func (s schemaRecorder) Invalidate(modelName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas = append(s.schemas, modelName)
}

type testServer struct {
	*httptest.Server
	store   *memoryStore
	cache   *recordingInvalidator
	metrics *telemetry.Metrics
}

func newTestServer(t *testing.T, executor Executor) *testServer {
	t.Helper()
	store := newMemoryStore()
	cache := &recordingInvalidator{}
	metrics := telemetry.NewMetrics(nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if executor == nil {
		executor = orchestrator.New(orchestrator.Config{
			Runs:        runStore{store},
			StepTimeout: 5 * time.Second,
			Logger:      logger,
		})
	}

	h := NewHandler(Config{
		Workflows:     workflowStore{store},
		Endpoints:     endpointStore{store},
		Metadata:      metadataStore{store},
		Runs:          runStore{store},
		Routes:        endpointStore{store},
		Executor:      executor,
		RouteCache:    cache,
		MetadataCache: cache,
		Schemas:       schemaRecorder{cache},
		Metrics:       metrics,
		Logger:        logger,
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testServer{Server: server, store: store, cache: cache, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, data)
		}
	}
	return resp, decoded
}

// seedRoute создаёт endpoint с активным workflow.
func (s *testServer) seedRoute(projectID uuid.UUID, url, method string, steps ...domain.Step) (*domain.Endpoint, *domain.Workflow) {
	ep := &domain.Endpoint{ID: uuid.New(), ProjectID: projectID, URL: url, Method: method, IsActive: true}
	ep.Normalize()
	wf := &domain.Workflow{ID: uuid.New(), Name: "wf", EndpointID: ep.ID, Steps: steps, IsActive: true}
	s.store.endpoints[ep.ID] = ep
	s.store.workflows[wf.ID] = wf
	return ep, wf
}

func greetStep() domain.Step {
	return domain.Step{
		ID:   "greet",
		Type: domain.StepTypeTransformation,
		Config: map[string]any{
			"transformationType": "combine",
			"inputValues":        []any{"hello", "{{body.name}}", "{{query.lang}}"},
			"separator":          " ",
		},
		IsActive: true,
	}
}

func dataOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %v", body)
	}
	return data
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

// --- Execute ---

func TestExecute_RunsActiveWorkflow(t *testing.T) {
	srv := newTestServer(t, nil)
	projectID := uuid.New()
	srv.seedRoute(projectID, "/greetings/", "POST", greetStep())

	resp, body := srv.do(t, http.MethodPost,
		"/api/v1/execute/1.0/greetings?projectId="+projectID.String()+"&lang=en",
		map[string]any{"name": "ann"})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	outputs, ok := body["outputs"].(map[string]any)
	if !ok {
		t.Fatalf("expected outputs, got %v", body)
	}
	if outputs["greet"] != "hello ann en" {
		t.Errorf("unexpected output: %v", outputs["greet"])
	}

	runID, err := uuid.Parse(body["run_id"].(string))
	if err != nil {
		t.Fatalf("invalid run_id: %v", err)
	}
	resp, body = srv.do(t, http.MethodGet, "/api/v1/runs/"+runID.String(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected recorded run, got %d", resp.StatusCode)
	}
	if dataOf(t, body)["status"] != string(domain.RunStatusSucceeded) {
		t.Errorf("unexpected run: %v", body)
	}
}

func TestExecute_NotFound(t *testing.T) {
	srv := newTestServer(t, nil)
	projectID := uuid.New()

	_, wf := srv.seedRoute(projectID, "/orders/", "GET", greetStep())
	wf.IsActive = false

	tests := []struct {
		name    string
		path    string
		method  string
		message string
	}{
		{"unknown path", "/api/v1/execute/1.0/unknown?projectId=" + projectID.String(), http.MethodGet, "endpoint not found"},
		{"wrong method", "/api/v1/execute/1.0/orders?projectId=" + projectID.String(), http.MethodPost, "endpoint not found"},
		{"wrong version", "/api/v1/execute/2.0/orders?projectId=" + projectID.String(), http.MethodGet, "endpoint not found"},
		{"other project", "/api/v1/execute/1.0/orders?projectId=" + uuid.NewString(), http.MethodGet, "endpoint not found"},
		{"no active workflow", "/api/v1/execute/1.0/orders/?projectId=" + projectID.String(), http.MethodGet, "active workflow not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := srv.do(t, tt.method, tt.path, nil)
			if resp.StatusCode != http.StatusNotFound {
				t.Fatalf("expected 404, got %d", resp.StatusCode)
			}
			e := body["error"].(map[string]any)
			if e["message"] != tt.message {
				t.Errorf("unexpected message %v", e["message"])
			}
		})
	}
}

func TestExecute_RunFailure(t *testing.T) {
	srv := newTestServer(t, nil)
	projectID := uuid.New()

	broken := domain.Step{
		ID:       "broken",
		Type:     domain.StepTypeTransformation,
		Config:   map[string]any{"transformationType": "explode", "inputValues": []any{1}},
		IsActive: true,
	}
	srv.seedRoute(projectID, "/broken/", "GET", broken)

	resp, body := srv.do(t, http.MethodGet, "/api/v1/execute/1.0/broken?projectId="+projectID.String(), nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %v", resp.StatusCode, body)
	}
	if errorCode(body) != string(ErrCodeRunFailed) {
		t.Errorf("unexpected error code: %v", body)
	}
	if body["step_id"] != "broken" {
		t.Errorf("expected failed step, got %v", body["step_id"])
	}
}

func TestExecute_BadRequests(t *testing.T) {
	srv := newTestServer(t, nil)
	projectID := uuid.New()
	srv.seedRoute(projectID, "/greetings/", "POST", greetStep())

	resp, _ := srv.do(t, http.MethodPost, "/api/v1/execute/1.0/greetings", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing projectId: expected 400, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost,
		srv.URL+"/api/v1/execute/1.0/greetings?projectId="+projectID.String(),
		strings.NewReader("{not json"))
	raw, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	raw.Body.Close()
	if raw.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid body: expected 400, got %d", raw.StatusCode)
	}

	resp, _ = srv.do(t, http.MethodOptions, "/api/v1/execute/1.0/greetings?projectId="+projectID.String(), nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("OPTIONS: expected 405, got %d", resp.StatusCode)
	}
}

// executorFunc адаптирует функцию к Executor.
type executorFunc func(ctx context.Context, wf *domain.Workflow, req engine.Request) (*domain.Run, error)

func (f executorFunc) Execute(ctx context.Context, wf *domain.Workflow, req engine.Request) (*domain.Run, error) {
	return f(ctx, wf, req)
}

func TestExecute_RequestPassedToExecutor(t *testing.T) {
	var got engine.Request
	srv := newTestServer(t, executorFunc(func(_ context.Context, _ *domain.Workflow, req engine.Request) (*domain.Run, error) {
		got = req
		run := &domain.Run{ID: uuid.New(), StartedAt: time.Now()}
		run.MarkSucceeded(nil)
		return run, nil
	}))
	projectID := uuid.New()
	ep, _ := srv.seedRoute(projectID, "/items/", "PUT", greetStep())

	resp, body := srv.do(t, http.MethodPut,
		"/api/v1/execute/1.0/items/?projectId="+projectID.String()+"&tag=a&tag=b&page=2",
		map[string]any{"id": 7})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if outputs, ok := body["outputs"].(map[string]any); !ok || len(outputs) != 0 {
		t.Errorf("expected empty outputs object, got %v", body["outputs"])
	}

	if got.Query["page"] != "2" {
		t.Errorf("unexpected page: %v", got.Query["page"])
	}
	if tags, ok := got.Query["tag"].([]any); !ok || len(tags) != 2 {
		t.Errorf("unexpected tags: %v", got.Query["tag"])
	}
	if _, ok := got.Query["projectId"]; ok {
		t.Error("projectId must not be passed to the workflow")
	}
	if got.Params["endpointId"] != ep.ID.String() || got.Params["path"] != "/items/" {
		t.Errorf("unexpected params: %v", got.Params)
	}
	if b, ok := got.Body.(map[string]any); !ok || b["id"] != float64(7) {
		t.Errorf("unexpected body: %v", got.Body)
	}
}

func TestExecute_ExecutorStopped(t *testing.T) {
	srv := newTestServer(t, executorFunc(func(context.Context, *domain.Workflow, engine.Request) (*domain.Run, error) {
		return nil, orchestrator.ErrOrchestratorStopped
	}))
	projectID := uuid.New()
	srv.seedRoute(projectID, "/a/", "GET", greetStep())

	resp, _ := srv.do(t, http.MethodGet, "/api/v1/execute/1.0/a?projectId="+projectID.String(), nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

// --- Management ---

func TestWorkflowLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	projectID := uuid.New()

	resp, body := srv.do(t, http.MethodPost, "/api/v1/endpoints", map[string]any{
		"project_id":     projectID,
		"endpoint_url":   "hello//world",
		"request_method": "post",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create endpoint: %d %v", resp.StatusCode, body)
	}
	ep := dataOf(t, body)
	if ep["endpoint_url"] != "/hello/world/" || ep["request_method"] != "POST" || ep["version"] != "1.0" {
		t.Errorf("endpoint not normalized: %v", ep)
	}
	endpointID := ep["id"].(string)

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/endpoints", map[string]any{
		"project_id":     projectID,
		"endpoint_url":   "/hello/world/",
		"request_method": "POST",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate endpoint: expected 409, got %d", resp.StatusCode)
	}

	resp, body = srv.do(t, http.MethodPost, "/api/v1/workflows", map[string]any{
		"name":        "hello",
		"endpoint_id": endpointID,
		"steps":       []domain.Step{greetStep()},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create workflow: %d %v", resp.StatusCode, body)
	}
	wf := dataOf(t, body)
	if wf["is_active"] != false {
		t.Error("new workflow must be inactive")
	}
	workflowID := wf["id"].(string)

	// неактивный workflow ещё не обслуживает endpoint
	resp, _ = srv.do(t, http.MethodPost, "/api/v1/execute/1.0/hello/world?projectId="+projectID.String(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 before activation, got %d", resp.StatusCode)
	}

	extra := domain.Step{ID: "wait", Type: domain.StepTypeDelay, Config: map[string]any{"duration": 1}, DependsOn: "greet", IsActive: true}
	resp, _ = srv.do(t, http.MethodPost, "/api/v1/workflows/"+workflowID+"/steps", extra)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add step: %d", resp.StatusCode)
	}
	resp, _ = srv.do(t, http.MethodDelete, "/api/v1/workflows/"+workflowID+"/steps/wait", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete step: %d", resp.StatusCode)
	}

	resp, body = srv.do(t, http.MethodPost, "/api/v1/workflows/"+workflowID+"/activate", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activate: %d %v", resp.StatusCode, body)
	}
	if len(srv.cache.workflows) != 1 || srv.cache.workflows[0].String() != endpointID {
		t.Errorf("expected workflow cache invalidation, got %v", srv.cache.workflows)
	}

	resp, body = srv.do(t, http.MethodPost, "/api/v1/execute/1.0/hello/world?projectId="+projectID.String(), map[string]any{"name": "bob"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute after activation: %d %v", resp.StatusCode, body)
	}

	// активный workflow неизменяем
	resp, _ = srv.do(t, http.MethodPut, "/api/v1/workflows/"+workflowID, map[string]any{"name": "renamed"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("update active: expected 422, got %d", resp.StatusCode)
	}
	resp, _ = srv.do(t, http.MethodDelete, "/api/v1/workflows/"+workflowID, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("delete active: expected 422, got %d", resp.StatusCode)
	}
	resp, _ = srv.do(t, http.MethodPost, "/api/v1/workflows/"+workflowID+"/steps", extra)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("add step to active: expected 422, got %d", resp.StatusCode)
	}

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/workflows/"+workflowID+"/deactivate", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deactivate: %d", resp.StatusCode)
	}
	resp, body = srv.do(t, http.MethodPut, "/api/v1/workflows/"+workflowID, map[string]any{"name": "renamed"})
	if resp.StatusCode != http.StatusOK || dataOf(t, body)["name"] != "renamed" {
		t.Errorf("update inactive: %d %v", resp.StatusCode, body)
	}

	resp, body = srv.do(t, http.MethodGet, "/api/v1/workflows?endpointId="+endpointID, nil)
	if resp.StatusCode != http.StatusOK || body["total"] != float64(1) {
		t.Errorf("list workflows: %d %v", resp.StatusCode, body)
	}

	resp, _ = srv.do(t, http.MethodDelete, "/api/v1/workflows/"+workflowID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete inactive: expected 204, got %d", resp.StatusCode)
	}

	resp, _ = srv.do(t, http.MethodDelete, "/api/v1/endpoints/"+endpointID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete endpoint: expected 204, got %d", resp.StatusCode)
	}
	if len(srv.cache.endpoints) != 1 {
		t.Errorf("expected endpoint cache invalidation, got %v", srv.cache.endpoints)
	}
}

func TestActivateWorkflow_InvalidGraph(t *testing.T) {
	srv := newTestServer(t, nil)
	ep := &domain.Endpoint{ID: uuid.New(), URL: "/x/", Method: "GET", Version: "1.0"}
	srv.store.endpoints[ep.ID] = ep

	a := greetStep()
	b := greetStep()
	b.ID = "second" // второй входной шаг
	wf := &domain.Workflow{ID: uuid.New(), EndpointID: ep.ID, Steps: []domain.Step{a, b}}
	srv.store.workflows[wf.ID] = wf

	resp, body := srv.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID.String()+"/activate", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if errorCode(body) != string(ErrCodeInvalidState) {
		t.Errorf("unexpected error: %v", body)
	}
	if srv.store.workflows[wf.ID].IsActive {
		t.Error("invalid workflow must stay inactive")
	}
}

func TestCreateWorkflow_Validation(t *testing.T) {
	srv := newTestServer(t, nil)
	ep := &domain.Endpoint{ID: uuid.New(), URL: "/x/", Method: "GET", Version: "1.0"}
	srv.store.endpoints[ep.ID] = ep

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"missing name", map[string]any{"endpoint_id": ep.ID}, http.StatusBadRequest},
		{"missing endpoint", map[string]any{"name": "x"}, http.StatusBadRequest},
		{"unknown endpoint", map[string]any{"name": "x", "endpoint_id": uuid.New()}, http.StatusNotFound},
		{"unknown step type", map[string]any{"name": "x", "endpoint_id": ep.ID, "steps": []map[string]any{{"id": "a", "step_type": "teleport"}}}, http.StatusBadRequest},
		{"duplicate step id", map[string]any{"name": "x", "endpoint_id": ep.ID, "steps": []domain.Step{greetStep(), greetStep()}}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := srv.do(t, http.MethodPost, "/api/v1/workflows", tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d: %v", tt.status, resp.StatusCode, body)
			}
		})
	}
}

func TestMetadataEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	projectID, orgID := uuid.New(), uuid.New()

	resp, body := srv.do(t, http.MethodPost, "/api/v1/metadata", map[string]any{
		"name":            "users",
		"project_id":      projectID,
		"organisation_id": orgID,
		"attributes": []map[string]any{
			{"name": "email", "type": "String", "required": true},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create metadata: %d %v", resp.StatusCode, body)
	}
	meta := dataOf(t, body)
	id := meta["id"].(string)
	wantModel := "users_1_" + projectID.String() + "_" + orgID.String()
	if meta["model_name"] != wantModel {
		t.Errorf("expected model_name %s, got %v", wantModel, meta["model_name"])
	}

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/metadata", map[string]any{
		"name": "bad", "project_id": projectID, "organisation_id": orgID,
		"attributes": []map[string]any{{"name": "x", "type": "Decimal"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown field type: expected 400, got %d", resp.StatusCode)
	}

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/metadata", map[string]any{
		"name": "orders", "project_id": projectID, "organisation_id": orgID,
		"attributes": []map[string]any{{"name": "user", "type": "ObjectId", "ref": uuid.New()}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown ref: expected 400, got %d", resp.StatusCode)
	}

	resp, body = srv.do(t, http.MethodGet, "/api/v1/metadata?projectId="+projectID.String(), nil)
	if resp.StatusCode != http.StatusOK || body["total"] != float64(1) {
		t.Errorf("list metadata: %d %v", resp.StatusCode, body)
	}

	resp, _ = srv.do(t, http.MethodDelete, "/api/v1/metadata/"+id, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete metadata: %d", resp.StatusCode)
	}
	if len(srv.cache.metadata) != 1 || len(srv.cache.schemas) != 1 || srv.cache.schemas[0] != wantModel {
		t.Errorf("expected cache and schema invalidation, got %v %v", srv.cache.metadata, srv.cache.schemas)
	}

	resp, _ = srv.do(t, http.MethodGet, "/api/v1/metadata/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestListRuns_Filters(t *testing.T) {
	srv := newTestServer(t, nil)
	wfID := uuid.New()
	for _, status := range []domain.RunStatus{domain.RunStatusSucceeded, domain.RunStatusFailed, domain.RunStatusFailed} {
		run := &domain.Run{ID: uuid.New(), WorkflowID: wfID, Status: status, StartedAt: time.Now()}
		srv.store.runs[run.ID] = run
	}

	resp, body := srv.do(t, http.MethodGet, "/api/v1/runs?workflowId="+wfID.String()+"&status=FAILED", nil)
	if resp.StatusCode != http.StatusOK || body["total"] != float64(2) {
		t.Errorf("list runs: %d %v", resp.StatusCode, body)
	}

	resp, _ = srv.do(t, http.MethodGet, "/api/v1/runs?status=DONE", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid status: expected 400, got %d", resp.StatusCode)
	}

	resp, _ = srv.do(t, http.MethodGet, "/api/v1/runs/not-a-uuid", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid id: expected 400, got %d", resp.StatusCode)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, body := srv.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz: %d %v", resp.StatusCode, body)
	}

	srv.do(t, http.MethodGet, "/api/v1/runs/"+uuid.NewString(), nil)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/metrics", nil)
	raw, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Body.Close()
	data, _ := io.ReadAll(raw.Body)
	if !strings.Contains(string(data), `conveyor_http_requests_total{method="GET",status="404"} 1`) {
		t.Errorf("expected http metric, got:\n%s", data)
	}
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}
