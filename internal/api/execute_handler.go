package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

const maxExecuteBody = 10 << 20

// Execute запускает активный workflow пользовательского endpoint.
// {GET|POST|PUT|PATCH|DELETE} /api/v1/execute/{version}/{path...}?projectId=
//
// Тело запроса, query параметры (кроме projectId) и параметры маршрута
// доступны шагам как {{body.*}}, {{query.*}} и {{params.*}}.
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	if !domain.IsValidMethod(r.Method) {
		MethodNotAllowed(w)
		return
	}

	projectID, err := uuid.Parse(r.URL.Query().Get("projectId"))
	if err != nil {
		BadRequest(w, "projectId query parameter is required")
		return
	}

	version := r.PathValue("version")
	path := domain.NormalizeURL(r.PathValue("path"))

	ctx := r.Context()
	logger := h.logger.With("project_id", projectID, "path", path, "method", r.Method, "version", version)

	ep, err := h.routes.Resolve(ctx, projectID, path, r.Method, version)
	if errors.Is(err, repo.ErrNotFound) {
		NotFound(w, "endpoint not found")
		return
	}
	if err != nil {
		InternalError(w, logger, err)
		return
	}

	wf, err := h.routes.GetActiveByEndpoint(ctx, ep.ID)
	if errors.Is(err, repo.ErrNotFound) {
		NotFound(w, "active workflow not found")
		return
	}
	if err != nil {
		InternalError(w, logger, err)
		return
	}

	body, err := decodeBody(w, r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	req := engine.Request{
		Body:  body,
		Query: queryValues(r),
		Params: map[string]any{
			"version":    version,
			"path":       path,
			"endpointId": ep.ID.String(),
		},
	}

	ctx = telemetry.WithLogger(ctx, telemetry.WithWorkflowID(logger, wf.ID.String()))
	run, err := h.executor.Execute(ctx, wf, req)
	switch {
	case errors.Is(err, orchestrator.ErrOrchestratorStopped):
		Error(w, http.StatusServiceUnavailable, ErrCodeInternalError, "server is shutting down")
		return
	case errors.Is(err, orchestrator.ErrInvalidWorkflow):
		InvalidState(w, err.Error())
		return
	case run == nil && err != nil:
		InternalError(w, logger, err)
		return
	}

	if run.Status == domain.RunStatusFailed {
		JSON(w, http.StatusUnprocessableEntity, ExecuteErrorResponse{
			Error:   ErrorDetail{Code: ErrCodeRunFailed, Message: run.Error},
			RunID:   run.ID,
			StepID:  run.FailedStepID,
			Outputs: run.Outputs,
		})
		return
	}

	outputs := run.Outputs
	if outputs == nil {
		outputs = map[string]any{}
	}
	JSON(w, http.StatusOK, ExecuteResponse{RunID: run.ID, Outputs: outputs})
}

// decodeBody читает JSON тело запроса. Пустое тело — nil.
func decodeBody(w http.ResponseWriter, r *http.Request) (any, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxExecuteBody))
	if err != nil {
		return nil, errors.New("request body is too large")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var body any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	return body, nil
}

// queryValues превращает query string в map: одно значение — строка,
// несколько — список строк.
func queryValues(r *http.Request) map[string]any {
	values := r.URL.Query()
	result := make(map[string]any, len(values))
	for key, vals := range values {
		if key == "projectId" {
			continue
		}
		if len(vals) == 1 {
			result[key] = vals[0]
			continue
		}
		list := make([]any, len(vals))
		for i, v := range vals {
			list[i] = v
		}
		result[key] = list
	}
	return result
}
