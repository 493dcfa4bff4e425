package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// ListWorkflows возвращает workflows endpoint.
// GET /api/v1/workflows?endpointId=
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	endpointID, err := uuid.Parse(r.URL.Query().Get("endpointId"))
	if err != nil {
		BadRequest(w, "endpointId query parameter is required")
		return
	}

	workflows, err := h.workflows.ListByEndpoint(r.Context(), endpointID)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}
	if workflows == nil {
		workflows = []domain.Workflow{}
	}

	List(w, workflows, len(workflows))
}

// CreateWorkflow создаёт неактивный workflow.
// POST /api/v1/workflows
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if _, err := h.endpoints.GetByID(r.Context(), req.EndpointID); HandleRepoError(w, h.logger, err, "endpoint not found") {
		return
	}

	wf := &domain.Workflow{
		ID:         uuid.New(),
		Name:       req.Name,
		EndpointID: req.EndpointID,
		Steps:      req.Steps,
	}
	if err := h.workflows.Create(r.Context(), wf); HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, wf)
}

// GetWorkflow возвращает workflow с шагами.
// GET /api/v1/workflows/{id}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid workflow id")
	if !ok {
		return
	}

	wf, err := h.workflows.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	Success(w, wf)
}

// UpdateWorkflow меняет имя и/или шаги неактивного workflow.
// PUT /api/v1/workflows/{id}
func (h *Handler) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid workflow id")
	if !ok {
		return
	}

	var req UpdateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	wf, err := h.workflows.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}
	if wf.IsActive {
		InvalidState(w, "active workflow cannot be modified")
		return
	}

	if req.Name != nil {
		wf.Name = *req.Name
	}
	if req.Steps != nil {
		if err := validateSteps(*req.Steps); err != nil {
			BadRequest(w, err.Error())
			return
		}
		wf.Steps = *req.Steps
	}

	if err := h.workflows.Update(r.Context(), wf); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	Success(w, wf)
}

// DeleteWorkflow удаляет неактивный workflow.
// DELETE /api/v1/workflows/{id}
func (h *Handler) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid workflow id")
	if !ok {
		return
	}

	if err := h.workflows.Delete(r.Context(), id); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	NoContent(w)
}

// ActivateWorkflow проверяет граф шагов и делает workflow единственным
// активным для его endpoint.
// POST /api/v1/workflows/{id}/activate
func (h *Handler) ActivateWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid workflow id")
	if !ok {
		return
	}

	wf, err := h.workflows.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	if _, err := engine.Validate(wf.ActiveSteps()); err != nil {
		InvalidState(w, err.Error())
		return
	}

	if err := h.workflows.Activate(r.Context(), id); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}
	h.invalidateWorkflow(r.Context(), wf.EndpointID)

	wf.IsActive = true
	Success(w, wf)
}

// DeactivateWorkflow выключает workflow.
// POST /api/v1/workflows/{id}/deactivate
func (h *Handler) DeactivateWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid workflow id")
	if !ok {
		return
	}

	wf, err := h.workflows.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	if err := h.workflows.Deactivate(r.Context(), id); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}
	h.invalidateWorkflow(r.Context(), wf.EndpointID)

	wf.IsActive = false
	Success(w, wf)
}

// AddStep добавляет шаг в неактивный workflow.
// POST /api/v1/workflows/{id}/steps
func (h *Handler) AddStep(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid workflow id")
	if !ok {
		return
	}

	var step domain.Step
	if err := json.NewDecoder(r.Body).Decode(&step); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if err := validateStep(&step); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if err := h.workflows.AddStep(r.Context(), id, &step); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	Created(w, step)
}

// UpdateStep заменяет шаг неактивного workflow.
// PUT /api/v1/workflows/{id}/steps/{stepId}
func (h *Handler) UpdateStep(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid workflow id")
	if !ok {
		return
	}

	var step domain.Step
	if err := json.NewDecoder(r.Body).Decode(&step); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	step.ID = r.PathValue("stepId")
	if err := validateStep(&step); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if err := h.workflows.UpdateStep(r.Context(), id, &step); HandleRepoError(w, h.logger, err, "step not found") {
		return
	}

	Success(w, step)
}

// DeleteStep удаляет шаг неактивного workflow.
// DELETE /api/v1/workflows/{id}/steps/{stepId}
func (h *Handler) DeleteStep(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid workflow id")
	if !ok {
		return
	}

	if err := h.workflows.DeleteStep(r.Context(), id, r.PathValue("stepId")); HandleRepoError(w, h.logger, err, "step not found") {
		return
	}

	NoContent(w)
}

// pathID разбирает UUID из параметра пути. При ошибке пишет 400.
func pathID(w http.ResponseWriter, r *http.Request, name, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		BadRequest(w, message)
		return uuid.Nil, false
	}
	return id, true
}
