package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ListEndpoints возвращает endpoints проекта.
// GET /api/v1/endpoints?projectId=
func (h *Handler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.URL.Query().Get("projectId"))
	if err != nil {
		BadRequest(w, "projectId query parameter is required")
		return
	}

	endpoints, err := h.endpoints.ListByProject(r.Context(), projectID)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}
	if endpoints == nil {
		endpoints = []domain.Endpoint{}
	}

	List(w, endpoints, len(endpoints))
}

// CreateEndpoint регистрирует endpoint.
// Дубликат активного маршрута — 409.
// POST /api/v1/endpoints
func (h *Handler) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req CreateEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	ep, err := req.ToDomain()
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	if err := h.endpoints.Create(r.Context(), ep); HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, ep)
}

// GetEndpoint возвращает endpoint по ID.
// GET /api/v1/endpoints/{id}
func (h *Handler) GetEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid endpoint id")
	if !ok {
		return
	}

	ep, err := h.endpoints.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "endpoint not found") {
		return
	}

	Success(w, ep)
}

// SetEndpointActive включает или выключает endpoint.
// PUT /api/v1/endpoints/{id}/active
func (h *Handler) SetEndpointActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid endpoint id")
	if !ok {
		return
	}

	var req SetEndpointActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	ep, err := h.endpoints.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "endpoint not found") {
		return
	}

	if err := h.endpoints.SetActive(r.Context(), id, req.IsActive); HandleRepoError(w, h.logger, err, "endpoint not found") {
		return
	}
	h.invalidateEndpoint(r.Context(), ep)

	ep.IsActive = req.IsActive
	Success(w, ep)
}

// DeleteEndpoint удаляет endpoint вместе с его workflows.
// DELETE /api/v1/endpoints/{id}
func (h *Handler) DeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid endpoint id")
	if !ok {
		return
	}

	ep, err := h.endpoints.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "endpoint not found") {
		return
	}

	if err := h.endpoints.Delete(r.Context(), id); HandleRepoError(w, h.logger, err, "endpoint not found") {
		return
	}
	h.invalidateEndpoint(r.Context(), ep)

	NoContent(w)
}
