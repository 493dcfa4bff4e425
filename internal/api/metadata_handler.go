package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ListMetadata возвращает метаданные проекта (без полей).
// GET /api/v1/metadata?projectId=
func (h *Handler) ListMetadata(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.URL.Query().Get("projectId"))
	if err != nil {
		BadRequest(w, "projectId query parameter is required")
		return
	}

	list, err := h.metadata.ListByProject(r.Context(), projectID)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}
	if list == nil {
		list = []domain.DatabaseMetadata{}
	}

	List(w, list, len(list))
}

// CreateMetadata сохраняет метаданные модели с полями.
// Неизвестный тип поля или ref на несуществующие метаданные — 400.
// POST /api/v1/metadata
func (h *Handler) CreateMetadata(w http.ResponseWriter, r *http.Request) {
	var req CreateMetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	meta, err := req.ToDomain()
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	if err := h.metadata.Create(r.Context(), meta); HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, MetadataResponse{DatabaseMetadata: meta, ModelName: meta.ModelName()})
}

// GetMetadata возвращает метаданные с полями.
// GET /api/v1/metadata/{id}
func (h *Handler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid metadata id")
	if !ok {
		return
	}

	meta, err := h.metadata.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "metadata not found") {
		return
	}

	Success(w, MetadataResponse{DatabaseMetadata: meta, ModelName: meta.ModelName()})
}

// DeleteMetadata удаляет метаданные, на которые не ссылаются другие поля.
// DELETE /api/v1/metadata/{id}
func (h *Handler) DeleteMetadata(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid metadata id")
	if !ok {
		return
	}

	meta, err := h.metadata.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "metadata not found") {
		return
	}

	if err := h.metadata.Delete(r.Context(), id); HandleRepoError(w, h.logger, err, "metadata not found") {
		return
	}

	h.invalidateMetadata(r.Context(), id)
	if h.schemas != nil {
		h.schemas.Invalidate(meta.ModelName())
	}

	NoContent(w)
}
