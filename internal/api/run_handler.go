package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// ListRuns возвращает историю runs с фильтрацией.
// GET /api/v1/runs?workflowId=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repo.RunFilter{}

	if s := query.Get("workflowId"); s != "" {
		workflowID, err := uuid.Parse(s)
		if err != nil {
			BadRequest(w, "invalid workflowId")
			return
		}
		filter.WorkflowID = &workflowID
	}

	if status := domain.RunStatus(query.Get("status")); status != "" {
		switch status {
		case domain.RunStatusRunning, domain.RunStatusSucceeded, domain.RunStatusFailed:
			filter.Status = status
		default:
			BadRequest(w, "invalid status")
			return
		}
	}

	filter.Limit, filter.Offset = parsePage(parseInt(query.Get("limit"), 50), parseInt(query.Get("offset"), 0))

	runs, err := h.runs.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid run id")
	if !ok {
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// parseInt парсит строку в int, возвращая defaultVal при ошибке.
func parseInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
