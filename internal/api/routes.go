package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Metrics(h.metrics),
		Logging(h.logger),
	)

	// Execute: метод проверяет сам обработчик
	mux.Handle("/api/v1/execute/{version}/{path...}", chain(http.HandlerFunc(h.Execute)))

	// Workflows
	mux.Handle("GET /api/v1/workflows", chain(http.HandlerFunc(h.ListWorkflows)))
	mux.Handle("POST /api/v1/workflows", chain(http.HandlerFunc(h.CreateWorkflow)))
	mux.Handle("GET /api/v1/workflows/{id}", chain(http.HandlerFunc(h.GetWorkflow)))
	mux.Handle("PUT /api/v1/workflows/{id}", chain(http.HandlerFunc(h.UpdateWorkflow)))
	mux.Handle("DELETE /api/v1/workflows/{id}", chain(http.HandlerFunc(h.DeleteWorkflow)))
	mux.Handle("POST /api/v1/workflows/{id}/activate", chain(http.HandlerFunc(h.ActivateWorkflow)))
	mux.Handle("POST /api/v1/workflows/{id}/deactivate", chain(http.HandlerFunc(h.DeactivateWorkflow)))

	// Steps
	mux.Handle("POST /api/v1/workflows/{id}/steps", chain(http.HandlerFunc(h.AddStep)))
	mux.Handle("PUT /api/v1/workflows/{id}/steps/{stepId}", chain(http.HandlerFunc(h.UpdateStep)))
	mux.Handle("DELETE /api/v1/workflows/{id}/steps/{stepId}", chain(http.HandlerFunc(h.DeleteStep)))

	// Endpoints
	mux.Handle("GET /api/v1/endpoints", chain(http.HandlerFunc(h.ListEndpoints)))
	mux.Handle("POST /api/v1/endpoints", chain(http.HandlerFunc(h.CreateEndpoint)))
	mux.Handle("GET /api/v1/endpoints/{id}", chain(http.HandlerFunc(h.GetEndpoint)))
	mux.Handle("PUT /api/v1/endpoints/{id}/active", chain(http.HandlerFunc(h.SetEndpointActive)))
	mux.Handle("DELETE /api/v1/endpoints/{id}", chain(http.HandlerFunc(h.DeleteEndpoint)))

	// Database metadata
	mux.Handle("GET /api/v1/metadata", chain(http.HandlerFunc(h.ListMetadata)))
	mux.Handle("POST /api/v1/metadata", chain(http.HandlerFunc(h.CreateMetadata)))
	mux.Handle("GET /api/v1/metadata/{id}", chain(http.HandlerFunc(h.GetMetadata)))
	mux.Handle("DELETE /api/v1/metadata/{id}", chain(http.HandlerFunc(h.DeleteMetadata)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))

	// Service
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}
