package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Routes разрешает маршрут execute напрямую через PostgreSQL,
// когда Redis кэш не настроен.
type Routes struct {
	Endpoints *EndpointRepo
	Workflows *WorkflowRepo
}

// Resolve возвращает активный endpoint маршрута.
func (r Routes) Resolve(ctx context.Context, projectID uuid.UUID, url, method, version string) (*domain.Endpoint, error) {
	return r.Endpoints.Resolve(ctx, projectID, url, method, version)
}

// GetActiveByEndpoint возвращает активный workflow endpoint.
func (r Routes) GetActiveByEndpoint(ctx context.Context, endpointID uuid.UUID) (*domain.Workflow, error) {
	return r.Workflows.GetActiveByEndpoint(ctx, endpointID)
}
