package cache

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// RouteSource — источник endpoints и активных workflows (repo).
type RouteSource interface {
	Resolve(ctx context.Context, projectID uuid.UUID, url, method, version string) (*domain.Endpoint, error)
	GetActiveByEndpoint(ctx context.Context, endpointID uuid.UUID) (*domain.Workflow, error)
}

// Routes — кэш разрешения маршрута execute в endpoint и workflow.
type Routes struct {
	cache  *Cache
	source RouteSource
}

// NewRoutes создаёт кэш маршрутов поверх source.
func NewRoutes(c *Cache, source RouteSource) *Routes {
	return &Routes{cache: c, source: source}
}

// Resolve возвращает активный endpoint маршрута.
func (r *Routes) Resolve(ctx context.Context, projectID uuid.UUID, url, method, version string) (*domain.Endpoint, error) {
	route := domain.Endpoint{ProjectID: projectID, URL: url, Method: method, Version: version}
	route.Normalize()
	if r.source == nil {
		return nil, errNoSource
	}

	return readThrough(ctx, r.cache, r.endpointKey(&route), func() (*domain.Endpoint, error) {
		return r.source.Resolve(ctx, projectID, route.URL, route.Method, route.Version)
	})
}

// GetActiveByEndpoint возвращает активный workflow endpoint с шагами.
func (r *Routes) GetActiveByEndpoint(ctx context.Context, endpointID uuid.UUID) (*domain.Workflow, error) {
	if r.source == nil {
		return nil, errNoSource
	}
	return readThrough(ctx, r.cache, r.workflowKey(endpointID), func() (*domain.Workflow, error) {
		return r.source.GetActiveByEndpoint(ctx, endpointID)
	})
}

// InvalidateEndpoint удаляет endpoint и его активный workflow из кэша.
func (r *Routes) InvalidateEndpoint(ctx context.Context, ep *domain.Endpoint) error {
	route := *ep
	route.Normalize()
	return r.cache.del(ctx, r.endpointKey(&route), r.workflowKey(ep.ID))
}

// InvalidateWorkflow удаляет активный workflow endpoint из кэша.
func (r *Routes) InvalidateWorkflow(ctx context.Context, endpointID uuid.UUID) error {
	return r.cache.del(ctx, r.workflowKey(endpointID))
}

func (r *Routes) endpointKey(ep *domain.Endpoint) string {
	return r.cache.key("endpoint", ep.ProjectID.String(), ep.Method, ep.Version, ep.URL)
}

func (r *Routes) workflowKey(endpointID uuid.UUID) string {
	return r.cache.key("workflow", "active", endpointID.String())
}
