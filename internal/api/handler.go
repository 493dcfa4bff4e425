package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// WorkflowStore — хранилище workflows (repo.WorkflowRepo).
type WorkflowStore interface {
	Create(ctx context.Context, wf *domain.Workflow) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	ListByEndpoint(ctx context.Context, endpointID uuid.UUID) ([]domain.Workflow, error)
	Update(ctx context.Context, wf *domain.Workflow) error
	Delete(ctx context.Context, id uuid.UUID) error
	Activate(ctx context.Context, id uuid.UUID) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	AddStep(ctx context.Context, workflowID uuid.UUID, step *domain.Step) error
	UpdateStep(ctx context.Context, workflowID uuid.UUID, step *domain.Step) error
	DeleteStep(ctx context.Context, workflowID uuid.UUID, stepID string) error
}

// EndpointStore — хранилище endpoints (repo.EndpointRepo).
type EndpointStore interface {
	Create(ctx context.Context, ep *domain.Endpoint) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Endpoint, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.Endpoint, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// MetadataStore — хранилище метаданных (repo.MetadataRepo).
type MetadataStore interface {
	Create(ctx context.Context, meta *domain.DatabaseMetadata) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.DatabaseMetadata, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.DatabaseMetadata, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RunStore — история runs (repo.RunRepo).
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
}

// RouteResolver разрешает маршрут execute (cache.Routes или repo.Routes).
type RouteResolver interface {
	Resolve(ctx context.Context, projectID uuid.UUID, url, method, version string) (*domain.Endpoint, error)
	GetActiveByEndpoint(ctx context.Context, endpointID uuid.UUID) (*domain.Workflow, error)
}

// RouteInvalidator сбрасывает закэшированные маршруты (cache.Routes).
type RouteInvalidator interface {
	InvalidateEndpoint(ctx context.Context, ep *domain.Endpoint) error
	InvalidateWorkflow(ctx context.Context, endpointID uuid.UUID) error
}

// MetadataInvalidator сбрасывает закэшированные метаданные (cache.Metadata).
type MetadataInvalidator interface {
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// SchemaInvalidator сбрасывает построенную схему модели (schema.Builder).
type SchemaInvalidator interface {
	Invalidate(modelName string)
}

// Executor выполняет workflow (orchestrator.Orchestrator).
type Executor interface {
	Execute(ctx context.Context, wf *domain.Workflow, req engine.Request) (*domain.Run, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	workflows WorkflowStore
	endpoints EndpointStore
	metadata  MetadataStore
	runs      RunStore
	routes    RouteResolver
	executor  Executor

	routeCache    RouteInvalidator
	metadataCache MetadataInvalidator
	schemas       SchemaInvalidator

	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Workflows WorkflowStore
	Endpoints EndpointStore
	Metadata  MetadataStore
	Runs      RunStore
	Routes    RouteResolver
	Executor  Executor

	// Опционально: сброс кэша после изменений.
	RouteCache    RouteInvalidator
	MetadataCache MetadataInvalidator
	Schemas       SchemaInvalidator

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		workflows:     cfg.Workflows,
		endpoints:     cfg.Endpoints,
		metadata:      cfg.Metadata,
		runs:          cfg.Runs,
		routes:        cfg.Routes,
		executor:      cfg.Executor,
		routeCache:    cfg.RouteCache,
		metadataCache: cfg.MetadataCache,
		schemas:       cfg.Schemas,
		metrics:       cfg.Metrics,
		logger:        logger,
	}
}

// invalidateWorkflow сбрасывает кэш активного workflow endpoint.
// Ошибка кэша не влияет на ответ: запись истечёт по TTL.
func (h *Handler) invalidateWorkflow(ctx context.Context, endpointID uuid.UUID) {
	if h.routeCache == nil {
		return
	}
	if err := h.routeCache.InvalidateWorkflow(ctx, endpointID); err != nil {
		h.logger.Warn("failed to invalidate workflow cache", "endpoint_id", endpointID, "error", err)
	}
}

func (h *Handler) invalidateEndpoint(ctx context.Context, ep *domain.Endpoint) {
	if h.routeCache == nil {
		return
	}
	if err := h.routeCache.InvalidateEndpoint(ctx, ep); err != nil {
		h.logger.Warn("failed to invalidate endpoint cache", "endpoint_id", ep.ID, "error", err)
	}
}

func (h *Handler) invalidateMetadata(ctx context.Context, id uuid.UUID) {
	if h.metadataCache == nil {
		return
	}
	if err := h.metadataCache.Invalidate(ctx, id); err != nil {
		h.logger.Warn("failed to invalidate metadata cache", "metadata_id", id, "error", err)
	}
}
