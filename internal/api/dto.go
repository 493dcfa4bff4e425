package api

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Workflow DTOs

// CreateWorkflowRequest — запрос на создание workflow.
// Новый workflow всегда неактивен.
type CreateWorkflowRequest struct {
	Name       string        `json:"name"`
	EndpointID uuid.UUID     `json:"endpoint_id"`
	Steps      []domain.Step `json:"steps,omitempty"`
}

// Validate проверяет обязательные поля.
func (r *CreateWorkflowRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.EndpointID == uuid.Nil {
		return fmt.Errorf("endpoint_id is required")
	}
	return validateSteps(r.Steps)
}

// UpdateWorkflowRequest — запрос на обновление workflow.
// Steps, если переданы, полностью заменяют шаги.
type UpdateWorkflowRequest struct {
	Name  *string        `json:"name,omitempty"`
	Steps *[]domain.Step `json:"steps,omitempty"`
}

// validateSteps проверяет ID и тип каждого шага (без проверки графа:
// граф проверяется при активации).
func validateSteps(steps []domain.Step) error {
	seen := make(map[string]bool, len(steps))
	for i := range steps {
		if err := validateStep(&steps[i]); err != nil {
			return err
		}
		if seen[steps[i].ID] {
			return fmt.Errorf("duplicate step id %q", steps[i].ID)
		}
		seen[steps[i].ID] = true
	}
	return nil
}

func validateStep(step *domain.Step) error {
	if step.ID == "" {
		return fmt.Errorf("step id is required")
	}
	if !step.Type.IsValid() {
		return fmt.Errorf("step %s: unknown step type %q", step.ID, step.Type)
	}
	return nil
}

// Endpoint DTOs

// CreateEndpointRequest — запрос на создание endpoint.
type CreateEndpointRequest struct {
	ProjectID   uuid.UUID `json:"project_id"`
	URL         string    `json:"endpoint_url"`
	Method      string    `json:"request_method"`
	Version     string    `json:"version,omitempty"`
	Description string    `json:"description,omitempty"`
	IsActive    *bool     `json:"is_active,omitempty"`
}

// ToDomain конвертирует запрос в domain.Endpoint (по умолчанию активный).
func (r *CreateEndpointRequest) ToDomain() (*domain.Endpoint, error) {
	if r.ProjectID == uuid.Nil {
		return nil, fmt.Errorf("project_id is required")
	}
	if r.URL == "" {
		return nil, fmt.Errorf("endpoint_url is required")
	}
	if !domain.IsValidMethod(r.Method) {
		return nil, fmt.Errorf("invalid request_method %q", r.Method)
	}

	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	ep := &domain.Endpoint{
		ProjectID:   r.ProjectID,
		URL:         r.URL,
		Method:      r.Method,
		Version:     r.Version,
		Description: r.Description,
		IsActive:    active,
	}
	ep.Normalize()
	return ep, nil
}

// SetEndpointActiveRequest — включение/выключение endpoint.
type SetEndpointActiveRequest struct {
	IsActive bool `json:"is_active"`
}

// Metadata DTOs

// CreateMetadataRequest — запрос на создание метаданных модели.
type CreateMetadataRequest struct {
	Name           string         `json:"name"`
	Version        int            `json:"version,omitempty"`
	ProjectID      uuid.UUID      `json:"project_id"`
	OrganisationID uuid.UUID      `json:"organisation_id"`
	Fields         []domain.Field `json:"attributes"`
}

// ToDomain конвертирует запрос в domain.DatabaseMetadata.
func (r *CreateMetadataRequest) ToDomain() (*domain.DatabaseMetadata, error) {
	if r.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if r.ProjectID == uuid.Nil || r.OrganisationID == uuid.Nil {
		return nil, fmt.Errorf("project_id and organisation_id are required")
	}
	seen := make(map[string]bool, len(r.Fields))
	for _, f := range r.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field name is required")
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if !f.Type.IsValid() {
			return nil, fmt.Errorf("field %s: unknown type %q", f.Name, f.Type)
		}
	}
	return &domain.DatabaseMetadata{
		Name:           r.Name,
		Version:        r.Version,
		ProjectID:      r.ProjectID,
		OrganisationID: r.OrganisationID,
		Fields:         r.Fields,
	}, nil
}

// MetadataResponse — метаданные с именем коллекции.
type MetadataResponse struct {
	*domain.DatabaseMetadata
	ModelName string `json:"model_name"`
}

// Run DTOs

// RunResponse — ответ с run.
type RunResponse struct {
	domain.Run
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{Run: r, DurationMs: r.Duration().Milliseconds()}
}

// Execute DTOs

// ExecuteResponse — ответ execute: outputs всех выполненных шагов.
type ExecuteResponse struct {
	RunID   uuid.UUID      `json:"run_id"`
	Outputs map[string]any `json:"outputs"`
}

// ExecuteErrorResponse — ответ execute при падении run.
type ExecuteErrorResponse struct {
	Error   ErrorDetail    `json:"error"`
	RunID   uuid.UUID      `json:"run_id"`
	StepID  string         `json:"step_id,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`
}

// parsePage нормализует limit/offset списка.
func parsePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
