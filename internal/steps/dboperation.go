package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Conveyor/internal/docstore"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/query"
)

// ErrModelResolution — коллекция модели не может быть получена
// (нет метаданных, недоступно хранилище). Такая ошибка завершает run
// без retry и fallback.
var ErrModelResolution = errors.New("model resolution failed")

// ModelResolver возвращает коллекцию документов по ID метаданных модели.
type ModelResolver interface {
	Collection(ctx context.Context, modelID string) (docstore.Collection, error)
}

// OverrideError — ошибка с пользовательским текстом.
// Error() возвращает Message, errors.Is/As видят исходную ошибку.
type OverrideError struct {
	Message string
	Err     error
}

func (e *OverrideError) Error() string {
	return e.Message
}

func (e *OverrideError) Unwrap() error {
	return e.Err
}

// DBOperationStep — операция над динамической коллекцией.
//
// Конфигурация:
//
//	{
//	    "model_id": "6b1f...",
//	    "query": {
//	        "type": "find",
//	        "filter": {"status": "active"},
//	        "limit": 10,
//	        "on_failure": {"error_message": "users lookup failed"}
//	    }
//	}
type DBOperationStep struct {
	models ModelResolver
}

// NewDBOperationStep создаёт новый DBOperationStep.
func NewDBOperationStep(models ModelResolver) *DBOperationStep {
	return &DBOperationStep{models: models}
}

// Type возвращает тип шага.
func (s *DBOperationStep) Type() domain.StepType {
	return domain.StepTypeDBOperation
}

// Execute выполняет запрос через Query Executor.
func (s *DBOperationStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	desc := GetConfigMap(req.Config, "query")
	out, err := s.execute(ctx, req.Config, desc)
	if err != nil {
		if msg := failureMessage(req.Config, desc); msg != "" {
			return nil, &OverrideError{Message: msg, Err: err}
		}
		return nil, err
	}
	return NewResponse(out), nil
}

func (s *DBOperationStep) execute(ctx context.Context, config, desc map[string]any) (any, error) {
	modelID := GetConfigString(config, "model_id")
	if modelID == "" {
		return nil, fmt.Errorf("%w: %s: model_id is required", ErrInvalidConfig, domain.StepTypeDBOperation)
	}
	if desc == nil {
		return nil, fmt.Errorf("%w: %s: query is required", ErrInvalidConfig, domain.StepTypeDBOperation)
	}

	coll, err := s.models.Collection(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelResolution, err)
	}

	out, err := query.Execute(ctx, coll, desc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandlerFailure, err)
	}
	return out, nil
}

// failureMessage ищет on_failure.error_message в query, затем в конфиге шага.
func failureMessage(config, desc map[string]any) string {
	for _, src := range []map[string]any{desc, config} {
		if src == nil {
			continue
		}
		if msg := GetConfigString(GetConfigMap(src, "on_failure"), "error_message"); msg != "" {
			return msg
		}
	}
	return ""
}
