package steps

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ParallelStep — параллельное выполнение нескольких шагов.
//
// Конфигурация:
//
//	{
//	    "stepIds": ["fetch_user", "fetch_orders"]
//	}
//
// Все шаги выполняются конкурентно на общем контексте; каждый пишет
// свой ключ outputs[stepId]. Шаг ждёт завершения всех и возвращает
// первую ошибку. Ошибка отменяет контекст остальных.
// Output: результаты в порядке stepIds.
type ParallelStep struct{}

// NewParallelStep создаёт новый ParallelStep.
func NewParallelStep() *ParallelStep {
	return &ParallelStep{}
}

// Type возвращает тип шага.
func (s *ParallelStep) Type() domain.StepType {
	return domain.StepTypeParallel
}

// Execute выполняет шаги параллельно.
func (s *ParallelStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req.Runner == nil || req.Context == nil {
		return nil, ErrNoRunner
	}

	stepIDs := GetConfigStringSlice(req.Config, "stepIds")
	if len(stepIDs) == 0 {
		return nil, fmt.Errorf("%w: %s: stepIds must be a non-empty array", ErrInvalidConfig, domain.StepTypeParallel)
	}

	results := make([]any, len(stepIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range stepIDs {
		g.Go(func() error {
			out, err := req.Runner.RunStep(gctx, id, req.Context)
			if err != nil {
				return fmt.Errorf("parallel step %s: %w", id, err)
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return NewResponse(results), nil
}
