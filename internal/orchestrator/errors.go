package orchestrator

import (
	"errors"
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Ошибки оркестратора.
var (
	// ErrGraphExhausted — run превысил лимит выполнений шагов.
	ErrGraphExhausted = errors.New("step execution limit exceeded")

	// ErrInvalidWorkflow — workflow не прошёл валидацию.
	ErrInvalidWorkflow = errors.New("invalid workflow")

	// ErrStepNotFound — переход ссылается на шаг, которого нет в run.
	ErrStepNotFound = errors.New("step not found in workflow")

	// ErrStepPanic — обработчик шага запаниковал.
	ErrStepPanic = errors.New("step handler panicked")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)

// StepError — ошибка конкретного шага run.
type StepError struct {
	StepID   string
	StepType domain.StepType
	Attempt  int
	Err      error
}

// Error реализует интерфейс error.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s (%s) failed: %v", e.StepID, e.StepType, e.Err)
}

// Unwrap возвращает базовую ошибку.
func (e *StepError) Unwrap() error {
	return e.Err
}
