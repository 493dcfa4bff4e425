package engine

import "errors"

// Ошибки валидации workflow.
var (
	// ErrEmptySteps — workflow не содержит активных шагов.
	ErrEmptySteps = errors.New("workflow has no steps")

	// ErrEmptyStepID — шаг не имеет ID.
	ErrEmptyStepID = errors.New("step has empty ID")

	// ErrDuplicateStepID — несколько шагов с одинаковым ID.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrUnknownStepType — неизвестный тип шага.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrNoEntryStep — нет шага без dependsOn.
	ErrNoEntryStep = errors.New("workflow has no entry step")

	// ErrMultipleEntrySteps — больше одного шага без dependsOn.
	ErrMultipleEntrySteps = errors.New("workflow has more than one entry step")

	// ErrMissingDependency — dependsOn ссылается на несуществующий шаг.
	ErrMissingDependency = errors.New("step depends on unknown step")

	// ErrSelfDependency — шаг зависит от самого себя.
	ErrSelfDependency = errors.New("step depends on itself")

	// ErrUnknownStepRef — переход или вложенный шаг ссылается на несуществующий шаг.
	ErrUnknownStepRef = errors.New("step references unknown step")
)

// ErrResolution — плейсхолдер ссылается на отсутствующий путь в контексте.
var ErrResolution = errors.New("placeholder resolution failed")

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	StepID  string // ID шага, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.StepID != "" {
		return "step " + e.StepID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(stepID, field, message string, err error) *ValidationError {
	return &ValidationError{
		StepID:  stepID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
