package engine

import (
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Validate выполняет полную валидацию набора шагов.
//
// Проверяет:
//   - Наличие шагов
//   - Уникальность и непустоту ID
//   - Тип шага из закрытого списка
//   - Ровно один входной шаг (без dependsOn)
//   - dependsOn и все переходы ссылаются на существующие шаги
//
// Учитываются только активные шаги. Возвращает построенный граф.
func Validate(steps []domain.Step) (*Graph, error) {
	if len(steps) == 0 {
		return nil, ErrEmptySteps
	}

	stepIDs := make(map[string]bool, len(steps))
	var entries []string

	for i := range steps {
		step := &steps[i]

		if err := ValidateStep(step, stepIDs); err != nil {
			return nil, err
		}
		if step.IsEntry() {
			entries = append(entries, step.ID)
		}
	}

	switch {
	case len(entries) == 0:
		return nil, ErrNoEntryStep
	case len(entries) > 1:
		return nil, NewValidationError(entries[1], "depends_on",
			fmt.Sprintf("entry steps: %v", entries), ErrMultipleEntrySteps)
	}

	for i := range steps {
		step := &steps[i]
		if !step.IsEntry() && !stepIDs[step.DependsOn] {
			return nil, NewValidationError(step.ID, "depends_on",
				fmt.Sprintf("depends on unknown step: %s", step.DependsOn), ErrMissingDependency)
		}
	}

	return BuildGraph(steps)
}

// ValidateStep валидирует один шаг.
// stepIDs — уже встреченные ID шагов (для проверки уникальности).
func ValidateStep(step *domain.Step, stepIDs map[string]bool) error {
	if step.ID == "" {
		return NewValidationError("", "id", "step has empty ID", ErrEmptyStepID)
	}

	if stepIDs[step.ID] {
		return NewValidationError(step.ID, "id",
			fmt.Sprintf("duplicate step ID: %s", step.ID), ErrDuplicateStepID)
	}
	stepIDs[step.ID] = true

	if !step.Type.IsValid() {
		return NewValidationError(step.ID, "step_type",
			fmt.Sprintf("unknown step type: %q", step.Type), ErrUnknownStepType)
	}

	if step.DependsOn == step.ID {
		return NewValidationError(step.ID, "depends_on",
			"step depends on itself", ErrSelfDependency)
	}

	return nil
}
