package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/docstore"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// workflowFile — формат файла определения workflow.
//
//	name: greet
//	steps:
//	  - id: hello
//	    type: transformation
//	    config:
//	      transformationType: combine
//	      inputValues: ["hello", "{{body.name}}"]
type workflowFile struct {
	Name  string        `yaml:"name"`
	Steps []domain.Step `yaml:"steps"`
}

// stepFlags — поля шага, у которых в файле другое значение по умолчанию.
type stepFlags struct {
	IsActive *bool `yaml:"is_active"`
}

// LoadWorkflowFile читает workflow из YAML файла.
// Шаги без is_active считаются активными.
func LoadWorkflowFile(path string) (*domain.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return ParseWorkflow(data)
}

// ParseWorkflow разбирает YAML определение workflow.
func ParseWorkflow(data []byte) (*domain.Workflow, error) {
	var file workflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}

	var flags struct {
		Steps []stepFlags `yaml:"steps"`
	}
	if err := yaml.Unmarshal(data, &flags); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	for i := range file.Steps {
		if i < len(flags.Steps) && flags.Steps[i].IsActive != nil {
			file.Steps[i].IsActive = *flags.Steps[i].IsActive
		} else {
			file.Steps[i].IsActive = true
		}
	}

	// Config приводится к JSON типам (float64, map[string]any),
	// как у workflow, загруженного из API.
	steps, err := normalizeSteps(file.Steps)
	if err != nil {
		return nil, err
	}

	return &domain.Workflow{Name: file.Name, Steps: steps}, nil
}

func normalizeSteps(steps []domain.Step) ([]domain.Step, error) {
	data, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("normalize steps: %w", err)
	}
	var result []domain.Step
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("normalize steps: %w", err)
	}
	return result, nil
}

// ValidateWorkflow проверяет граф активных шагов.
func ValidateWorkflow(wf *domain.Workflow) (*engine.Graph, error) {
	return engine.Validate(wf.ActiveSteps())
}

// memoryModels отдаёт коллекции in-memory хранилища по model_id.
type memoryModels struct {
	store *docstore.MemoryStore
}

func (m memoryModels) Collection(_ context.Context, modelID string) (docstore.Collection, error) {
	return m.store.Collection(modelID), nil
}

// printNotifier выводит уведомления вместо отправки.
type printNotifier struct {
	out *Output
}

func (p printNotifier) Notify(_ context.Context, n *domain.Notification) error {
	switch {
	case n.Email != nil:
		p.out.Success(fmt.Sprintf("notification %s: email to %s: %s", n.ID, n.Email.To, n.Email.Subject))
	case n.SMS != nil:
		p.out.Success(fmt.Sprintf("notification %s: sms to %s", n.ID, n.SMS.To))
	default:
		p.out.Success(fmt.Sprintf("notification %s: %s", n.ID, n.Type))
	}
	return nil
}
