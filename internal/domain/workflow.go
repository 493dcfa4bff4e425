package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepType — тип шага workflow.
type StepType string

const (
	StepTypeAPICall        StepType = "apiCall"
	StepTypeCondition      StepType = "condition"
	StepTypeTransformation StepType = "transformation"
	StepTypeLoop           StepType = "loop"
	StepTypeParallel       StepType = "parallelExecution"
	StepTypeDelay          StepType = "delay"
	StepTypeDBOperation    StepType = "dbOperation"
	StepTypeNotification   StepType = "notification"
	StepTypeFileOperation  StepType = "fileOperation"
)

// StepTypes — закрытый список поддерживаемых типов шагов.
var StepTypes = []StepType{
	StepTypeAPICall,
	StepTypeCondition,
	StepTypeTransformation,
	StepTypeLoop,
	StepTypeParallel,
	StepTypeDelay,
	StepTypeDBOperation,
	StepTypeNotification,
	StepTypeFileOperation,
}

// IsValid проверяет, входит ли тип в закрытый список.
func (t StepType) IsValid() bool {
	for _, known := range StepTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Workflow — граф шагов, привязанный к одному endpoint.
//
// Активный workflow неизменяем: update и delete отклоняются.
// На один endpoint в каждый момент активен не более одного workflow.
type Workflow struct {
	// ID — уникальный идентификатор workflow.
	ID uuid.UUID `json:"id" yaml:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name" yaml:"name"`

	// EndpointID — endpoint, который запускает workflow.
	EndpointID uuid.UUID `json:"endpoint_id" yaml:"endpoint_id"`

	// Steps — шаги workflow.
	Steps []Step `json:"steps" yaml:"steps"`

	// IsActive — флаг активности.
	IsActive bool `json:"is_active" yaml:"is_active"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// ActiveSteps возвращает только активные шаги.
func (w *Workflow) ActiveSteps() []Step {
	active := make([]Step, 0, len(w.Steps))
	for _, s := range w.Steps {
		if s.IsActive {
			active = append(active, s)
		}
	}
	return active
}

// Step — одна единица работы в workflow.
type Step struct {
	// ID — идентификатор шага. На него ссылаются переходы и шаблоны {{outputs.<id>}}.
	ID string `json:"id" yaml:"id"`

	// WorkflowID — родительский workflow.
	WorkflowID uuid.UUID `json:"workflow_id" yaml:"-"`

	// Name — имя шага.
	Name string `json:"step_name" yaml:"name"`

	// Type — тип шага.
	Type StepType `json:"step_type" yaml:"type"`

	// Config — конфигурация шага, может содержать плейсхолдеры {{path}}.
	Config map[string]any `json:"config,omitempty" yaml:"config"`

	// DependsOn — предшествующий шаг. Пусто только у входного шага.
	DependsOn string `json:"depends_on,omitempty" yaml:"depends_on"`

	OnSuccess OnSuccess `json:"on_success" yaml:"on_success"`
	OnFailure OnFailure `json:"on_failure" yaml:"on_failure"`

	IsActive bool `json:"is_active" yaml:"is_active"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// OnSuccess — переход после успешного шага.
type OnSuccess struct {
	Continue   bool   `json:"continue" yaml:"continue"`
	NextStepID string `json:"next_step_id,omitempty" yaml:"next_step_id"`
}

// OnFailure — поведение при падении шага.
type OnFailure struct {
	Retry          bool   `json:"retry" yaml:"retry"`
	FallbackStepID string `json:"fallback_step_id,omitempty" yaml:"fallback_step_id"`
}

// IsEntry возвращает true для входного шага (без dependsOn).
func (s *Step) IsEntry() bool {
	return s.DependsOn == ""
}
