package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — запись о выполнении workflow.
//
// Run создаётся при каждом вызове endpoint и хранит итоговые outputs,
// чтобы выполнение можно было посмотреть после ответа клиенту.
type Run struct {
	ID         uuid.UUID `json:"id"`
	WorkflowID uuid.UUID `json:"workflow_id"`
	EndpointID uuid.UUID `json:"endpoint_id,omitempty"`

	Status RunStatus `json:"status"`

	// Outputs — результаты шагов (stepID → результат).
	Outputs map[string]any `json:"outputs,omitempty"`

	// StepsExecuted — сколько раз вызывались шаги, включая retry.
	StepsExecuted int `json:"steps_executed"`

	// FailedStepID — шаг, на котором run упал.
	FailedStepID string `json:"failed_step_id,omitempty"`

	Error string `json:"error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration возвращает длительность выполнения.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// MarkSucceeded помечает run как успешный.
func (r *Run) MarkSucceeded(outputs map[string]any) {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.Outputs = outputs
	r.FinishedAt = &now
}

// MarkFailed помечает run как упавший.
func (r *Run) MarkFailed(outputs map[string]any, stepID string, err error) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.Outputs = outputs
	r.FailedStepID = stepID
	if err != nil {
		r.Error = err.Error()
	}
	r.FinishedAt = &now
}
