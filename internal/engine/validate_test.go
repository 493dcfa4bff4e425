package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

func step(id string, typ domain.StepType, dependsOn string) domain.Step {
	return domain.Step{ID: id, Type: typ, DependsOn: dependsOn, IsActive: true}
}

func TestValidate_Valid(t *testing.T) {
	a := step("a", domain.StepTypeAPICall, "")
	a.OnSuccess = domain.OnSuccess{Continue: true, NextStepID: "b"}
	a.OnFailure = domain.OnFailure{FallbackStepID: "c"}
	b := step("b", domain.StepTypeTransformation, "a")
	c := step("c", domain.StepTypeNotification, "a")

	g, err := Validate([]domain.Step{a, b, c})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Entry == nil || g.Entry.ID != "a" {
		t.Errorf("expected entry a, got %v", g.Entry)
	}
	if len(g.Edges) != 2 {
		t.Errorf("expected 2 edges, got %d", len(g.Edges))
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		steps []domain.Step
		want  error
	}{
		{
			name:  "empty",
			steps: nil,
			want:  ErrEmptySteps,
		},
		{
			name:  "empty id",
			steps: []domain.Step{step("", domain.StepTypeDelay, "")},
			want:  ErrEmptyStepID,
		},
		{
			name: "duplicate id",
			steps: []domain.Step{
				step("a", domain.StepTypeDelay, ""),
				step("a", domain.StepTypeDelay, "x"),
			},
			want: ErrDuplicateStepID,
		},
		{
			name:  "unknown type",
			steps: []domain.Step{step("a", "webhookListener", "")},
			want:  ErrUnknownStepType,
		},
		{
			name: "no entry",
			steps: []domain.Step{
				step("a", domain.StepTypeDelay, "b"),
				step("b", domain.StepTypeDelay, "a"),
			},
			want: ErrNoEntryStep,
		},
		{
			name: "two entries",
			steps: []domain.Step{
				step("a", domain.StepTypeDelay, ""),
				step("b", domain.StepTypeDelay, ""),
			},
			want: ErrMultipleEntrySteps,
		},
		{
			name: "unknown dependency",
			steps: []domain.Step{
				step("a", domain.StepTypeDelay, ""),
				step("b", domain.StepTypeDelay, "zzz"),
			},
			want: ErrMissingDependency,
		},
		{
			name: "self dependency",
			steps: []domain.Step{
				step("a", domain.StepTypeDelay, ""),
				step("b", domain.StepTypeDelay, "b"),
			},
			want: ErrSelfDependency,
		},
		{
			name: "unknown next step",
			steps: []domain.Step{func() domain.Step {
				s := step("a", domain.StepTypeDelay, "")
				s.OnSuccess = domain.OnSuccess{Continue: true, NextStepID: "ghost"}
				return s
			}()},
			want: ErrUnknownStepRef,
		},
		{
			name: "unknown loop sub-step",
			steps: []domain.Step{func() domain.Step {
				s := step("a", domain.StepTypeLoop, "")
				s.Config = map[string]any{"loopStepIds": []any{"ghost"}}
				return s
			}()},
			want: ErrUnknownStepRef,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.steps)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_ValidationErrorCarriesStep(t *testing.T) {
	_, err := Validate([]domain.Step{
		step("a", domain.StepTypeDelay, ""),
		step("b", "bogus", "a"),
	})

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.StepID != "b" || ve.Field != "step_type" {
		t.Errorf("unexpected validation error: %+v", ve)
	}
}

func TestGraph_CycleAndReachability(t *testing.T) {
	a := step("a", domain.StepTypeAPICall, "")
	a.OnSuccess = domain.OnSuccess{Continue: true, NextStepID: "b"}
	b := step("b", domain.StepTypeCondition, "a")
	b.Config = map[string]any{"onTrue": "a", "onFalse": "{{outputs.x}}"}
	c := step("c", domain.StepTypeDelay, "a")

	g, err := Validate([]domain.Step{a, b, c})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cycle := g.FindCycle()
	if len(cycle) != 3 || cycle[0] != cycle[len(cycle)-1] {
		t.Errorf("expected cycle a→b→a, got %v", cycle)
	}

	unreachable := g.Unreachable()
	if len(unreachable) != 1 || unreachable[0] != "c" {
		t.Errorf("expected c unreachable, got %v", unreachable)
	}
}

func TestGraph_Acyclic(t *testing.T) {
	a := step("a", domain.StepTypeParallel, "")
	a.Config = map[string]any{"stepIds": []string{"b", "c"}}
	b := step("b", domain.StepTypeDelay, "a")
	c := step("c", domain.StepTypeDelay, "a")

	g, err := BuildGraph([]domain.Step{a, b, c})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cycle := g.FindCycle(); cycle != nil {
		t.Errorf("expected no cycle, got %v", cycle)
	}
	if len(g.Reachable()) != 3 {
		t.Errorf("expected all steps reachable")
	}
}
