package steps

import (
	"context"
	"errors"
	"testing"

	"github.com/shaiso/Conveyor/internal/docstore"
	"github.com/shaiso/Conveyor/internal/query"
)

var errNoMetadata = errors.New("metadata not found")

// fakeModels отдаёт коллекции из памяти; без store любая модель неизвестна.
type fakeModels struct {
	store *docstore.MemoryStore
}

func (m fakeModels) Collection(_ context.Context, modelID string) (docstore.Collection, error) {
	if m.store == nil || modelID == "missing" {
		return nil, errNoMetadata
	}
	return m.store.Collection(modelID), nil
}

func TestDBOperationStep(t *testing.T) {
	models := fakeModels{store: docstore.NewMemoryStore()}
	step := NewDBOperationStep(models)
	ctx := context.Background()

	insert := map[string]any{
		"model_id": "users",
		"query": map[string]any{
			"type": "insertMany",
			"documents": []any{
				map[string]any{"name": "ann", "status": "active"},
				map[string]any{"name": "bob", "status": "active"},
				map[string]any{"name": "cid", "status": "blocked"},
			},
		},
	}
	if _, err := step.Execute(ctx, newRequest(insert, nil)); err != nil {
		t.Fatalf("insertMany: %v", err)
	}

	count := map[string]any{
		"model_id": "users",
		"query": map[string]any{
			"type":   "count",
			"filter": map[string]any{"status": "active"},
		},
	}
	resp, err := step.Execute(ctx, newRequest(count, nil))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if resp.Output != int64(2) {
		t.Errorf("expected 2, got %v", resp.Output)
	}
}

func TestDBOperationStep_InvalidConfig(t *testing.T) {
	step := NewDBOperationStep(fakeModels{store: docstore.NewMemoryStore()})

	tests := []struct {
		name   string
		config map[string]any
	}{
		{"missing model_id", map[string]any{"query": map[string]any{"type": "find"}}},
		{"missing query", map[string]any{"model_id": "users"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := step.Execute(context.Background(), newRequest(tt.config, nil))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestDBOperationStep_ModelResolution(t *testing.T) {
	step := NewDBOperationStep(fakeModels{})

	config := map[string]any{
		"model_id": "missing",
		"query":    map[string]any{"type": "find"},
	}
	_, err := step.Execute(context.Background(), newRequest(config, nil))
	if !errors.Is(err, ErrModelResolution) {
		t.Errorf("expected ErrModelResolution, got %v", err)
	}
	if !errors.Is(err, errNoMetadata) {
		t.Errorf("expected resolver error in chain, got %v", err)
	}
}

func TestDBOperationStep_FailureMessageOverride(t *testing.T) {
	step := NewDBOperationStep(fakeModels{store: docstore.NewMemoryStore()})

	tests := []struct {
		name   string
		config map[string]any
	}{
		{
			name: "query on_failure",
			config: map[string]any{
				"model_id": "users",
				"query": map[string]any{
					"type":       "explode",
					"on_failure": map[string]any{"error_message": "users lookup failed"},
				},
			},
		},
		{
			name: "step on_failure",
			config: map[string]any{
				"model_id":   "users",
				"query":      map[string]any{"type": "explode"},
				"on_failure": map[string]any{"error_message": "users lookup failed"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := step.Execute(context.Background(), newRequest(tt.config, nil))
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Error() != "users lookup failed" {
				t.Errorf("expected override message, got %q", err.Error())
			}
			if !errors.Is(err, query.ErrUnknownQueryType) {
				t.Error("override must keep the original error kind")
			}
			var override *OverrideError
			if !errors.As(err, &override) {
				t.Error("expected OverrideError")
			}
		})
	}
}

func TestDBOperationStep_NoOverrideKeepsMessage(t *testing.T) {
	step := NewDBOperationStep(fakeModels{store: docstore.NewMemoryStore()})

	config := map[string]any{
		"model_id": "users",
		"query":    map[string]any{"type": "explode"},
	}
	_, err := step.Execute(context.Background(), newRequest(config, nil))
	if !errors.Is(err, ErrHandlerFailure) || !errors.Is(err, query.ErrUnknownQueryType) {
		t.Errorf("unexpected error: %v", err)
	}
	var override *OverrideError
	if errors.As(err, &override) {
		t.Error("no override expected")
	}
}
