package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

const greetWorkflow = `
name: greet
steps:
  - id: hello
    type: transformation
    config:
      transformationType: combine
      inputValues: ["hello", "{{body.name}}"]
      separator: " "
    on_success:
      continue: true
      next_step_id: shout
  - id: shout
    type: transformation
    depends_on: hello
    config:
      transformationType: format
      formatType: string
      formatOptions:
        method: uppercase
      inputValues: ["{{outputs.hello}}"]
  - id: disabled
    type: delay
    depends_on: hello
    is_active: false
    config:
      duration: 10
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wf.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseWorkflow(t *testing.T) {
	wf, err := ParseWorkflow([]byte(greetWorkflow))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if wf.Name != "greet" || len(wf.Steps) != 3 {
		t.Fatalf("unexpected workflow: %+v", wf)
	}
	if !wf.Steps[0].IsActive || !wf.Steps[1].IsActive || wf.Steps[2].IsActive {
		t.Errorf("unexpected is_active flags: %v %v %v", wf.Steps[0].IsActive, wf.Steps[1].IsActive, wf.Steps[2].IsActive)
	}
	if wf.Steps[0].Type != domain.StepTypeTransformation || wf.Steps[0].OnSuccess.NextStepID != "shout" {
		t.Errorf("unexpected step: %+v", wf.Steps[0])
	}
	if wf.Steps[2].Config["duration"] != float64(10) {
		t.Errorf("expected JSON number, got %T", wf.Steps[2].Config["duration"])
	}
	if len(wf.ActiveSteps()) != 2 {
		t.Errorf("expected 2 active steps")
	}
}

func TestParseWorkflow_InvalidYAML(t *testing.T) {
	if _, err := ParseWorkflow([]byte("steps: [")); err == nil {
		t.Error("expected error")
	}
}

func TestValidateCmd(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
		stderr  string
	}{
		{name: "valid", content: greetWorkflow, stderr: "Workflow is valid: 2 steps, entry hello"},
		{
			name: "two entry steps",
			content: `
steps:
  - {id: a, type: delay}
  - {id: b, type: delay}
`,
			wantErr: engine.ErrMultipleEntrySteps,
		},
		{
			name: "unknown type",
			content: `
steps:
  - {id: a, type: teleport}
`,
			wantErr: engine.ErrUnknownStepType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			cmd := NewValidateCmd(func() *Output { return NewOutputTo(false, &stdout, &stderr) })
			cmd.SetArgs([]string{"-f", writeFile(t, tt.content)})
			cmd.SetOut(&stdout)
			cmd.SetErr(&stderr)

			err := cmd.Execute()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(stderr.String(), tt.stderr) {
				t.Errorf("unexpected output: %s", stderr.String())
			}
		})
	}
}

func TestRunCmd_Local(t *testing.T) {
	var stdout, stderr bytes.Buffer
	cmd := NewRunCmd(
		func() *Client { return NewClient("http://unused") },
		func() *Output { return NewOutputTo(true, &stdout, &stderr) },
	)
	cmd.SetArgs([]string{"-f", writeFile(t, greetWorkflow), "--body", `{"name":"ann"}`})
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("run: %v (%s)", err, stderr.String())
	}

	var run domain.Run
	if err := json.Unmarshal(stdout.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v (%s)", err, stdout.String())
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Errorf("unexpected status %s", run.Status)
	}
	if run.Outputs["hello"] != "hello ann" {
		t.Errorf("unexpected hello output: %v", run.Outputs["hello"])
	}
	shout, ok := run.Outputs["shout"].([]any)
	if !ok || len(shout) != 1 || shout[0] != "HELLO ANN" {
		t.Errorf("unexpected shout output: %v", run.Outputs["shout"])
	}
}

func TestRunCmd_LocalFailure(t *testing.T) {
	content := `
steps:
  - id: broken
    type: transformation
    config:
      transformationType: explode
      inputValues: [1]
`
	var stdout, stderr bytes.Buffer
	cmd := NewRunCmd(
		func() *Client { return NewClient("http://unused") },
		func() *Output { return NewOutputTo(false, &stdout, &stderr) },
	)
	cmd.SetArgs([]string{"-f", writeFile(t, content)})
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "run failed at step broken") {
		t.Fatalf("expected step failure, got %v", err)
	}
	if !strings.Contains(stderr.String(), "FAILED") {
		t.Errorf("expected failed run summary, got %s", stderr.String())
	}
}

func TestRunCmd_RequiresFile(t *testing.T) {
	cmd := NewRunCmd(
		func() *Client { return NewClient("http://unused") },
		func() *Output { return NewOutputTo(false, &bytes.Buffer{}, &bytes.Buffer{}) },
	)
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Error("expected error without --file")
	}
}

func TestClient(t *testing.T) {
	projectID := "2b1c8c4e-5d3a-4e0f-9a57-1f2e3d4c5b6a"
	var gotQuery, gotBody string

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/endpoints", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"data":[{"id":"00000000-0000-0000-0000-000000000001","endpoint_url":"/a/","request_method":"GET","version":"1.0","is_active":true}],"total":1}`))
	})
	mux.HandleFunc("DELETE /api/v1/workflows/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":{"code":"INVALID_STATE","message":"workflow is active"}}`))
	})
	mux.HandleFunc("/api/v1/execute/{version}/{path...}", func(w http.ResponseWriter, r *http.Request) {
		data := new(bytes.Buffer)
		data.ReadFrom(r.Body)
		gotBody = data.String()
		if r.PathValue("path") == "broken" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":{"code":"RUN_FAILED","message":"boom"},"run_id":"r1","step_id":"s1"}`))
			return
		}
		w.Write([]byte(`{"run_id":"r2","outputs":{"s":1}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL + "/")
	ctx := context.Background()

	endpoints, err := client.ListEndpoints(ctx, projectID)
	if err != nil {
		t.Fatalf("list endpoints: %v", err)
	}
	if len(endpoints) != 1 || endpoints[0].URL != "/a/" || gotQuery != "projectId="+projectID {
		t.Errorf("unexpected endpoints %v (query %s)", endpoints, gotQuery)
	}

	err = client.DeleteWorkflow(ctx, "x")
	if err == nil || err.Error() != "INVALID_STATE: workflow is active" {
		t.Errorf("unexpected error: %v", err)
	}

	result, err := client.Call(ctx, CallRequest{ProjectID: projectID, Method: "post", Path: "/ok", Body: json.RawMessage(`{"a":1}`)})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result.RunID != "r2" || result.Outputs["s"] != float64(1) || gotBody != `{"a":1}` {
		t.Errorf("unexpected call result %+v (body %s)", result, gotBody)
	}

	result, err = client.Call(ctx, CallRequest{ProjectID: projectID, Method: "GET", Path: "broken"})
	if err == nil || !strings.Contains(err.Error(), "RUN_FAILED") {
		t.Fatalf("expected run failure, got %v", err)
	}
	if result == nil || result.RunID != "r1" || result.StepID != "s1" {
		t.Errorf("expected failed run details, got %+v", result)
	}
}
