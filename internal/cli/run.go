package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/docstore"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/files"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/steps"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// NewValidateCmd создаёт команду проверки файла workflow.
func NewValidateCmd(outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a workflow definition file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			wf, err := LoadWorkflowFile(file)
			if err != nil {
				return err
			}
			graph, err := ValidateWorkflow(wf)
			if err != nil {
				return fmt.Errorf("invalid workflow: %w", err)
			}

			if unreachable := graph.Unreachable(); len(unreachable) > 0 {
				out.Success(fmt.Sprintf("warning: unreachable steps: %s", strings.Join(unreachable, ", ")))
			}
			if cycle := graph.FindCycle(); len(cycle) > 0 {
				out.Success(fmt.Sprintf("warning: cycle: %s", strings.Join(cycle, " -> ")))
			}
			out.Success(fmt.Sprintf("Workflow is valid: %d steps, entry %s", len(graph.Nodes), graph.Entry.ID))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Workflow definition file (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

// NewRunCmd создаёт команду локального запуска workflow и группу
// команд истории runs.
//
//	conveyor run -f wf.yaml --body '{"name":"ann"}'
//	conveyor run list --workflow-id ID
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		file        string
		body        string
		query       []string
		filesURL    string
		maxSteps    int
		maxLoops    int
		stepTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a workflow file locally, or inspect run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required to run a workflow locally")
			}
			out := outputFn()
			ctx := cmd.Context()

			wf, err := LoadWorkflowFile(file)
			if err != nil {
				return err
			}

			req := engine.Request{Query: map[string]any{}, Params: map[string]any{}}
			if body != "" {
				if err := json.Unmarshal([]byte(body), &req.Body); err != nil {
					return fmt.Errorf("invalid --body: %w", err)
				}
			}
			for _, kv := range query {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid query format %q, expected KEY=VALUE", kv)
				}
				req.Query[k] = v
			}

			bucket, err := files.Open(ctx, filesURL, "")
			if err != nil {
				return err
			}
			defer bucket.Close()

			registry := steps.DefaultRegistry(steps.Dependencies{
				Models:   memoryModels{store: docstore.NewMemoryStore()},
				Notifier: printNotifier{out: out},
				Files:    bucket,

				MaxLoopIterations: maxLoops,
			})
			orch := orchestrator.New(orchestrator.Config{
				Registry:    registry,
				MaxSteps:    maxSteps,
				StepTimeout: stepTimeout,
				Logger:      telemetry.NewLogger(out.errW, "warn", "text"),
			})

			run, err := orch.Execute(ctx, wf, req)
			if run == nil {
				return err
			}

			printRun(out, run)
			if err != nil {
				return fmt.Errorf("run failed at step %s: %w", run.FailedStepID, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Workflow definition file")
	cmd.Flags().StringVar(&body, "body", "", "Request body as JSON")
	cmd.Flags().StringSliceVar(&query, "query", nil, "Query values as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&filesURL, "files", "mem://", "Bucket URL for fileOperation steps")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 1000, "Maximum step executions per run")
	cmd.Flags().IntVar(&maxLoops, "max-loop-iterations", steps.DefaultMaxLoopIterations, "Maximum iterations of one loop step")
	cmd.Flags().DurationVar(&stepTimeout, "step-timeout", 30*time.Second, "Timeout of one step attempt")

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
	)

	return cmd
}

// printRun выводит outputs run: таблицу шаг/значение или run целиком в JSON.
func printRun(out *Output, run *domain.Run) {
	ids := make([]string, 0, len(run.Outputs))
	for id := range run.Outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([][]string, len(ids))
	for i, id := range ids {
		rows[i] = []string{id, compactJSON(run.Outputs[id])}
	}

	out.Success(fmt.Sprintf("Run %s: %s (%d steps)", run.ID, run.Status, run.StepsExecuted))
	out.Print([]string{"STEP", "OUTPUT"}, rows, run)
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(cmd.Context(), opts)
			if err != nil {
				return err
			}

			headers := []string{"ID", "WORKFLOW_ID", "STATUS", "STEPS", "FAILED_STEP", "STARTED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{
					r.ID.String(),
					r.WorkflowID.String(),
					string(r.Status),
					strconv.Itoa(r.StepsExecuted),
					r.FailedStepID,
					formatTime(r.StartedAt),
				}
			}
			outputFn().Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.WorkflowID, "workflow-id", "", "Filter by workflow ID")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (RUNNING, SUCCEEDED, FAILED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := clientFn().GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRun(outputFn(), run)
			return nil
		},
	}
}

// NewCallCmd создаёт команду вызова пользовательского endpoint.
//
//	conveyor call POST /users/list --project-id ID --body '{"page":1}'
func NewCallCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		projectID string
		version   string
		body      string
		query     []string
	)

	cmd := &cobra.Command{
		Use:   "call METHOD PATH",
		Short: "Call an endpoint through the execute trigger",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			req := CallRequest{
				ProjectID: projectID,
				Method:    args[0],
				Path:      args[1],
				Version:   version,
				Query:     url.Values{},
			}
			if body != "" {
				if !json.Valid([]byte(body)) {
					return fmt.Errorf("invalid --body: not a JSON document")
				}
				req.Body = json.RawMessage(body)
			}
			for _, kv := range query {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid query format %q, expected KEY=VALUE", kv)
				}
				req.Query.Add(k, v)
			}

			result, err := clientFn().Call(cmd.Context(), req)
			if result != nil {
				out.JSON(result)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&projectID, "project-id", "", "Project ID (required)")
	cmd.Flags().StringVar(&version, "version", domain.DefaultEndpointVersion, "Endpoint version")
	cmd.Flags().StringVar(&body, "body", "", "Request body as JSON")
	cmd.Flags().StringSliceVar(&query, "query", nil, "Query values as KEY=VALUE (repeatable)")
	cmd.MarkFlagRequired("project-id")

	return cmd
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
