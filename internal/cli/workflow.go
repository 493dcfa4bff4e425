package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/domain"
)

// NewWorkflowCmd создаёт группу команд для управления workflows.
func NewWorkflowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
	}

	cmd.AddCommand(
		newWorkflowListCmd(clientFn, outputFn),
		newWorkflowCreateCmd(clientFn, outputFn),
		newWorkflowShowCmd(clientFn, outputFn),
		newWorkflowActivateCmd(clientFn, outputFn),
		newWorkflowDeactivateCmd(clientFn, outputFn),
		newWorkflowDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

var workflowHeaders = []string{"ID", "NAME", "STEPS", "ACTIVE", "UPDATED"}

func workflowRow(wf domain.Workflow) []string {
	return []string{
		wf.ID.String(),
		wf.Name,
		strconv.Itoa(len(wf.Steps)),
		strconv.FormatBool(wf.IsActive),
		formatTime(wf.UpdatedAt),
	}
}

func newWorkflowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var endpointID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows of an endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			workflows, err := clientFn().ListWorkflows(cmd.Context(), endpointID)
			if err != nil {
				return err
			}

			rows := make([][]string, len(workflows))
			for i, wf := range workflows {
				rows[i] = workflowRow(wf)
			}
			outputFn().Print(workflowHeaders, rows, workflows)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpointID, "endpoint-id", "", "Endpoint ID (required)")
	cmd.MarkFlagRequired("endpoint-id")

	return cmd
}

func newWorkflowCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file, endpointID, name string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			wf, err := LoadWorkflowFile(file)
			if err != nil {
				return err
			}
			if name == "" {
				name = wf.Name
			}

			created, err := clientFn().CreateWorkflow(cmd.Context(), CreateWorkflowRequest{
				Name:       name,
				EndpointID: endpointID,
				Steps:      wf.Steps,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow created: %s", created.ID))
			out.Print(workflowHeaders, [][]string{workflowRow(*created)}, created)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Workflow definition file (required)")
	cmd.Flags().StringVar(&endpointID, "endpoint-id", "", "Endpoint ID (required)")
	cmd.Flags().StringVar(&name, "name", "", "Workflow name (defaults to the name in the file)")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("endpoint-id")

	return cmd
}

func newWorkflowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show workflow steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := clientFn().GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			headers := []string{"STEP", "TYPE", "DEPENDS_ON", "NEXT", "FALLBACK", "ACTIVE"}
			rows := make([][]string, len(wf.Steps))
			for i, s := range wf.Steps {
				rows[i] = []string{
					s.ID,
					string(s.Type),
					s.DependsOn,
					s.OnSuccess.NextStepID,
					s.OnFailure.FallbackStepID,
					strconv.FormatBool(s.IsActive),
				}
			}
			outputFn().Print(headers, rows, wf)
			return nil
		},
	}
}

func newWorkflowActivateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "activate ID",
		Short: "Make the workflow the active one for its endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := clientFn().ActivateWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Workflow activated: %s", wf.ID))
			return nil
		},
	}
}

func newWorkflowDeactivateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate ID",
		Short: "Deactivate a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := clientFn().DeactivateWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Workflow deactivated: %s", wf.ID))
			return nil
		},
	}
}

func newWorkflowDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an inactive workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteWorkflow(cmd.Context(), args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Workflow deleted: %s", args[0]))
			return nil
		},
	}
}
