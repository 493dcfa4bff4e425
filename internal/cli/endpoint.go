package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/domain"
)

// NewEndpointCmd создаёт группу команд для управления endpoints.
func NewEndpointCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoint",
		Short: "Manage endpoints",
	}

	cmd.AddCommand(
		newEndpointListCmd(clientFn, outputFn),
		newEndpointCreateCmd(clientFn, outputFn),
		newEndpointToggleCmd(clientFn, outputFn, "enable", true),
		newEndpointToggleCmd(clientFn, outputFn, "disable", false),
		newEndpointDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

var endpointHeaders = []string{"ID", "METHOD", "URL", "VERSION", "ACTIVE"}

func endpointRow(ep domain.Endpoint) []string {
	return []string{ep.ID.String(), ep.Method, ep.URL, ep.Version, strconv.FormatBool(ep.IsActive)}
}

func newEndpointListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List endpoints of a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoints, err := clientFn().ListEndpoints(cmd.Context(), projectID)
			if err != nil {
				return err
			}

			rows := make([][]string, len(endpoints))
			for i, ep := range endpoints {
				rows[i] = endpointRow(ep)
			}
			outputFn().Print(endpointHeaders, rows, endpoints)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project-id", "", "Project ID (required)")
	cmd.MarkFlagRequired("project-id")

	return cmd
}

func newEndpointCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req CreateEndpointRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			ep, err := clientFn().CreateEndpoint(cmd.Context(), req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Endpoint created: %s", ep.ID))
			out.Print(endpointHeaders, [][]string{endpointRow(*ep)}, ep)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.ProjectID, "project-id", "", "Project ID (required)")
	cmd.Flags().StringVar(&req.URL, "url", "", "Endpoint URL, e.g. /users/list (required)")
	cmd.Flags().StringVar(&req.Method, "method", "GET", "HTTP method")
	cmd.Flags().StringVar(&req.Version, "version", domain.DefaultEndpointVersion, "Endpoint version")
	cmd.Flags().StringVar(&req.Description, "description", "", "Description")
	cmd.MarkFlagRequired("project-id")
	cmd.MarkFlagRequired("url")

	return cmd
}

func newEndpointToggleCmd(clientFn func() *Client, outputFn func() *Output, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: "Set endpoint is_active=" + strconv.FormatBool(active),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, err := clientFn().SetEndpointActive(cmd.Context(), args[0], active)
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Endpoint %s: active=%t", ep.ID, ep.IsActive))
			return nil
		},
	}
}

func newEndpointDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteEndpoint(cmd.Context(), args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Endpoint deleted: %s", args[0]))
			return nil
		},
	}
}
