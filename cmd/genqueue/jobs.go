package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/xraph/genqueue/client"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a generation job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		prompt, _ := cmd.Flags().GetString("prompt")
		workflowPath, _ := cmd.Flags().GetString("workflow")
		refImage, _ := cmd.Flags().GetString("reference-image")
		watch, _ := cmd.Flags().GetBool("watch")

		workflow, err := readWorkflow(workflowPath)
		if err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}

		var opts []client.SubmitOption
		if cmd.Flags().Changed("priority") {
			priority, _ := cmd.Flags().GetInt("priority")
			opts = append(opts, client.WithPriority(priority))
		}

		jobID, err := c.Submit(cmd.Context(), client.Payload{
			Prompt:         prompt,
			Workflow:       workflow,
			ReferenceImage: refImage,
		}, opts...)
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), jobID)

		if !watch {
			return nil
		}
		events, err := c.Watch(cmd.Context(), jobID)
		if err != nil {
			return err
		}
		for evt := range events {
			line := fmt.Sprintf("%-14s %-9s %3d%%", evt.Type, evt.Job.State, evt.Job.Progress)
			if evt.Job.Error != "" {
				line += "  " + evt.Job.Error
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		v, err := c.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), v)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.CancelJob(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue and worker statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		qs, err := c.QueueStats(cmd.Context())
		if err != nil {
			return err
		}
		ws, err := c.WorkerStats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"queue": qs, "workers": ws})
	},
}

func init() {
	submitCmd.Flags().StringP("prompt", "p", "", "Text prompt")
	submitCmd.Flags().StringP("workflow", "w", "", "Path to a workflow JSON file (- for stdin)")
	submitCmd.Flags().String("reference-image", "", "Reference image URL")
	submitCmd.Flags().Int("priority", 5, "Priority, lower runs first (0-9)")
	submitCmd.Flags().Bool("watch", false, "Stream progress until the job finishes")
	_ = submitCmd.MarkFlagRequired("prompt")
	_ = submitCmd.MarkFlagRequired("workflow")
}

// readWorkflow returns the workflow bytes untouched so large integer
// inputs are not rounded on the way to the server.
func readWorkflow(path string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}

	var nodes map[string]json.RawMessage
	if err := json.Unmarshal(data, &nodes); err != nil || nodes == nil {
		return nil, fmt.Errorf("workflow %s must be a JSON object", path)
	}
	return json.RawMessage(data), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
