package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/worker"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show worker pool and queue status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st worker.Status
			if err := client().Do(cmd.Context(), http.MethodGet, "/api/v1/admin/status", nil, &st); err != nil {
				return err
			}
			return printStatus(cmd, st)
		},
	}
}

func printStatus(cmd *cobra.Command, st worker.Status) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "workers\t%d\n", st.Workers)
	fmt.Fprintf(tw, "busy\t%d\n", st.Busy)
	fmt.Fprintf(tw, "paused\t%t\n", st.Paused)
	fmt.Fprintf(tw, "queue_depth\t%d\n", st.QueueDepth)
	if len(st.Running) > 0 {
		fmt.Fprintf(tw, "running\t%v\n", st.Running)
	}
	return tw.Flush()
}

func newToggleCmd(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st worker.Status
			if err := client().Do(cmd.Context(), http.MethodPost, path, nil, &st); err != nil {
				return err
			}
			return printStatus(cmd, st)
		},
	}
}

func newPauseCmd() *cobra.Command {
	return newToggleCmd("pause", "Stop claiming new tasks; running tasks finish", "/api/v1/admin/pause")
}

func newResumeCmd() *cobra.Command {
	return newToggleCmd("resume", "Resume claiming tasks", "/api/v1/admin/resume")
}

func newSubmitCmd() *cobra.Command {
	var unit, file string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an analysis report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := readReport(cmd, file)
			if err != nil {
				return err
			}
			if !json.Valid(report) {
				return fmt.Errorf("%s is not valid JSON", file)
			}
			body, err := json.Marshal(map[string]any{"unit_ref": unit, "report": json.RawMessage(report)})
			if err != nil {
				return err
			}
			var out map[string]any
			if err := client().Do(cmd.Context(), http.MethodPost, "/api/v1/analyses", body, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "", "unit reference (defaults to the report's unit/projectKey)")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "report file, - for stdin")
	return cmd
}

func readReport(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return b, nil
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	return b, nil
}

func newTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "task <id|uuid>",
		Short: "Show a task and its step outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t model.Task
			if err := client().Do(cmd.Context(), http.MethodGet, "/api/v1/tasks/"+url.PathEscape(args[0]), nil, &t); err != nil {
				return err
			}
			return printTask(cmd, &t)
		},
	}
}

func printTask(cmd *cobra.Command, t *model.Task) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "task %d (%s) unit=%s status=%s attempt=%d\n", t.ID, t.UUID, t.UnitRef, t.Status, t.Attempt)
	if t.ErrorMessage != "" {
		fmt.Fprintf(out, "error: %s\n", t.ErrorMessage)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSTEP\tRESULT\tMESSAGE")
	for _, o := range t.Outcomes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", o.Seq, o.StepName, o.Result, o.Message)
	}
	return tw.Flush()
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			if err := client().Do(cmd.Context(), http.MethodPost, fmt.Sprintf("/api/v1/tasks/%d/cancel", id), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancel requested for task %d\n", id)
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			var out struct {
				Items []model.Task `json:"items"`
			}
			if err := client().Do(cmd.Context(), http.MethodGet, "/api/v1/tasks?"+q.Encode(), nil, &out); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUNIT\tSTATUS\tSUBMITTED")
			for _, t := range out.Items {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", t.ID, t.UnitRef, t.Status, t.SubmittedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "max tasks")
	return cmd
}
