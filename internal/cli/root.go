// Package cli implements cectl, the operator CLI of a ceworker process.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	timeout   time.Duration
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cectl",
		Short: "Operate a ceworker analysis compute engine",
		Long: `cectl submits analysis reports to a ceworker process, inspects tasks
and pauses or resumes the worker pool.

Examples:
  cectl status
  cectl submit --unit proj-a --file report.json
  cectl task 42
  cectl pause --server http://ceworker:8080`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CECTL_SERVER", "http://127.0.0.1:8080"), "ceworker base URL")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")
	cmd.AddCommand(newStatusCmd(), newPauseCmd(), newResumeCmd(), newSubmitCmd(), newTaskCmd(), newCancelCmd(), newListCmd())
	return cmd
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func client() *Client { return NewClient(serverURL, timeout) }

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
