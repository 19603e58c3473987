package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"basegraph.app/ghsync/internal/model"
)

type statusView struct {
	LastSync     *time.Time `json:"last_issue_sync" yaml:"last_issue_sync"`
	LastCursor   *string    `json:"last_issue_cursor" yaml:"last_issue_cursor"`
	StartedAt    *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	LastResult   *string    `json:"last_sync_result" yaml:"last_sync_result"`
	LastError    *string    `json:"last_sync_error" yaml:"last_sync_error"`
	RepositoryID int64      `json:"repository_id,string" yaml:"repository_id"`
	InProgress   bool       `json:"sync_in_progress" yaml:"sync_in_progress"`
}

func toStatusView(s *model.SyncStatus) statusView {
	v := statusView{
		RepositoryID: s.RepositoryID,
		InProgress:   s.InProgress,
		LastSync:     s.LastSyncAt,
		LastCursor:   s.LastCursor,
		StartedAt:    s.StartedAt,
		LastError:    s.LastError,
	}
	if s.LastOutcome != nil {
		outcome := string(*s.LastOutcome)
		v.LastResult = &outcome
	}
	return v
}

func newStatusCommand(load EnvLoader) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status <repository-id>",
		Short: "Show the issue sync status of a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoID, err := parseRepositoryID(args[0])
			if err != nil {
				return err
			}
			if output != "text" && output != "json" && output != "yaml" {
				return fmt.Errorf("unknown output format %q (text, json or yaml)", output)
			}

			return withEnv(cmd, load, func(ctx context.Context, env *Env, out io.Writer) error {
				status, err := env.Sync.Status(ctx, repoID)
				if err != nil {
					return err
				}
				return writeStatus(out, toStatusView(status), output)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json or yaml")
	return cmd
}

func writeStatus(out io.Writer, v statusView, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(v)
	}

	state := "idle"
	if v.InProgress {
		state = "in progress"
	}
	fmt.Fprintf(out, "repository:  %d\n", v.RepositoryID)
	fmt.Fprintf(out, "state:       %s\n", state)
	fmt.Fprintf(out, "last sync:   %s\n", formatTime(v.LastSync))
	fmt.Fprintf(out, "cursor:      %s\n", orNone(v.LastCursor))
	fmt.Fprintf(out, "last result: %s\n", orNone(v.LastResult))
	if v.LastError != nil {
		fmt.Fprintf(out, "last error:  %s\n", *v.LastError)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func orNone(s *string) string {
	if s == nil {
		return "none"
	}
	return *s
}
