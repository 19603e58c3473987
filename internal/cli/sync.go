package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"basegraph.app/ghsync/internal/queue"
	"basegraph.app/ghsync/internal/service"
)

const progressEvery = 100

func newSyncCommand(load EnvLoader) *cobra.Command {
	var (
		full      bool
		batchSize int
		enqueue   bool
	)

	cmd := &cobra.Command{
		Use:   "sync <repository-id>",
		Short: "Synchronize the issues of one repository",
		Long: `Synchronize the issues of one repository.

By default only issues updated since the last sync are fetched. Use --full to
walk every page, and --enqueue to hand the sync to the worker instead of
running it here.

Examples:
  ghsync sync 1795014213341876224
  ghsync sync 1795014213341876224 --full --batch-size 50
  ghsync sync 1795014213341876224 --enqueue`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoID, err := parseRepositoryID(args[0])
			if err != nil {
				return err
			}
			if batchSize < 0 || batchSize > 100 {
				return fmt.Errorf("--batch-size must be between 1 and 100")
			}

			return withEnv(cmd, load, func(ctx context.Context, env *Env, out io.Writer) error {
				if enqueue {
					if err := env.Sync.Enqueue(ctx, repoID, full, queue.TriggerCLI); err != nil {
						return fmt.Errorf("enqueueing sync: %w", err)
					}
					fmt.Fprintf(out, "sync of repository %d queued\n", repoID)
					return nil
				}
				return runSync(ctx, env.Sync, out, repoID, full, batchSize)
			})
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Ignore the stored cursor and fetch every issue")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Issues per page, at most 100 (default 100)")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "Queue the sync for the worker instead of running it")
	return cmd
}

func runSync(ctx context.Context, svc service.SyncService, out io.Writer, repoID int64, full bool, batchSize int) error {
	result, err := svc.Sync(ctx, repoID, service.SyncOptions{
		Full:      full,
		BatchSize: batchSize,
		OnProgress: func(p service.SyncProgress) {
			if p.Processed%progressEvery == 0 {
				fmt.Fprintf(out, "  %d issues processed (page %d)\n", p.Processed, p.Page)
			}
		},
	})
	if errors.Is(err, service.ErrSyncInProgress) {
		return fmt.Errorf("repository %d: a sync is already in progress", repoID)
	}
	if err != nil {
		return fmt.Errorf("syncing repository %d: %w", repoID, err)
	}

	fmt.Fprintf(out, "synced %d issues: %d created, %d updated, %d errors\n",
		result.Processed, result.Created, result.Updated, result.Errors)
	if result.Cursor != nil {
		fmt.Fprintf(out, "cursor: %s\n", *result.Cursor)
	}
	for _, e := range result.ErrorDetails {
		fmt.Fprintf(out, "  #%d: %s\n", e.Number, e.Message)
	}
	return nil
}

func parseRepositoryID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid repository id %q", s)
	}
	return id, nil
}
