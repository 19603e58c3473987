package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"basegraph.app/ghsync/internal/service"
)

// Env is what the subcommands run against. It is built by the EnvLoader
// only once a subcommand runs.
type Env struct {
	Sync    service.SyncService
	Migrate func(ctx context.Context) ([]string, error)
}

// EnvLoader returns the environment and a cleanup func.
type EnvLoader func(ctx context.Context) (*Env, func(), error)

func NewRootCommand(load EnvLoader) *cobra.Command {
	root := &cobra.Command{
		Use:   "ghsync",
		Short: "Synchronize GitHub issues into the workspace database",
		Long: `ghsync mirrors GitHub issues into the workspace database.

It runs migrations, triggers issue syncs for a repository either in process
or through the worker queue, and reports the sync status of a repository.`,
		SilenceUsage: true,
	}

	root.AddCommand(newMigrateCommand(load))
	root.AddCommand(newSyncCommand(load))
	root.AddCommand(newStatusCommand(load))
	return root
}

func withEnv(cmd *cobra.Command, load EnvLoader, fn func(ctx context.Context, env *Env, out io.Writer) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, cleanup, err := load(ctx)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}
	return fn(ctx, env, cmd.OutOrStdout())
}
