package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newMigrateCommand(load EnvLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, load, func(ctx context.Context, env *Env, out io.Writer) error {
				applied, err := env.Migrate(ctx)
				if err != nil {
					return fmt.Errorf("migrating: %w", err)
				}
				if len(applied) == 0 {
					fmt.Fprintln(out, "database is up to date")
					return nil
				}
				for _, name := range applied {
					fmt.Fprintf(out, "applied %s\n", name)
				}
				return nil
			})
		},
	}
}
