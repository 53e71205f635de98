package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewSetupCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the roster and history tables",
		Long: `Apply the schema for the configured database driver. Safe to run on an
existing database: tables and indexes are only created when missing.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			log, err := opts.newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			st, err := opts.openStore(ctx, cfg, log)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to open database", err)
			}
			defer closeStore(st, log)

			if err := st.EnsureSchema(ctx); err != nil {
				return WrapExitError(ExitFailure, "failed to apply schema", err)
			}
			log.Info("Setup: schema applied", "driver", st.Driver())
			fmt.Fprintf(cmd.OutOrStdout(), "Schema ready (%s).\n", st.Driver())
			return nil
		},
	}
}
