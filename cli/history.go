package cli

import (
	"github.com/spf13/cobra"
)

func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "history <unique-key>",
		Short:         "Print the change history of one student",
		Example:       `  student-roster-sync history "ALPHA SCHOOL_1042_2024-2025"`,
		Args:          exactArgs(1),
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

			entries, err := st.History(ctx, args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read history", err)
			}
			return RenderHistory(cmd.OutOrStdout(), args[0], entries)
		},
	}
}
