package cli

import (
	"github.com/spf13/cobra"
)

type RekeyOptions struct {
	*RootOptions
	DryRun bool
}

func NewRekeyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RekeyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rekey",
		Short: "Recompute stored unique keys with the current identity rule",
		Long: `Recompute the unique_key of every stored row from school, student id and
academic year. Rows that collapse onto one key keep the most recently
modified row; the older ones are deleted and their history is moved to the
surviving key.

Example:
  student-roster-sync rekey --dry-run
  student-roster-sync rekey`,
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

			result, err := st.Rekey(ctx, opts.DryRun)
			if err != nil {
				return WrapExitError(ExitFailure, "rekey failed", err)
			}
			log.Info("Rekey: finished", "dry_run", opts.DryRun, "scanned", result.Scanned,
				"rekeyed", len(result.Rekeyed), "removed", len(result.Removed), "unkeyable", result.Unkeyable)
			return RenderRekey(cmd.OutOrStdout(), result, opts.DryRun)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the plan without writing")

	return cmd
}
