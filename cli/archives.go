package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SamuelLeutner/student-roster-sync/archive"
)

func NewArchivesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "archives [academic-year]",
		Short: "List archived feeds, optionally for one academic year",
		Long: `List the keys of the raw feeds kept by the configured archive. Any key
can be passed to "sync --replay".

Example:
  student-roster-sync archives 2024-2025`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
				return WrapExitError(ExitUsage, "invalid arguments", err)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			a, err := archive.New(ctx, cfg.Archive)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to open archive", err)
			}
			if a == nil {
				return NewExitError(ExitFailure, "no archive configured (archive.driver)")
			}

			prefix := "feeds/"
			if len(args) == 1 {
				prefix += args[0] + "/"
			}
			keys, err := a.List(ctx, prefix)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list archive", err)
			}
			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintf(out, "No archived feeds under %s.\n", prefix)
				return nil
			}
			for _, k := range keys {
				fmt.Fprintln(out, k)
			}
			return nil
		},
	}
}
