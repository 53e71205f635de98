// Package cli wires configuration, the feed client, the store and the
// reconciliation engine into the student-roster-sync commands.
package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/SamuelLeutner/student-roster-sync/config"
	"github.com/SamuelLeutner/student-roster-sync/logger"
	"github.com/SamuelLeutner/student-roster-sync/reconcile"
	"github.com/SamuelLeutner/student-roster-sync/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool

	// Now overrides the run clock (tests).
	Now func() time.Time
	// SheetsOptions are passed to the Sheets client instead of the
	// service account file (tests).
	SheetsOptions []option.ClientOption
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "student-roster-sync",
		Short: "Reconcile the upstream student roster into the local store",
		Long: `Fetch the current student roster from the upstream feed and reconcile it
against the stored roster of the current academic year: new students are
inserted, changed students updated and vanished students marked Inactive.
Every change is written to the history table.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewSetupCommand(opts))
	cmd.AddCommand(NewRekeyCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewArchivesCommand(opts))

	return cmd
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to load configuration", err)
	}
	return cfg, nil
}

func (o *RootOptions) newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(logger.Options{Mode: cfg.Log.Mode, Dir: cfg.Log.Dir, Verbose: o.Verbose})
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to initialize logger", err)
	}
	return log, nil
}

func (o *RootOptions) openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (*store.Store, error) {
	if err := cfg.ValidateDatabase(); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, &reconcile.ConnectionError{Err: err}
	}
	log.Info("Database: connected", "driver", st.Driver())
	return st, nil
}

func closeStore(st *store.Store, log *logger.Logger) {
	if err := st.Close(); err != nil {
		log.Error("Database: close failed", "error", err)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return WrapExitError(ExitUsage, "invalid arguments", err)
		}
		return nil
	}
}
