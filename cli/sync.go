package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/SamuelLeutner/student-roster-sync/archive"
	"github.com/SamuelLeutner/student-roster-sync/config"
	"github.com/SamuelLeutner/student-roster-sync/logger"
	"github.com/SamuelLeutner/student-roster-sync/metrics"
	"github.com/SamuelLeutner/student-roster-sync/models"
	"github.com/SamuelLeutner/student-roster-sync/reconcile"
	"github.com/SamuelLeutner/student-roster-sync/services"
)

type SyncOptions struct {
	*RootOptions
	// Replay is an archive key; its stored feed is reconciled instead of
	// fetching a new one.
	Replay string
}

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch the roster and reconcile it into the store",
		Long: `Run one reconciliation pass.

The whole pass is one transaction: if fetching, connecting or committing
fails nothing is written and the command exits 1. A committed run is then
archived, mirrored to the report spreadsheet and pushed as metrics when
those are configured; failures there are logged and do not change the exit
code.

With --replay the feed is read from the archive instead of the upstream and
is not archived again. It is reconciled as the roster of the current
academic year.

Example:
  student-roster-sync sync --config roster.yaml
  FEED_URL=https://erp.example/api/students student-roster-sync sync -v
  student-roster-sync sync --replay feeds/2024-2025/<run-id>.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(commandContext(cmd), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Replay, "replay", "", "reconcile an archived feed (archive key) instead of fetching")

	return cmd
}

func runSync(ctx context.Context, opts *SyncOptions, out io.Writer) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	validate := cfg.Validate
	if opts.Replay != "" {
		validate = cfg.ValidateDatabase
	}
	if err := validate(); err != nil {
		return WrapExitError(ExitFailure, "invalid configuration", err)
	}
	log, err := opts.newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	m := metrics.New()
	fail := func(stage, message string, err error) error {
		m.ObserveFailure(stage)
		pushMetrics(ctx, cfg.Metrics, m, log)
		log.Error("Sync: run failed", "stage", stage, "error", err)
		return WrapExitError(ExitFailure, message, err)
	}

	st, err := opts.openStore(ctx, cfg, log)
	if err != nil {
		return fail("connect", "failed to open database", err)
	}
	defer closeStore(st, log)

	var feed *services.FeedResult
	failMsg := "failed to fetch roster"
	if opts.Replay != "" {
		failMsg = "failed to load archived feed"
		feed, err = loadArchivedFeed(ctx, cfg.Archive, opts.Replay, log)
	} else {
		feed, err = services.NewFeedClient(cfg.Feed, log).Fetch(ctx)
	}
	if err != nil {
		return fail("fetch", failMsg, err)
	}
	if len(feed.Records) == 0 && !cfg.Sync.AllowEmptyFeed {
		log.Warn("Sync: feed returned no records, skipping reconciliation", "allow_empty_feed", false)
		fmt.Fprintln(out, "No records received from the feed; nothing was reconciled.")
		return nil
	}

	// schema changes wait for a usable feed
	if err := st.EnsureSchema(ctx); err != nil {
		return fail("connect", "failed to apply schema", &reconcile.ConnectionError{Err: err})
	}

	engine := reconcile.NewEngine(cfg.Sync, st, log)
	if opts.Now != nil {
		engine.Now = opts.Now
	}
	summary, err := engine.Run(ctx, feed.Records)
	if err != nil {
		return fail(failureStage(err), "reconciliation failed", err)
	}

	if opts.Replay == "" {
		archiveFeed(ctx, cfg.Archive, summary, feed.Raw, log)
	}
	if cfg.Report.SpreadsheetID != "" {
		reportRun(ctx, cfg.Report, opts.RootOptions, summary, log)
	}
	m.Observe(summary)
	pushMetrics(ctx, cfg.Metrics, m, log)

	return RenderSummary(out, summary)
}

func failureStage(err error) string {
	var connErr *reconcile.ConnectionError
	var commitErr *reconcile.CommitError
	switch {
	case errors.As(err, &connErr):
		return "connect"
	case errors.As(err, &commitErr):
		return "commit"
	default:
		return "reconcile"
	}
}

func loadArchivedFeed(ctx context.Context, cfg config.ArchiveConfig, key string, log *logger.Logger) (*services.FeedResult, error) {
	a, err := archive.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errors.New("replay needs an archive driver (archive.driver)")
	}
	raw, err := a.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	records, err := services.DecodeFeed(raw)
	if err != nil {
		return nil, fmt.Errorf("archived feed '%s': %w", key, err)
	}
	log.Info("Archive: replaying stored feed", "key", key, "records", len(records))
	return &services.FeedResult{Records: records, Raw: raw}, nil
}

func archiveFeed(ctx context.Context, cfg config.ArchiveConfig, summary models.RunSummary, raw []byte, log *logger.Logger) {
	a, err := archive.New(ctx, cfg)
	if err != nil {
		log.Warn("Archive: unavailable, raw feed not kept", "driver", cfg.Driver, "error", err)
		return
	}
	if a == nil {
		return
	}
	loc, err := a.Put(ctx, archive.Key(summary.AcademicYear, summary.RunID), raw)
	if err != nil {
		log.Warn("Archive: storing raw feed failed", "run_id", summary.RunID, "error", err)
		return
	}
	log.Info("Archive: raw feed stored", "run_id", summary.RunID, "location", loc)
}

func reportRun(ctx context.Context, cfg config.ReportConfig, opts *RootOptions, summary models.RunSummary, log *logger.Logger) {
	writer, err := services.NewGoogleSheetsWriter(ctx, cfg, log, opts.SheetsOptions...)
	if err != nil {
		log.Warn("Report: Sheets client unavailable, run not reported", "error", err)
		return
	}
	if err := services.NewRunReporter(writer, log).Report(ctx, summary); err != nil {
		log.Warn("Report: writing run to spreadsheet failed", "run_id", summary.RunID, "error", err)
	}
}

func pushMetrics(ctx context.Context, cfg config.MetricsConfig, m *metrics.RunMetrics, log *logger.Logger) {
	if cfg.PushgatewayURL == "" {
		return
	}
	if err := m.Push(ctx, cfg.PushgatewayURL, cfg.Job); err != nil {
		log.Warn("Metrics: push failed", "error", err)
		return
	}
	log.Debug("Metrics: pushed", "job", cfg.Job)
}
