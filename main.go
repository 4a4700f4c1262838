package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"booking-metrics-audit/internal/config"
	"booking-metrics-audit/internal/domain"
	"booking-metrics-audit/internal/metrics"
	"booking-metrics-audit/internal/store"
)

// options are the flags shared by every subcommand.
type options struct {
	tenant   string
	periods  string
	dryRun   bool
	throttle time.Duration
	outDir   string
	verbose  bool
}

// app is everything one run needs; built once per command invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	out    io.Writer
	now    func() time.Time
	opts   options
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	root := newRootCommand(cfg)
	if err := root.ExecuteContext(ctx); err != nil {
		exitWithError(err)
	}
}

func newRootCommand(cfg *config.Config) *cobra.Command {
	opts := options{
		throttle: cfg.Throttle,
		outDir:   cfg.OutputDir,
	}

	root := &cobra.Command{
		Use:           "booking-metrics-audit",
		Short:         "Recompute, validate and export booking platform metrics.",
		Long:          "Offline jobs over the booking database: per-tenant and platform metrics, MRR, exports and data repairs.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.tenant, "tenant", "", "only process this tenant id")
	flags.StringVar(&opts.periods, "period", "", "comma separated periods (7d,30d,90d); default all")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "compute and print without writing to the database")
	flags.DurationVar(&opts.throttle, "throttle", opts.throttle, "pause between tenants")
	flags.StringVar(&opts.outDir, "out", opts.outDir, "directory for report files")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	withApp := func(run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()
			return run(cmd.Context(), a, args)
		}
	}

	root.AddCommand(
		newTenantMetricsCommand(withApp),
		newPlatformMetricsCommand(withApp),
		newMRRCommand(withApp),
		newExportCommand(withApp),
		newRepairOutcomesCommand(withApp),
		newValidateCommand(withApp),
		newKPIDiffCommand(withApp),
		newInitDBCommand(withApp),
	)
	return root
}

type runFunc = func(ctx context.Context, a *app, args []string) error

type appWrapper = func(run runFunc) func(*cobra.Command, []string) error

func newApp(ctx context.Context, cfg *config.Config, opts options, out io.Writer) (*app, error) {
	level := cfg.LogLevel
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.throttle < 0 {
		return nil, errors.New("--throttle must not be negative")
	}

	st, err := store.Open(ctx, cfg.Driver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Debug("database connected", "driver", st.Driver())

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		out:    out,
		now:    time.Now,
		opts:   opts,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing database", "error", err)
	}
}

func (a *app) periods() ([]domain.Period, error) {
	return domain.ParsePeriods(a.opts.periods)
}

func (a *app) calculator() *metrics.Calculator {
	return metrics.NewCalculator(a.store, a.logger).WithClock(a.now)
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) println(args ...any) {
	fmt.Fprintln(a.out, args...)
}

// pause waits d between tenants, returning early when ctx is cancelled.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(exitCode(err))
}

// exitCode is 130 for a run stopped by SIGINT/SIGTERM and 1 otherwise.
func exitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}
