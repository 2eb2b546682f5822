package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/referral/internal/jobs"
	"github.com/roach88/referral/internal/metrics"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	StoreOptions
	Schedule    string
	MetricsAddr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{StoreOptions: StoreOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Process envelopes from stdin in the background",
		Long: `Read newline-delimited JSON envelopes from stdin. Records are committed
as they arrive and their trigger events are queued for the rule engine,
which processes them in order on a single worker.

While running, rollups are rebuilt on --schedule and Prometheus metrics
are served on --metrics-addr. When stdin ends the queue is drained; the
process keeps running until interrupted if either of those is enabled.

Example:
  tail -f events.ndjson | referral serve --db ./referral.db --metrics-addr :9090
  referral serve --db ./referral.db --schedule "@hourly" < events.ndjson`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	addDatabaseFlag(cmd, &opts.Database)
	cmd.Flags().StringVar(&opts.Schedule, "schedule", "", fmt.Sprintf("cron schedule for full rollup rebuilds, e.g. %q (disabled when empty)", jobs.DefaultSchedule))
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (disabled when empty)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, closeStore, err := openStore(formatter, opts.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	p := newPipeline(st, reg, true)

	var rebuilder *jobs.Rebuilder
	if opts.Schedule != "" {
		rebuilder = jobs.New(st, p.agg)
		if err := rebuilder.Schedule(opts.Schedule); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeFlag, "invalid --schedule", err)
		}
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// The dispatcher runs outside the group: it must drain before the
	// group's context is cancelled at shutdown.
	dispatchDone := make(chan error, 1)
	go func() {
		dispatchDone <- p.dispatcher.Run(gctx)
	}()

	if opts.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("serving metrics", "addr", opts.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if rebuilder != nil {
		rebuilder.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			rebuilder.Stop(stopCtx)
		}()
	}

	slog.Info("serve starting", "db", opts.Database, "schedule", opts.Schedule, "metrics_addr", opts.MetricsAddr)

	result, readErr := applyEnvelopes(gctx, p.source, cmd.InOrStdin(), formatter)
	p.dispatcher.Stop()
	slog.Info("input closed", "applied", result.Applied, "failed", result.Failed)
	if err := <-dispatchDone; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("dispatcher stopped early", "error", err)
	}

	if readErr == nil && gctx.Err() == nil && (rebuilder != nil || opts.MetricsAddr != "") {
		fmt.Fprintln(formatter.ErrWriter, "Input drained. Press Ctrl-C to stop.")
		<-gctx.Done()
	}
	stop()

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "serve error", err)
	}
	if readErr != nil && !errors.Is(readErr, context.Canceled) {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to read input", readErr)
	}

	if formatter.JSON() {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer, "Applied %d record(s), %d failed\n", result.Applied, result.Failed)
	}

	slog.Info("serve stopped gracefully")
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) could not be applied", result.Failed))
	}
	return nil
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}
