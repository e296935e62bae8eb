package main

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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arloliu/changefeed"
)

func newRunCommand(opts *globalOptions, logger *slog.Logger) *cobra.Command {
	var (
		host        string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a processor that logs every delivered change",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := opts.config()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.HostName = host
			}
			if cfg.HostName == "" {
				cfg.HostName, _ = os.Hostname()
			}

			b, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer b.close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			hooks := &changefeed.Hooks{
				OnLeaseAcquired: func(_ context.Context, pid string) error {
					logger.Info("lease acquired", "partition", pid)
					return nil
				},
				OnLeaseReleased: func(_ context.Context, pid string, reason changefeed.ReleaseReason) error {
					logger.Info("lease released", "partition", pid, "reason", string(reason))
					return nil
				},
			}

			handler := changefeed.HandlerFunc(func(_ context.Context, batch changefeed.Batch) error {
				for _, c := range batch.Changes {
					logger.Info("change", "partition", batch.PartitionID, "id", c.ID, "op", string(c.Operation), "seq", c.Sequence)
				}
				return nil
			})

			proc, err := changefeed.NewProcessor(&cfg, b.store, b.feed, handler,
				changefeed.WithLogger(changefeed.NewSlogLogger(logger)),
				changefeed.WithMetrics(changefeed.NewPrometheusMetrics(reg, "changefeed")),
				changefeed.WithHooks(hooks),
			)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              metricsAddr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			if err := proc.Start(ctx); err != nil {
				return fmt.Errorf("start processor: %w", err)
			}
			logger.Info("processor running", "host", cfg.HostName, "prefix", cfg.LeasePrefix, "metrics", metricsAddr)

			<-ctx.Done()

			logger.Info("shutting down")
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer stopCancel()

			return proc.Stop(stopCtx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Host name of this instance (default: config or OS host name)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Prometheus /metrics listen address")

	return cmd
}
