package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/getanswer"
	"github.com/xraph/getanswer/api"
	audithook "github.com/xraph/getanswer/audit_hook"
	"github.com/xraph/getanswer/internal/telemetry"
	"github.com/xraph/getanswer/observability"
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().Duration("settle-interval", time.Minute, "How often to retry refunds that failed to persist")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	settleEvery, _ := cmd.Flags().GetDuration("settle-interval")
	if settleEvery <= 0 {
		settleEvery = time.Minute
	}

	logger := newLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	otelShutdown, err := telemetry.Init(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName, version, cfg.Telemetry.Insecure)
	if err != nil {
		return err
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []getanswer.Option{
		getanswer.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
		getanswer.WithPipelineOptions(getanswer.WithTracer(telemetry.Tracer("github.com/xraph/getanswer"))),
	}
	if cfg.Server.Audit {
		opts = append(opts, getanswer.WithPlugin(
			audithook.New(audithook.NewLogRecorder(logger), audithook.WithLogger(logger)),
		))
	}

	engine, err := openEngine(ctx, cfg, logger, true, opts...)
	if err != nil {
		return err
	}

	srv := api.NewServer(engine, logger)
	if cfg.Server.Metrics {
		srv.EnableMetrics(reg)
	}
	if d, _ := cfg.Server.Timeout(); d > 0 {
		srv.SetRequestTimeout(d)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("getanswer listening", "addr", cfg.Server.Addr, "version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(settleEvery)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := engine.Pipeline().SettleOrphans(gctx)
				if err != nil {
					logger.Warn("refund retry incomplete", "settled", n, "error", err)
				} else if n > 0 {
					logger.Info("refunds settled", "count", n)
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		httpErr := httpSrv.Shutdown(shutdownCtx)
		return errors.Join(httpErr, engine.Stop(shutdownCtx))
	})

	return g.Wait()
}
