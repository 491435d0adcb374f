// Package accruald wires the accrual engine, its persistent state, the
// transfer outbox and the JSON-RPC surface into a daemon.
package accruald

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stakeledger/config"
	"stakeledger/core/outbox"
	"stakeledger/core/state"
	"stakeledger/observability/logging"
	telemetry "stakeledger/observability/otel"
	"stakeledger/rpc"
)

const serviceName = "accruald"

// Main runs the daemon using the provided command line flags.
func Main() error {
	var (
		cfgPath  string
		logLevel string
	)
	flag.StringVar(&cfgPath, "config", "config/accruald.toml", "path to accruald config (TOML or YAML)")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(serviceName, cfg.Environment, logLevel)
	logger.Info("config loaded",
		slog.String("path", cfgPath),
		slog.String("data_dir", cfg.DataDir),
		slog.String("stake_asset", cfg.Accrual.StakeAsset),
		slog.Int("tiers", len(cfg.Accrual.Tiers)),
		logging.MaskField("hmac_secret", cfg.Auth.HMACSecret),
		logging.MaskField("otlp_headers", cfg.Telemetry.Headers))

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		Sampling:    cfg.Telemetry.Sampling,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	node, err := Open(cfg, logger)
	if err != nil {
		return err
	}
	defer node.Close()

	srv := rpc.NewServer(node.Engine, node.State, node.Outbox, node.Rates, rpc.Config{
		ServiceName: serviceName,
		AdminScope:  cfg.Auth.AdminScope,
		Auth:        authConfig(cfg.Auth),
		RateLimit:   rateLimit(cfg.RateLimit),
		Quota:       quota(cfg.Quota),
		LogRequests: logLevel == "debug",
	}, logger)
	if err := srv.FlushPending(context.Background()); err != nil {
		logger.Warn("pending transfers not flushed", slog.String("error", err.Error()))
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 2)
	go func() {
		logger.Info("rpc listening", slog.String("addr", cfg.ListenAddress))
		errs <- httpServer.ListenAndServe()
	}()
	go func() {
		logger.Info("metrics listening", slog.String("addr", cfg.MetricsAddress))
		errs <- metricsServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		logger.Info("shutting down")
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", slog.String("error", err.Error()))
			shutdown(httpServer, metricsServer)
			return err
		}
	}
	shutdown(httpServer, metricsServer)
	return nil
}

func shutdown(servers ...*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(ctx); err != nil {
			_ = s.Close()
		}
	}
}

// openOutbox creates the parent directory and opens the SQLite journal.
func openOutbox(path string) (*outbox.Store, error) {
	if err := os.MkdirAll(dirOf(path), 0o755); err != nil {
		return nil, fmt.Errorf("create outbox dir: %w", err)
	}
	dsn, err := outbox.FileDSN(path)
	if err != nil {
		return nil, err
	}
	return outbox.Open(dsn)
}

var _ rpc.Journal = (*state.Manager)(nil)
