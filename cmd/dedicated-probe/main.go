package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/centraunit/dedicated"
	"github.com/centraunit/dedicated/internal/config"
	"github.com/centraunit/dedicated/internal/logging"
	"github.com/centraunit/dedicated/sqlconn"
	"github.com/centraunit/dedicated/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to configuration file (defaults apply when empty)")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	timeout := flag.Duration("timeout", 10*time.Second, "Overall probe timeout")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *configCheck {
		fmt.Fprintln(os.Stdout, "configuration ok")
		os.Exit(0)
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	channels := append(append([]string(nil), cfg.Channels...), flag.Args()...)
	if len(channels) == 0 {
		logger.Fatal().Msg("no channels to probe; list them in the config or as arguments")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	collector := newCollector(cfg.Metrics, logger)
	failed := run(ctx, cfg, channels, logger, collector)
	if failed > 0 {
		logger.Error().Int("failed", failed).Int("total", len(channels)).Msg("probe finished with failures")
		cleanup()
		os.Exit(1)
	}
	logger.Info().Int("total", len(channels)).Msg("all dedicated connections reachable")
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.ApplyEnvOverrides(cfg, dedicated.OSEnvironment{}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newCollector(cfg config.MetricsConfig, logger zerolog.Logger) telemetry.Collector {
	if !cfg.Enabled {
		return telemetry.Noop()
	}
	reg := prometheus.NewRegistry()
	collector, err := telemetry.NewPrometheusCollector(reg)
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry disabled")
		return telemetry.Noop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(cfg.Listen, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Err(err).Str("listen", cfg.Listen).Msg("metrics endpoint stopped")
		}
	}()
	return collector
}

func run(ctx context.Context, cfg *config.Config, channels []string, logger zerolog.Logger, collector telemetry.Collector) int {
	policy, err := config.ParseClosePolicy(cfg.ClosePolicy)
	if err != nil {
		logger.Error().Err(err).Msg("invalid close policy")
		return len(channels)
	}

	resolver, err := dedicated.NewResolver(
		dedicated.StaticConfig(cfg.DefaultConnection),
		&sqlconn.Connector{PingOnConnect: cfg.PingOnConnect},
		dedicated.WithLogger(logger),
		dedicated.WithTelemetry(collector),
		dedicated.WithClosePolicy(policy),
	)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create resolver")
		return len(channels)
	}

	container := dedicated.NewContainer(resolver)
	defer func() {
		if err := container.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("failed to close dedicated connections")
		}
	}()

	failed := 0
	for _, channel := range channels {
		if _, err := container.CreateConnection(channel); err != nil {
			logger.Error().Err(err).Str("channel", channel).Msg("failed to define connection")
			failed++
			continue
		}
		h, err := container.Connection(ctx, channel)
		if err != nil {
			logger.Error().Err(err).Str("channel", channel).Msg("dedicated connection failed")
			failed++
			continue
		}
		event := logger.Info().Str("channel", channel).Str("id", dedicated.ConnectionID(channel))
		if db, ok := h.(*sql.DB); ok {
			event = event.Int("open_connections", db.Stats().OpenConnections)
		}
		event.Msg("dedicated connection ready")
	}
	return failed
}
