// Command arbwatch runs the scope supervisor, its market-data streams and the
// control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/arbwatch/internal/app/positionmonitor"
	"github.com/coachpo/arbwatch/internal/app/scope"
	"github.com/coachpo/arbwatch/internal/domain/subscription"
	"github.com/coachpo/arbwatch/internal/infra/config"
	"github.com/coachpo/arbwatch/internal/infra/persistence/migrations"
	"github.com/coachpo/arbwatch/internal/infra/persistence/postgres"
	"github.com/coachpo/arbwatch/internal/infra/rest"
	httpserver "github.com/coachpo/arbwatch/internal/infra/server/http"
	"github.com/coachpo/arbwatch/internal/infra/stream"
	"github.com/coachpo/arbwatch/internal/infra/telemetry"
	"github.com/coachpo/arbwatch/internal/observability"
)

const (
	defaultConfigPath        = "config/app.yaml"
	apiShutdownTimeout       = 5 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	journalShutdownTimeout   = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the configuration")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := config.LoadDotEnv(*envFile); err != nil {
		return err
	}
	configPath := resolveConfigPath(*cfgPath)
	appCfg, err := config.LoadOrDefault(ctx, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zl, err := observability.NewZapLogger(appCfg.Logging.Level, appCfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	observability.SetLogger(zl)
	logger := zl.With(observability.F("component", "main"))
	logger.Info("configuration initialised",
		observability.F("path", configPath),
		observability.F("env", appCfg.Environment),
		observability.F("scopes", len(appCfg.Scopes)),
		observability.F("active", appCfg.ActiveScope))

	appStore, err := config.NewAppConfigStore(appCfg, config.FilePersister(configPath))
	if err != nil {
		return fmt.Errorf("initialise config store: %w", err)
	}

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg.Environment, appCfg.Telemetry)
	if err != nil {
		return err
	}

	var (
		journal *postgres.Journal
		reader  httpserver.NotificationReader
		sink    scope.Sink
	)
	if appCfg.Database.Enabled() {
		pool, store, err := openJournalStore(ctx, logger, appCfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()
		journal, err = postgres.NewJournal(store, appCfg.Database.JournalWorkers, appCfg.Database.JournalQueue, zl)
		if err != nil {
			return err
		}
		reader, sink = store, journal
	} else {
		logger.Info("notification journal disabled")
	}

	collaborators, err := rest.NewClient(rest.Options{
		BaseURL:       appCfg.Collaborators.BaseURL,
		OrdersPath:    appCfg.Collaborators.OrdersPath,
		PositionsPath: appCfg.Collaborators.PositionsPath,
		PricesPath:    appCfg.Collaborators.PricesPath,
		Timeout:       appCfg.Collaborators.Timeout,
	})
	if err != nil {
		return fmt.Errorf("initialise collaborator client: %w", err)
	}

	sup, err := scope.NewSupervisor(scope.SupervisorDeps{
		Store:     appStore,
		Orders:    collaborators,
		Positions: collaborators,
		Prices:    collaborators,
		Cache:     positionmonitor.NewPriceCache(""),
		Sink:      sink,
		Logger:    zl,
		NewID:     uuid.NewString,
		Options: scope.Options{
			OrderInterval:    appCfg.Polling.OrderInterval,
			PositionInterval: appCfg.Polling.PositionInterval,
		},
	})
	if err != nil {
		return fmt.Errorf("initialise supervisor: %w", err)
	}
	if err := attachStreams(sup, appCfg.Transport, zl); err != nil {
		return err
	}

	server := httpserver.NewServer(appCfg.APIServer.Addr, httpserver.NewHandler(httpserver.Options{
		Environment: appCfg.Environment,
		Supervisor:  sup,
		Store:       appStore,
		Journal:     reader,
		Logger:      zl,
	}), zl)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		if err := sup.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("supervisor stopped", observability.Err(err))
			cancel()
		}
	})
	lifecycle.Go(func() {
		if err := server.ListenAndServe(runCtx, apiShutdownTimeout); err != nil {
			logger.Error("control api stopped", observability.Err(err))
			cancel()
		}
	})

	logger.Info("arbwatch started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Info("shutdown signal received")
	start := time.Now()

	stop()
	shutdownStep(logger, "waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
		done := make(chan struct{})
		go func() {
			lifecycle.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-stepCtx.Done():
			return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
		}
	})
	if journal != nil {
		shutdownStep(logger, "draining notification journal", journalShutdownTimeout, journal.Close)
	}
	shutdownStep(logger, "shutting down telemetry", telemetryShutdownTimeout, telemetryProvider.Shutdown)

	logger.Info("shutdown completed", observability.F("elapsed", time.Since(start)))
	return nil
}

func shutdownStep(logger observability.Logger, name string, timeout time.Duration, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("shutdown step failed", observability.F("step", name), observability.Err(err))
		return
	}
	logger.Info("shutdown step completed", observability.F("step", name))
}

func initTelemetry(ctx context.Context, logger observability.Logger, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	if cfg.MetricInterval > 0 {
		telemetryCfg.MetricInterval = cfg.MetricInterval
	}
	telemetryCfg.Environment = string(env)
	telemetryCfg.OTLPInsecure = cfg.OTLPInsecure
	telemetryCfg.Enabled = cfg.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if provider.Enabled() {
		logger.Info("telemetry initialized",
			observability.F("endpoint", telemetryCfg.OTLPEndpoint),
			observability.F("service", telemetryCfg.ServiceName))
	} else {
		logger.Info("telemetry disabled")
	}
	return provider, nil
}

func openJournalStore(ctx context.Context, logger observability.Logger, cfg config.DatabaseConfig) (*pgxpool.Pool, *postgres.NotificationStore, error) {
	if cfg.RunMigrations {
		if err := migrations.ApplyEmbedded(ctx, cfg.DSN, logger); err != nil {
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	pool, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	postgres.ObservePoolMetrics(pool, "journal")
	logger.Info("notification journal enabled", observability.F("workers", cfg.JournalWorkers))
	return pool, postgres.NewNotificationStore(pool), nil
}

func attachStreams(sup *scope.Supervisor, cfg config.TransportConfig, logger observability.Logger) error {
	dialer := stream.WebsocketDialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		PingInterval:     cfg.PingInterval,
	}
	for _, channel := range subscription.Channels {
		ctrl, err := stream.NewController(stream.Options{
			Channel:        channel,
			URL:            cfg.URL(channel),
			Dialer:         dialer,
			Handler:        sup.HandleUpdate,
			ReconnectDelay: cfg.ReconnectDelay,
			ControlRate:    cfg.ControlRate,
			ControlBurst:   cfg.ControlBurst,
			Logger:         logger,
		})
		if err != nil {
			return fmt.Errorf("initialise %s stream: %w", channel, err)
		}
		if err := sup.Attach(ctrl); err != nil {
			return err
		}
	}
	return nil
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return filepath.Clean(flagValue)
	}
	return filepath.Clean(defaultConfigPath)
}
