// Command as4gw runs the AS4 gateway: the HTTP front-end plus the agent
// fleet driving sending, delivery, notification and retry scheduling over
// the shared datastore.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/sirosfoundation/as4-gateway/internal/agents"
	"github.com/sirosfoundation/as4-gateway/internal/config"
	"github.com/sirosfoundation/as4-gateway/internal/datastore/postgres"
	"github.com/sirosfoundation/as4-gateway/internal/dispatch"
	"github.com/sirosfoundation/as4-gateway/internal/notify"
	"github.com/sirosfoundation/as4-gateway/internal/server"
	"github.com/sirosfoundation/as4-gateway/internal/services"
	"github.com/sirosfoundation/as4-gateway/internal/steps"
	"github.com/sirosfoundation/as4-gateway/pkg/agent"
	"github.com/sirosfoundation/as4-gateway/pkg/ebms"
	"github.com/sirosfoundation/as4-gateway/pkg/pipeline"
	"github.com/sirosfoundation/as4-gateway/pkg/pmode"
	"github.com/sirosfoundation/as4-gateway/pkg/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("gateway stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, &postgres.Config{DSN: cfg.Storage.Postgres.DSN})
	if err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer store.Close(context.Background())

	pmodes, err := pmode.NewFileProvider(cfg.PModes.Dir)
	if err != nil {
		return fmt.Errorf("loading pmodes: %w", err)
	}

	serializer := ebms.JSONSerializer{}
	inbound := services.NewInboundMessageService(store, logger)
	signals := services.NewSignalService(store, logger)
	receptionAwareness := services.NewReceptionAwarenessService(store, logger)
	retries := services.NewRetryService(store, logger)

	frontend := server.New(serializer, inbound, store, pmodes, logger)

	httpClient := transport.NewHTTPSClient(nil)
	dispatcher := dispatch.NewHTTPDispatcher(httpClient, func(ctx context.Context, body []byte, contentType string) error {
		_, _, err := frontend.HandleMessage(ctx, body, contentType)
		return err
	}, logger)
	deliverer := dispatch.NewHTTPDeliverer(httpClient, cfg.Deliver.Endpoint)

	var publisher steps.NotificationPublisher
	if len(cfg.Notifications.Brokers) > 0 {
		kafkaPublisher := notify.NewKafkaPublisher(cfg.Notifications.Brokers, cfg.Notifications.Topic, logger)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	} else {
		logger.Warn("no notification brokers configured, notifications go to the log")
		publisher = &notify.LogPublisher{Logger: logger}
	}

	registry := pipeline.NewRegistry()
	err = steps.RegisterAll(registry, steps.Deps{
		Store:              store,
		Signals:            signals,
		ReceptionAwareness: receptionAwareness,
		Retries:            retries,
		Dispatcher:         dispatcher,
		Deliverer:          deliverer,
		Publisher:          publisher,
		NotifyRetryPolicy: pmode.RetryPolicy{
			Enabled:       cfg.Notifications.Retry.Enabled,
			MaxRetryCount: cfg.Notifications.Retry.MaxRetryCount,
			RetryInterval: pmode.Duration(cfg.Notifications.Retry.RetryInterval),
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("registering steps: %w", err)
	}

	fleet, err := agents.BuildFleet(fleetConfig(cfg), store, registry, logger)
	if err != nil {
		return fmt.Errorf("building agent fleet: %w", err)
	}
	controller := agent.NewController(logger, fleet...)
	janitor := agents.NewJanitor(store, cfg.Janitor.Interval, cfg.Janitor.Window, logger)

	httpServer, err := newHTTPServer(cfg, frontend)
	if err != nil {
		return fmt.Errorf("building http server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return controller.Run(gctx) })
	g.Go(func() error { return janitor.Run(gctx) })
	g.Go(func() error {
		if cfg.Server.TLS.Enabled {
			return httpServer.Start()
		}
		return httpServer.StartInsecure()
	})
	g.Go(func() error {
		<-gctx.Done()
		return httpServer.Shutdown(context.Background())
	})

	logger.Info("gateway running", "port", cfg.Server.Port, "agents", len(fleet))
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func newHTTPServer(cfg *config.Config, frontend *server.Server) (*transport.HTTPSServer, error) {
	httpsConfig := transport.DefaultHTTPSConfig()
	if cfg.Server.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading tls key pair: %w", err)
		}
		httpsConfig.Certificates = []tls.Certificate{cert}
	}
	httpServer := transport.NewHTTPSServer(fmt.Sprintf(":%d", cfg.Server.Port), httpsConfig, frontend)
	httpServer.Handle("/submit", frontend.SubmitHandler())
	httpServer.Handle("/health", frontend.HealthHandler())
	return httpServer, nil
}

func fleetConfig(cfg *config.Config) agents.FleetConfig {
	settings := func(a config.AgentConfig) agents.Settings {
		return agents.Settings{PollInterval: a.PollInterval, BatchSize: a.BatchSize}
	}
	return agents.FleetConfig{
		Process:            settings(cfg.Agents.Process),
		Deliver:            settings(cfg.Agents.Deliver),
		Send:               settings(cfg.Agents.Send),
		Notify:             settings(cfg.Agents.Notify),
		ReceptionAwareness: settings(cfg.Agents.ReceptionAwareness),
		Retry:              settings(cfg.Agents.Retry),
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
