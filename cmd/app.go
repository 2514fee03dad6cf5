package cmd

import (
	"fmt"
	"log/slog"

	"chatrelay/internal/analytics"
	"chatrelay/internal/config"
	"chatrelay/internal/metrics"
	"chatrelay/internal/provider"
	providerfactory "chatrelay/internal/provider/factory"
	"chatrelay/internal/router"
	"chatrelay/internal/store"
	"chatrelay/internal/transport"
)

// app holds the collaborators shared by the commands.
type app struct {
	cfg      config.Config
	client   *transport.HTTPClient
	registry *provider.Registry
	store    store.Store
	metrics  *metrics.ProviderMetrics
	router   *router.Router
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	client := providerfactory.NewClient(cfg)
	registry, err := providerfactory.NewRegistry(cfg, client)
	if err != nil {
		return nil, err
	}

	conversations, err := store.Open(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}

	var pm *metrics.ProviderMetrics
	if cfg.Metrics.Enabled {
		pm = metrics.New(cfg.Metrics.Namespace)
	}

	rt := router.New(router.Options{
		Registry:        registry,
		Store:           conversations,
		Tracker:         analytics.NewTracker(cfg.Storage.AnalyticsPath),
		Metrics:         pm,
		DefaultProvider: cfg.Chat.DefaultProvider,
		Temperature:     cfg.Chat.Temperature,
		Logger:          logger,
	})

	return &app{
		cfg:      cfg,
		client:   client,
		registry: registry,
		store:    conversations,
		metrics:  pm,
		router:   rt,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
