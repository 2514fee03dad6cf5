package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"chatrelay/internal/config"
	"chatrelay/internal/logging"
	providerfactory "chatrelay/internal/provider/factory"
	"chatrelay/internal/server"
	"chatrelay/internal/store"
)

const serveUsage = `Usage:
  chatrelay serve --config <path> [--port <port>] [--watch]

Flags:
  --config string   Path to YAML configuration file (required)
  --port   int      Override server port from configuration
  --watch  bool     Reload provider settings when the config or env file changes (default true)`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	var watch bool
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")
	fs.BoolVar(&watch, "watch", true, "reload provider settings on change")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("serve command requires --config <path>")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	retention := store.NewRetentionScheduler(a.store, cfg.Storage.RetentionDays, cfg.Storage.PruneSchedule)
	if err := retention.Start(ctx); err != nil {
		return err
	}
	defer retention.Stop()

	if watch {
		watcher := config.NewWatcher(cfg, 0, logger)
		go func() {
			err := watcher.Watch(ctx, cfg, func(next config.Config) {
				if err := providerfactory.Reload(next, a.registry, a.client); err != nil {
					logger.Error("provider reload failed", "error", err)
					return
				}
				if next.Server != cfg.Server || next.Storage != cfg.Storage {
					logger.Warn("server and storage settings take effect after a restart")
				}
				logger.Info("provider configuration reloaded")
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("config watcher stopped", "error", err)
			}
		}()
	}

	srv, err := server.New(cfg, a.router, a.metrics)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
