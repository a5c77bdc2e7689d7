// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/anysync/pkg/adminapi"
	"github.com/aiku/anysync/pkg/config"
	"github.com/aiku/anysync/pkg/rules"
	"github.com/aiku/anysync/pkg/syncengine"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to every configured platform and relay messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath, !flags.noUpdate)
			if err != nil {
				return err
			}
			log, err := cfg.Logging.Compile()
			if err != nil {
				return fmt.Errorf("failed to configure logging: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(log.WithContext(ctx), cfg, *log)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("built_at", BuildTime).
		Msg("Starting anysync")

	ruleCfg, err := cfg.LoadRules()
	if err != nil {
		return err
	}
	for _, err := range config.CheckRules(ruleCfg) {
		log.Warn().Err(err).Msg("Invalid rule target")
	}
	table := rules.Load(ruleCfg)

	store, closeStore, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn().Err(err).Msg("Failed to close correspondence store")
		}
	}()

	handlers, err := newHandlers(cfg.Platforms, log)
	if err != nil {
		return err
	}
	for _, name := range table.Platforms() {
		if _, ok := handlers.Get(name); !ok {
			log.Warn().Str("platform", name).Msg("Rules reference a platform that is not configured")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engine := syncengine.New(syncengine.Params{
		Rules:       table,
		Store:       store,
		Renderers:   newRenderers(),
		Handlers:    handlers,
		Log:         log,
		SendTimeout: cfg.SendTimeout,
		Metrics:     syncengine.NewMetrics(registry),
	})
	log.Info().
		Int("source_groups", table.Len()).
		Strs("platforms", handlers.Names()).
		Msg("Rules loaded")

	g, gctx := errgroup.WithContext(ctx)
	listeners := handlers.Listeners()
	for _, l := range listeners {
		g.Go(func() error {
			return l.Start(gctx, engine)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		for _, l := range listeners {
			l.Stop()
		}
		return nil
	})
	if cfg.AdminAPIAddr != "" {
		api := adminapi.New(adminapi.Params{
			Store:    store,
			Rules:    table,
			Handlers: handlers,
			Gatherer: registry,
			Log:      log,
		})
		g.Go(func() error {
			if err := api.Run(gctx, cfg.AdminAPIAddr); err != nil {
				return fmt.Errorf("admin API failed: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	log.Info().Msg("Waiting for in-flight events")
	engine.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("Stopped")
	return nil
}
