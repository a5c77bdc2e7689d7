// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/aiku/anysync/pkg/config"
	"github.com/aiku/anysync/pkg/correspondence"
	"github.com/aiku/anysync/pkg/platform"
	"github.com/aiku/anysync/pkg/platform/discord"
	"github.com/aiku/anysync/pkg/platform/matrix"
	"github.com/aiku/anysync/pkg/platform/mattermost"
	"github.com/aiku/anysync/pkg/platform/onebot"
	"github.com/aiku/anysync/pkg/platform/slack"
	"github.com/aiku/anysync/pkg/platform/telegram"
	"github.com/aiku/anysync/pkg/render"
)

// newRenderers registers every platform's renderer set, whether or not the
// platform is enabled, so rules can be checked offline.
func newRenderers() *render.Registry {
	reg := render.NewRegistry()
	reg.RegisterAll(discord.Name, discord.Renderers())
	reg.RegisterAll(matrix.Name, matrix.Renderers())
	reg.RegisterAll(mattermost.Name, mattermost.Renderers())
	reg.RegisterAll(onebot.Name, onebot.Renderers())
	reg.RegisterAll(slack.Name, slack.Renderers())
	reg.RegisterAll(telegram.Name, telegram.Renderers())
	return reg
}

// newHandlers creates a handler for every configured platform.
func newHandlers(cfg config.PlatformsConfig, log zerolog.Logger) (*platform.Registry, error) {
	reg := platform.NewRegistry()
	add := func(name string, h platform.Handler, err error) error {
		if err != nil {
			return fmt.Errorf("failed to create %s handler: %w", name, err)
		}
		reg.Register(h)
		log.Info().Str("platform", name).Any("caps", platform.Capabilities(h)).Msg("Platform enabled")
		return nil
	}
	if cfg.Discord.Enabled() {
		h, err := discord.New(cfg.Discord, log)
		if err = add(discord.Name, h, err); err != nil {
			return nil, err
		}
	}
	if cfg.Matrix.Enabled() {
		h, err := matrix.New(cfg.Matrix, log)
		if err = add(matrix.Name, h, err); err != nil {
			return nil, err
		}
	}
	if cfg.Mattermost.Enabled() {
		h, err := mattermost.New(cfg.Mattermost, log)
		if err = add(mattermost.Name, h, err); err != nil {
			return nil, err
		}
	}
	if cfg.OneBot.Enabled() {
		h, err := onebot.New(cfg.OneBot, log)
		if err = add(onebot.Name, h, err); err != nil {
			return nil, err
		}
	}
	if cfg.Slack.Enabled() {
		h, err := slack.New(cfg.Slack, log)
		if err = add(slack.Name, h, err); err != nil {
			return nil, err
		}
	}
	if cfg.Telegram.Enabled() {
		h, err := telegram.New(cfg.Telegram, log)
		if err = add(telegram.Name, h, err); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// openStore opens the configured correspondence store. The returned close
// function is never nil.
func openStore(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (correspondence.Store, func() error, error) {
	if cfg.Type == "memory" {
		log.Warn().Msg("Using in-memory correspondence store, recalls and edits won't survive restarts")
		return correspondence.NewMemoryStore(), func() error { return nil }, nil
	}
	store, err := correspondence.OpenSQL(ctx, cfg.Type, cfg.URI, log)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}
