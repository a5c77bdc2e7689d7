// Copyright 2024-2026 Aiku AI

// Package discord connects a Discord bot to the sync engine through the
// gateway and REST API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/platform"
	"github.com/aiku/anysync/pkg/render"
)

// Name is the platform name used in rules.
const Name = "discord"

// Config configures the Discord handler.
type Config struct {
	Token         string   `yaml:"token" env:"TOKEN"`
	IgnoreUserIDs []string `yaml:"ignore_user_ids" env:"IGNORE_USER_IDS"`
}

// Enabled reports whether the section is filled in.
func (c Config) Enabled() bool {
	return c.Token != ""
}

// Handler is the Discord platform handler.
type Handler struct {
	cfg     Config
	session *discordgo.Session
	log     zerolog.Logger

	mu     sync.Mutex
	selfID string
	stop   chan struct{}
}

var (
	_ platform.Handler  = (*Handler)(nil)
	_ platform.Recaller = (*Handler)(nil)
	_ platform.Editor   = (*Handler)(nil)
	_ platform.Listener = (*Handler)(nil)
)

// New creates a handler. The gateway is not opened until Start.
func New(cfg Config, log zerolog.Logger) (*Handler, error) {
	if !cfg.Enabled() {
		return nil, errors.New("discord token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	return &Handler{
		cfg:     cfg,
		session: session,
		log:     log.With().Str("component", "discord").Logger(),
		stop:    make(chan struct{}),
	}, nil
}

// Renderers returns the formats Discord accepts.
func Renderers() map[message.Format]render.Renderer {
	return map[message.Format]render.Renderer{
		message.FormatText:     render.Text,
		message.FormatMarkdown: render.Markdown,
	}
}

func (h *Handler) Name() string { return Name }

// Send posts payload to a channel and returns the message ID.
func (h *Handler) Send(ctx context.Context, channelID string, payload *render.Payload) (string, error) {
	send := &discordgo.MessageSend{
		Content:         payload.Body,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if payload.ReplyTo != "" {
		send.Reference = &discordgo.MessageReference{
			MessageID: payload.ReplyTo,
			ChannelID: channelID,
		}
	}
	msg, err := h.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return msg.ID, nil
}

// Recall deletes a message.
func (h *Handler) Recall(ctx context.Context, channelID, messageID string) error {
	if err := h.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Edit replaces the content of a message.
func (h *Handler) Edit(ctx context.Context, channelID, messageID string, payload *render.Payload) error {
	if _, err := h.session.ChannelMessageEdit(channelID, messageID, payload.Body, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// Start opens the gateway and relays events until ctx is canceled or Stop
// is called.
func (h *Handler) Start(ctx context.Context, sink platform.Sink) error {
	h.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		h.mu.Lock()
		h.selfID = r.User.ID
		h.mu.Unlock()
		h.log.Info().Str("user_id", r.User.ID).Str("username", r.User.Username).Msg("Gateway ready")
	})
	h.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if out := h.parseMessageCreate(m); out != nil {
			sink.Dispatch(ctx, out)
		}
	})
	h.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
		if out := h.parseMessageUpdate(m); out != nil {
			sink.Dispatch(ctx, out)
		}
	})
	h.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageDelete) {
		if out := h.parseMessageDelete(m); out != nil {
			sink.Dispatch(ctx, out)
		}
	})
	if err := h.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	defer h.session.Close()

	select {
	case <-ctx.Done():
	case <-h.stop:
	}
	return nil
}

// Stop closes the gateway.
func (h *Handler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
}

func (h *Handler) isIgnoredUser(u *discordgo.User) bool {
	if u == nil {
		return true
	}
	h.mu.Lock()
	self := h.selfID
	h.mu.Unlock()
	return u.ID == self || u.Bot || slices.Contains(h.cfg.IgnoreUserIDs, u.ID)
}
