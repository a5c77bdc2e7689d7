// Copyright 2024-2026 Aiku AI

// Package slack delivers copies to Slack channels. It is a target only; no
// inbound events are read.
package slack

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/platform"
	"github.com/aiku/anysync/pkg/render"
)

// Name is the platform name used in rules.
const Name = "slack"

// Config configures the Slack handler.
type Config struct {
	BotToken string `yaml:"bot_token" env:"BOT_TOKEN"`
	// APIURL overrides the Web API base URL.
	APIURL string `yaml:"api_url" env:"API_URL"`
}

// Enabled reports whether the section is filled in.
func (c Config) Enabled() bool {
	return c.BotToken != ""
}

// Handler is the Slack platform handler.
type Handler struct {
	client *slack.Client
	log    zerolog.Logger
}

var (
	_ platform.Handler  = (*Handler)(nil)
	_ platform.Recaller = (*Handler)(nil)
	_ platform.Editor   = (*Handler)(nil)
)

// New creates a handler.
func New(cfg Config, log zerolog.Logger) (*Handler, error) {
	if !cfg.Enabled() {
		return nil, errors.New("slack bot_token is required")
	}
	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimSuffix(cfg.APIURL, "/")+"/"))
	}
	return &Handler{
		client: slack.New(cfg.BotToken, opts...),
		log:    log.With().Str("component", "slack").Logger(),
	}, nil
}

// Renderers returns the formats Slack accepts.
func Renderers() map[message.Format]render.Renderer {
	return map[message.Format]render.Renderer{
		message.FormatText:     render.Text,
		message.FormatMarkdown: render.Markdown,
	}
}

func (h *Handler) Name() string { return Name }

func text(payload *render.Payload) slack.MsgOption {
	if payload.Format == message.FormatMarkdown {
		return slack.MsgOptionText(ToMrkdwn(payload.Body), false)
	}
	return slack.MsgOptionText(payload.Body, true)
}

// Send posts payload to a channel and returns the message timestamp, which
// Slack uses as the message ID. Replies go to the replied message's thread.
func (h *Handler) Send(ctx context.Context, channelID string, payload *render.Payload) (string, error) {
	opts := []slack.MsgOption{text(payload)}
	if payload.ReplyTo != "" {
		opts = append(opts, slack.MsgOptionTS(payload.ReplyTo))
	}
	_, ts, err := h.client.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to post message: %w", err)
	}
	return ts, nil
}

// Recall deletes a message.
func (h *Handler) Recall(ctx context.Context, channelID, ts string) error {
	if _, _, err := h.client.DeleteMessageContext(ctx, channelID, ts); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Edit replaces the text of a message.
func (h *Handler) Edit(ctx context.Context, channelID, ts string, payload *render.Payload) error {
	if _, _, _, err := h.client.UpdateMessageContext(ctx, channelID, ts, text(payload)); err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return nil
}

var (
	boldRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	strikeRe = regexp.MustCompile(`~~(.+?)~~`)
	linkRe   = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
)

// ToMrkdwn converts lightweight markdown to Slack mrkdwn.
func ToMrkdwn(md string) string {
	md = boldRe.ReplaceAllString(md, "*$1*")
	md = strikeRe.ReplaceAllString(md, "~$1~")
	return linkRe.ReplaceAllString(md, "<$2|$1>")
}
