// Copyright 2024-2026 Aiku AI

// Package matrix connects a Matrix account to the sync engine using the
// client-server API.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/platform"
	"github.com/aiku/anysync/pkg/render"
)

// Name is the platform name used in rules.
const Name = "matrix"

// Config configures the Matrix handler.
type Config struct {
	HomeserverURL string   `yaml:"homeserver_url" env:"HOMESERVER_URL"`
	UserID        string   `yaml:"user_id" env:"USER_ID"`
	AccessToken   string   `yaml:"access_token" env:"ACCESS_TOKEN"`
	IgnoreUserIDs []string `yaml:"ignore_user_ids" env:"IGNORE_USER_IDS"`
	// BotPrefix marks localparts of other bridges' ghost users.
	BotPrefix string `yaml:"bot_prefix" env:"BOT_PREFIX"`
}

// Enabled reports whether the section is filled in.
func (c Config) Enabled() bool {
	return c.HomeserverURL != "" && c.UserID != "" && c.AccessToken != ""
}

// Handler is the Matrix platform handler.
type Handler struct {
	cfg    Config
	client *mautrix.Client
	log    zerolog.Logger

	startOnce sync.Once
}

var (
	_ platform.Handler  = (*Handler)(nil)
	_ platform.Recaller = (*Handler)(nil)
	_ platform.Editor   = (*Handler)(nil)
	_ platform.Listener = (*Handler)(nil)
)

// New creates a handler.
func New(cfg Config, log zerolog.Logger) (*Handler, error) {
	if !cfg.Enabled() {
		return nil, errors.New("matrix homeserver_url, user_id and access_token are required")
	}
	client, err := mautrix.NewClient(cfg.HomeserverURL, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	return &Handler{
		cfg:    cfg,
		client: client,
		log:    log.With().Str("component", "matrix").Logger(),
	}, nil
}

// Renderers returns the formats Matrix accepts.
func Renderers() map[message.Format]render.Renderer {
	return map[message.Format]render.Renderer{
		message.FormatText:     render.Text,
		message.FormatMarkdown: render.Markdown,
		message.FormatHTML:     render.HTML,
	}
}

func (h *Handler) Name() string { return Name }

// Send posts payload into roomID and returns the event ID.
func (h *Handler) Send(ctx context.Context, roomID string, payload *render.Payload) (string, error) {
	content := toContent(payload)
	if payload.ReplyTo != "" {
		content.RelatesTo = &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: id.EventID(payload.ReplyTo)}}
	}
	resp, err := h.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content)
	if err != nil {
		return "", fmt.Errorf("failed to send message event: %w", err)
	}
	return resp.EventID.String(), nil
}

// Recall redacts an event.
func (h *Handler) Recall(ctx context.Context, roomID, eventID string) error {
	if _, err := h.client.RedactEvent(ctx, id.RoomID(roomID), id.EventID(eventID)); err != nil {
		return fmt.Errorf("failed to redact event: %w", err)
	}
	return nil
}

// Edit sends an m.replace edit of eventID.
func (h *Handler) Edit(ctx context.Context, roomID, eventID string, payload *render.Payload) error {
	content := toContent(payload)
	content.SetEdit(id.EventID(eventID))
	if _, err := h.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content); err != nil {
		return fmt.Errorf("failed to send edit: %w", err)
	}
	return nil
}

// toContent builds message content for the payload's format.
func toContent(payload *render.Payload) *event.MessageEventContent {
	switch payload.Format {
	case message.FormatHTML:
		return &event.MessageEventContent{
			MsgType:       event.MsgText,
			Body:          payload.Plain,
			Format:        event.FormatHTML,
			FormattedBody: payload.Body,
		}
	case message.FormatMarkdown:
		rendered := format.RenderMarkdown(payload.Body, true, false)
		return &rendered
	default:
		return &event.MessageEventContent{MsgType: event.MsgText, Body: payload.Body}
	}
}

// Start syncs until ctx is canceled or Stop is called. Events from before
// the first sync are not relayed.
func (h *Handler) Start(ctx context.Context, sink platform.Sink) error {
	syncer, ok := h.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix client has no default syncer")
	}
	h.startOnce.Do(func() {
		syncer.OnSync(h.client.DontProcessOldEvents)
		syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
			if out := h.parseMessageEvent(evt); out != nil {
				sink.Dispatch(ctx, out)
			}
		})
		syncer.OnEventType(event.EventRedaction, func(ctx context.Context, evt *event.Event) {
			if out := h.parseRedactionEvent(ctx, evt); out != nil {
				sink.Dispatch(ctx, out)
			}
		})
	})
	h.log.Info().Str("user_id", h.cfg.UserID).Msg("Starting sync")
	err := h.client.SyncWithContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("matrix sync stopped: %w", err)
	}
	return nil
}

// Stop ends the sync loop.
func (h *Handler) Stop() {
	h.client.StopSync()
}

// isIgnoredUser reports whether events from userID must not be relayed.
func (h *Handler) isIgnoredUser(userID id.UserID) bool {
	if userID == h.client.UserID || slices.Contains(h.cfg.IgnoreUserIDs, userID.String()) {
		return true
	}
	return h.cfg.BotPrefix != "" && strings.HasPrefix(userID.Localpart(), h.cfg.BotPrefix)
}
