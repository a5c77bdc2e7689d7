// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mattermost

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/platform"
	"github.com/aiku/anysync/pkg/render"
)

// Name is the platform name used in rules.
const Name = "mattermost"

const reconnectDelay = 5 * time.Second

// Config configures the Mattermost handler.
type Config struct {
	ServerURL string `yaml:"server_url" env:"SERVER_URL"`
	Token     string `yaml:"token" env:"TOKEN"`
	// BotPrefix marks usernames of other bridge bots whose posts are not relayed.
	BotPrefix string `yaml:"bot_prefix" env:"BOT_PREFIX"`
	// IgnoreUserIDs lists Mattermost user IDs whose posts are not relayed.
	IgnoreUserIDs []string `yaml:"ignore_user_ids" env:"IGNORE_USER_IDS"`
}

// Enabled reports whether the section is filled in.
func (c Config) Enabled() bool {
	return c.ServerURL != "" && c.Token != ""
}

// Handler is the Mattermost platform handler.
type Handler struct {
	cfg    Config
	client *model.Client4
	log    zerolog.Logger

	mu       sync.Mutex
	wsClient *model.WebSocketClient
	userID   string
	sink     platform.Sink

	stopOnce sync.Once
	stopChan chan struct{}
}

var (
	_ platform.Handler  = (*Handler)(nil)
	_ platform.Recaller = (*Handler)(nil)
	_ platform.Editor   = (*Handler)(nil)
	_ platform.Listener = (*Handler)(nil)
)

// New creates a handler. It does not contact the server until Start.
func New(cfg Config, log zerolog.Logger) (*Handler, error) {
	if !cfg.Enabled() {
		return nil, errors.New("mattermost server_url and token are required")
	}
	client := model.NewAPIv4Client(strings.TrimSuffix(cfg.ServerURL, "/"))
	client.SetToken(cfg.Token)
	return &Handler{
		cfg:      cfg,
		client:   client,
		log:      log.With().Str("component", "mattermost").Logger(),
		stopChan: make(chan struct{}),
	}, nil
}

// Renderers returns the formats Mattermost accepts.
func Renderers() map[message.Format]render.Renderer {
	return map[message.Format]render.Renderer{
		message.FormatText:     render.Text,
		message.FormatMarkdown: render.Markdown,
	}
}

func (h *Handler) Name() string { return Name }

// Send creates a post in channelID. Replies are attached to the thread of
// the replied post.
func (h *Handler) Send(ctx context.Context, channelID string, payload *render.Payload) (string, error) {
	post := &model.Post{
		ChannelId: channelID,
		Message:   payload.Body,
	}
	if payload.ReplyTo != "" {
		post.RootId = h.threadRoot(ctx, payload.ReplyTo)
	}
	created, _, err := h.client.CreatePost(ctx, post)
	if err != nil {
		return "", fmt.Errorf("failed to create post: %w", err)
	}
	return created.Id, nil
}

// threadRoot returns the root of the thread postID belongs to.
func (h *Handler) threadRoot(ctx context.Context, postID string) string {
	parent, _, err := h.client.GetPost(ctx, postID, "")
	if err != nil {
		h.log.Debug().Err(err).Str("post_id", postID).Msg("Failed to fetch replied post, using it as root")
		return postID
	}
	if parent.RootId != "" {
		return parent.RootId
	}
	return parent.Id
}

// Recall deletes a post.
func (h *Handler) Recall(ctx context.Context, _, postID string) error {
	if _, err := h.client.DeletePost(ctx, postID); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	return nil
}

// Edit replaces the text of a post.
func (h *Handler) Edit(ctx context.Context, _, postID string, payload *render.Payload) error {
	text := payload.Body
	if _, _, err := h.client.PatchPost(ctx, postID, &model.PostPatch{Message: &text}); err != nil {
		return fmt.Errorf("failed to edit post: %w", err)
	}
	return nil
}

// Start verifies the session and relays WebSocket events to sink until ctx
// is canceled or Stop is called.
func (h *Handler) Start(ctx context.Context, sink platform.Sink) error {
	me, _, err := h.client.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to verify Mattermost session: %w", err)
	}
	h.mu.Lock()
	h.userID = me.Id
	h.sink = sink
	h.mu.Unlock()
	h.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")

	for {
		if err = h.connectWebSocket(); err != nil {
			h.log.Error().Err(err).Msg("WebSocket connection failed")
		} else {
			h.listenWebSocket(ctx)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-h.stopChan:
			return nil
		case <-time.After(reconnectDelay):
			h.log.Info().Msg("Reconnecting WebSocket")
		}
	}
}

// Stop closes the WebSocket connection and ends Start.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.wsClient != nil {
		h.wsClient.Close()
		h.wsClient = nil
	}
}

func (h *Handler) connectWebSocket() error {
	wsURL := httpToWS(h.client.URL)
	ws, err := model.NewWebSocketClient4(wsURL, h.client.AuthToken)
	if err != nil {
		return fmt.Errorf("failed to create websocket client: %w", err)
	}
	ws.Listen()
	h.mu.Lock()
	h.wsClient = ws
	h.mu.Unlock()
	h.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	return nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// listenWebSocket returns when the connection drops or the handler stops.
func (h *Handler) listenWebSocket(ctx context.Context) {
	h.mu.Lock()
	ws := h.wsClient
	h.mu.Unlock()
	if ws == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			ws.Close()
			return
		case <-h.stopChan:
			return
		case evt, ok := <-ws.EventChannel:
			if !ok {
				h.log.Warn().Msg("WebSocket event channel closed")
				return
			}
			if evt == nil {
				continue
			}
			h.handleEvent(ctx, evt)
		}
	}
}

func (h *Handler) isIgnoredUser(userID string) bool {
	h.mu.Lock()
	own := h.userID
	h.mu.Unlock()
	return userID == own || slices.Contains(h.cfg.IgnoreUserIDs, userID)
}
