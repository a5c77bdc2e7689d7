// Copyright 2024-2026 Aiku AI

// Package onebot connects a QQ account to the sync engine through a OneBot
// v11 implementation over a forward WebSocket.
//
// OneBot has no edit action; edits of copies fall back to recall and resend.
package onebot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/platform"
	"github.com/aiku/anysync/pkg/render"
)

// Name is the platform name used in rules.
const Name = "onebot"

const defaultReconnectInterval = 5 * time.Second

// Config configures the OneBot handler.
type Config struct {
	WSURL             string        `yaml:"ws_url" env:"WS_URL"`
	AccessToken       string        `yaml:"access_token" env:"ACCESS_TOKEN"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval" env:"RECONNECT_INTERVAL"`
	IgnoreUserIDs     []string      `yaml:"ignore_user_ids" env:"IGNORE_USER_IDS"`
}

// Enabled reports whether the section is filled in.
func (c Config) Enabled() bool {
	return c.WSURL != ""
}

// Handler is the OneBot platform handler.
type Handler struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	conn   *conn
	selfID string

	stopOnce sync.Once
	stopChan chan struct{}
}

var (
	_ platform.Handler  = (*Handler)(nil)
	_ platform.Recaller = (*Handler)(nil)
	_ platform.Listener = (*Handler)(nil)
)

// New creates a handler. It does not connect until Start.
func New(cfg Config, log zerolog.Logger) (*Handler, error) {
	if !cfg.Enabled() {
		return nil, errors.New("onebot ws_url is required")
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	return &Handler{
		cfg:      cfg,
		log:      log.With().Str("component", "onebot").Logger(),
		stopChan: make(chan struct{}),
	}, nil
}

// Renderers returns the formats QQ accepts.
func Renderers() map[message.Format]render.Renderer {
	return map[message.Format]render.Renderer{
		message.FormatText: render.Text,
	}
}

func (h *Handler) Name() string { return Name }

func (h *Handler) current() (*conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return nil, ErrNotConnected
	}
	return h.conn, nil
}

// segment is an outbound message segment.
type segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// outboundSegments builds the message array for a payload: the reply
// reference, the text, then image attachments.
func outboundSegments(payload *render.Payload) []segment {
	var segs []segment
	if payload.ReplyTo != "" {
		segs = append(segs, segment{Type: "reply", Data: map[string]any{"id": payload.ReplyTo}})
	}
	if payload.Body != "" {
		segs = append(segs, segment{Type: "text", Data: map[string]any{"text": payload.Body}})
	}
	for _, att := range payload.Attachments {
		if att.Kind == "image" && att.URL != "" {
			segs = append(segs, segment{Type: "image", Data: map[string]any{"file": att.URL}})
		}
	}
	return segs
}

// Send posts payload to a group and returns the message ID.
func (h *Handler) Send(ctx context.Context, groupID string, payload *render.Payload) (string, error) {
	gid, err := strconv.ParseInt(groupID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid group id %q", groupID)
	}
	c, err := h.current()
	if err != nil {
		return "", err
	}
	data, err := c.call(ctx, "send_group_msg", map[string]any{
		"group_id": gid,
		"message":  outboundSegments(payload),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send group message: %w", err)
	}
	id := data.Get("message_id").String()
	if id == "" {
		return "", errors.New("send_group_msg returned no message_id")
	}
	return id, nil
}

// Recall deletes a message.
func (h *Handler) Recall(ctx context.Context, _, messageID string) error {
	mid, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id %q", messageID)
	}
	c, err := h.current()
	if err != nil {
		return err
	}
	if _, err = c.call(ctx, "delete_msg", map[string]any{"message_id": mid}); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Start connects and relays events until ctx is canceled or Stop is called,
// reconnecting after connection loss.
func (h *Handler) Start(ctx context.Context, sink platform.Sink) error {
	for {
		if err := h.session(ctx, sink); err != nil {
			h.log.Error().Err(err).Msg("OneBot connection failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-h.stopChan:
			return nil
		case <-time.After(h.cfg.ReconnectInterval):
			h.log.Info().Msg("Reconnecting")
		}
	}
}

// session runs one connection until it drops.
func (h *Handler) session(ctx context.Context, sink platform.Sink) error {
	c, err := dial(ctx, h.cfg.WSURL, h.cfg.AccessToken)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.conn = c
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.conn == c {
			h.conn = nil
		}
		h.mu.Unlock()
		c.close()
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-h.stopChan:
		case <-c.done:
			return
		}
		c.close()
	}()

	info, err := c.call(ctx, "get_login_info", map[string]any{})
	if err != nil {
		return fmt.Errorf("failed to get login info: %w", err)
	}
	h.mu.Lock()
	h.selfID = info.Get("user_id").String()
	h.mu.Unlock()
	h.log.Info().Str("self_id", h.selfID).Str("nickname", info.Get("nickname").String()).Msg("Connected")

	for {
		data, ok := c.next()
		if !ok {
			break
		}
		if out := h.parseEvent(ctx, c, data); out != nil {
			sink.Dispatch(ctx, out)
		}
	}
	if c.err != nil && !errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("connection lost: %w", c.err)
	}
	return nil
}

// Stop closes the connection and ends Start.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})
}

func (h *Handler) isIgnoredUser(userID string) bool {
	h.mu.Lock()
	self := h.selfID
	h.mu.Unlock()
	return userID == self || slices.Contains(h.cfg.IgnoreUserIDs, userID)
}
