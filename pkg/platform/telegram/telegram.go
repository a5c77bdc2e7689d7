// Copyright 2024-2026 Aiku AI

// Package telegram connects a Telegram bot to the sync engine. Inbound
// updates are received by long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	"github.com/rs/zerolog"

	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/platform"
	"github.com/aiku/anysync/pkg/render"
)

// Name is the platform name used in rules.
const Name = "telegram"

// Config configures the Telegram handler.
type Config struct {
	Token string `yaml:"token" env:"TOKEN"`
	// APIServer overrides the Bot API endpoint, e.g. for a local Bot API server.
	APIServer     string  `yaml:"api_server" env:"API_SERVER"`
	IgnoreUserIDs []int64 `yaml:"ignore_user_ids" env:"IGNORE_USER_IDS"`
}

// Enabled reports whether the section is filled in.
func (c Config) Enabled() bool {
	return c.Token != ""
}

// Handler is the Telegram platform handler.
type Handler struct {
	cfg Config
	bot *telego.Bot
	log zerolog.Logger

	mu     sync.Mutex
	selfID int64
	cancel context.CancelFunc
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
		return nil, errors.New("telegram token is required")
	}
	opts := []telego.BotOption{telego.WithDiscardLogger()}
	if cfg.APIServer != "" {
		opts = append(opts, telego.WithAPIServer(strings.TrimSuffix(cfg.APIServer, "/")))
	}
	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Handler{
		cfg: cfg,
		bot: bot,
		log: log.With().Str("component", "telegram").Logger(),
	}, nil
}

// Renderers returns the formats Telegram accepts. Telegram HTML only allows
// inline tags, so the compact renderer is used.
func Renderers() map[message.Format]render.Renderer {
	return map[message.Format]render.Renderer{
		message.FormatText: render.Text,
		message.FormatHTML: render.CompactHTML,
	}
}

func (h *Handler) Name() string { return Name }

func parseChatID(groupID string) (telego.ChatID, error) {
	if n, err := strconv.ParseInt(groupID, 10, 64); err == nil {
		return telego.ChatID{ID: n}, nil
	}
	if strings.HasPrefix(groupID, "@") {
		return telego.ChatID{Username: groupID}, nil
	}
	return telego.ChatID{}, fmt.Errorf("invalid telegram chat id %q", groupID)
}

func parseMessageID(messageID string) (int, error) {
	n, err := strconv.Atoi(messageID)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram message id %q", messageID)
	}
	return n, nil
}

func parseMode(f message.Format) string {
	if f == message.FormatHTML {
		return telego.ModeHTML
	}
	return ""
}

// Send posts payload to the chat and returns the message ID.
func (h *Handler) Send(ctx context.Context, groupID string, payload *render.Payload) (string, error) {
	chatID, err := parseChatID(groupID)
	if err != nil {
		return "", err
	}
	params := &telego.SendMessageParams{
		ChatID:    chatID,
		Text:      payload.Body,
		ParseMode: parseMode(payload.Format),
	}
	if payload.ReplyTo != "" {
		if replyID, err := parseMessageID(payload.ReplyTo); err == nil {
			params.ReplyParameters = &telego.ReplyParameters{MessageID: replyID, AllowSendingWithoutReply: true}
		}
	}
	msg, err := h.bot.SendMessage(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return strconv.Itoa(msg.MessageID), nil
}

// Recall deletes a message.
func (h *Handler) Recall(ctx context.Context, groupID, messageID string) error {
	chatID, err := parseChatID(groupID)
	if err != nil {
		return err
	}
	msgID, err := parseMessageID(messageID)
	if err != nil {
		return err
	}
	if err = h.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{ChatID: chatID, MessageID: msgID}); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Edit replaces the text of a message.
func (h *Handler) Edit(ctx context.Context, groupID, messageID string, payload *render.Payload) error {
	chatID, err := parseChatID(groupID)
	if err != nil {
		return err
	}
	msgID, err := parseMessageID(messageID)
	if err != nil {
		return err
	}
	_, err = h.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: msgID,
		Text:      payload.Body,
		ParseMode: parseMode(payload.Format),
	})
	if err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// Start long-polls for updates until ctx is canceled or Stop is called.
func (h *Handler) Start(ctx context.Context, sink platform.Sink) error {
	me, err := h.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify telegram bot: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.selfID = me.ID
	h.cancel = cancel
	h.mu.Unlock()
	defer cancel()

	updates, err := h.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		AllowedUpdates: []string{"message", "edited_message"},
	})
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}
	h.log.Info().Str("username", me.Username).Msg("Long polling started")
	for update := range updates {
		if out := h.parseUpdate(ctx, update); out != nil {
			sink.Dispatch(ctx, out)
		}
	}
	return nil
}

// Stop ends long polling.
func (h *Handler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *Handler) isIgnoredUser(user *telego.User) bool {
	if user == nil {
		return false
	}
	h.mu.Lock()
	self := h.selfID
	h.mu.Unlock()
	return user.ID == self || user.IsBot || slices.Contains(h.cfg.IgnoreUserIDs, user.ID)
}
