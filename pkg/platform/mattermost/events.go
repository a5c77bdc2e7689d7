// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mattermost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/platform"
)

// handleEvent dispatches a Mattermost WebSocket event to the sink.
func (h *Handler) handleEvent(ctx context.Context, evt *model.WebSocketEvent) {
	h.mu.Lock()
	sink := h.sink
	h.mu.Unlock()
	if sink == nil {
		return
	}

	var (
		out platform.Event
		err error
	)
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		out, err = h.parsePostedEvent(evt)
	case model.WebsocketEventPostEdited:
		out, err = h.parsePostEditedEvent(evt)
	case model.WebsocketEventPostDeleted:
		out, err = h.parsePostDeletedEvent(evt)
	default:
		h.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
		return
	}
	if err != nil {
		h.log.Err(err).Str("event_type", string(evt.EventType())).Msg("Failed to parse event")
		return
	}
	if out != nil {
		sink.Dispatch(ctx, out)
	}
}

// decodePost reads the JSON-encoded post carried by post events.
func decodePost(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, errors.New("event missing post data")
	}
	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}
	return &post, nil
}

// shouldSkip applies the echo prevention layers shared by all post events.
func (h *Handler) shouldSkip(evt *model.WebSocketEvent, post *model.Post) bool {
	if h.isIgnoredUser(post.UserId) {
		return true
	}
	senderName := senderName(evt)
	if senderName != "" && isBridgeUsername(senderName, h.cfg.BotPrefix) {
		h.log.Debug().
			Str("post_id", post.Id).
			Str("username", senderName).
			Msg("Skipping bridge username post (echo prevention)")
		return true
	}
	return false
}

// parsePostedEvent returns (nil, nil) to skip silently, (nil, err) on bad
// input, or a message event to dispatch.
func (h *Handler) parsePostedEvent(evt *model.WebSocketEvent) (platform.Event, error) {
	post, err := decodePost(evt)
	if err != nil {
		return nil, err
	}
	// System messages (joins, header changes) are not chat content.
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}
	if h.shouldSkip(evt, post) {
		return nil, nil
	}
	return platform.MessageEvent{Envelope: h.normalize(evt, post)}, nil
}

func (h *Handler) parsePostEditedEvent(evt *model.WebSocketEvent) (platform.Event, error) {
	post, err := decodePost(evt)
	if err != nil {
		return nil, err
	}
	if h.shouldSkip(evt, post) {
		return nil, nil
	}
	return platform.EditEvent{Envelope: h.normalize(evt, post)}, nil
}

func (h *Handler) parsePostDeletedEvent(evt *model.WebSocketEvent) (platform.Event, error) {
	post, err := decodePost(evt)
	if err != nil {
		return nil, err
	}
	if h.isIgnoredUser(post.UserId) {
		return nil, nil
	}
	actor, _ := evt.GetData()["delete_by"].(string)
	return platform.RecallEvent{Recall: message.Recall{
		Platform:  Name,
		GroupID:   post.ChannelId,
		MessageID: post.Id,
		SenderID:  post.UserId,
		ActorID:   actor,
	}}, nil
}

func senderName(evt *model.WebSocketEvent) string {
	name, _ := evt.GetData()["sender_name"].(string)
	return strings.TrimPrefix(name, "@")
}

// isBridgeUsername checks if a username matches known bridge bot patterns.
func isBridgeUsername(username, botPrefix string) bool {
	switch {
	case username == "mattermost-bridge":
		return true
	case strings.HasPrefix(username, "mattermost_"):
		return true
	case botPrefix != "" && strings.HasPrefix(username, botPrefix):
		return true
	default:
		return false
	}
}
