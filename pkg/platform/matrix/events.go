// Copyright 2024-2026 Aiku AI

package matrix

import (
	"context"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/platform"
)

// parseMessageEvent returns nil for events that must not be relayed.
func (h *Handler) parseMessageEvent(evt *event.Event) platform.Event {
	if h.isIgnoredUser(evt.Sender) {
		return nil
	}
	content := evt.Content.AsMessage()
	if content == nil {
		return nil
	}
	// Notices are sent by bots and are never relayed.
	if content.MsgType == event.MsgNotice {
		return nil
	}

	if editOf := content.RelatesTo.GetReplaceID(); editOf != "" {
		newContent := content.NewContent
		if newContent == nil {
			return nil
		}
		env := h.envelope(evt, editOf)
		env.Parts = h.normalize(newContent)
		return platform.EditEvent{Envelope: env}
	}

	env := h.envelope(evt, evt.ID)
	if replyTo := content.RelatesTo.GetReplyTo(); replyTo != "" {
		env.Parts = append(env.Parts, &message.Quote{MessageID: replyTo.String()})
	}
	env.Parts = append(env.Parts, h.normalize(content)...)
	return platform.MessageEvent{Envelope: env}
}

func (h *Handler) envelope(evt *event.Event, messageID id.EventID) *message.Envelope {
	return &message.Envelope{
		Platform:   Name,
		MessageID:  messageID.String(),
		GroupID:    evt.RoomID.String(),
		SenderID:   evt.Sender.String(),
		SenderName: evt.Sender.Localpart(),
		Timestamp:  time.UnixMilli(evt.Timestamp),
	}
}

// parseRedactionEvent maps a redaction to a recall. The redacted event is
// fetched to learn its sender; when that fails the actor is left empty.
func (h *Handler) parseRedactionEvent(ctx context.Context, evt *event.Event) platform.Event {
	redacts := evt.Redacts
	if content := evt.Content.AsRedaction(); content != nil && content.Redacts != "" {
		redacts = content.Redacts
	}
	if redacts == "" || h.isIgnoredUser(evt.Sender) {
		return nil
	}
	recall := message.Recall{
		Platform:  Name,
		GroupID:   evt.RoomID.String(),
		MessageID: redacts.String(),
		ActorID:   evt.Sender.String(),
	}
	original, err := h.client.GetEvent(ctx, evt.RoomID, redacts)
	if err != nil {
		h.log.Debug().Err(err).
			Str("event_id", redacts.String()).
			Msg("Failed to fetch redacted event, treating redaction as self-initiated")
		recall.ActorID = ""
	} else {
		recall.SenderID = original.Sender.String()
	}
	return platform.RecallEvent{Recall: recall}
}
