// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/anysync/pkg/message"
)

// normalize converts a post into an envelope. The post text is kept as
// markdown since Mattermost renders it that way.
func (h *Handler) normalize(evt *model.WebSocketEvent, post *model.Post) *message.Envelope {
	env := &message.Envelope{
		Platform:   Name,
		MessageID:  post.Id,
		GroupID:    post.ChannelId,
		SenderID:   post.UserId,
		SenderName: senderName(evt),
		Timestamp:  time.UnixMilli(post.CreateAt),
	}
	if post.UserId != "" {
		env.SenderAvatar = h.client.URL + "/api/v4/users/" + post.UserId + "/image"
	}
	if post.RootId != "" {
		env.Parts = append(env.Parts, &message.Quote{MessageID: post.RootId})
	}
	if post.Message != "" {
		env.Parts = append(env.Parts, &message.Text{Text: post.Message, Markdown: true})
	}
	env.Parts = append(env.Parts, h.fileParts(post)...)
	return env
}

// fileParts maps post attachments to media parts. Metadata is preferred
// since it carries the MIME type; bare file IDs become generic files.
func (h *Handler) fileParts(post *model.Post) []message.Part {
	var parts []message.Part
	if post.Metadata != nil && len(post.Metadata.Files) > 0 {
		for _, info := range post.Metadata.Files {
			if info == nil {
				continue
			}
			parts = append(parts, filePart(h.fileURL(info.Id), info.Name, info.MimeType))
		}
		return parts
	}
	for _, id := range post.FileIds {
		parts = append(parts, &message.File{URL: h.fileURL(id)})
	}
	return parts
}

func (h *Handler) fileURL(id string) string {
	return h.client.URL + "/api/v4/files/" + id
}

func filePart(url, name, mime string) message.Part {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return &message.Image{URL: url}
	case strings.HasPrefix(mime, "audio/"):
		return &message.Audio{URL: url}
	case strings.HasPrefix(mime, "video/"):
		return &message.Video{URL: url}
	default:
		return &message.File{URL: url, Name: name}
	}
}
