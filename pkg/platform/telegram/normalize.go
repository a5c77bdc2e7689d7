// Copyright 2024-2026 Aiku AI

package telegram

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/platform"
)

// parseUpdate returns nil for updates that must not be relayed.
func (h *Handler) parseUpdate(ctx context.Context, update telego.Update) platform.Event {
	switch {
	case update.Message != nil:
		if h.isIgnoredUser(update.Message.From) {
			return nil
		}
		return platform.MessageEvent{Envelope: h.normalize(ctx, update.Message)}
	case update.EditedMessage != nil:
		if h.isIgnoredUser(update.EditedMessage.From) {
			return nil
		}
		return platform.EditEvent{Envelope: h.normalize(ctx, update.EditedMessage)}
	}
	return nil
}

func (h *Handler) normalize(ctx context.Context, msg *telego.Message) *message.Envelope {
	env := &message.Envelope{
		Platform:  Name,
		MessageID: strconv.Itoa(msg.MessageID),
		GroupID:   strconv.FormatInt(msg.Chat.ID, 10),
		Timestamp: time.Unix(msg.Date, 0),
	}
	if msg.From != nil {
		env.SenderID = strconv.FormatInt(msg.From.ID, 10)
		env.SenderName = displayName(msg.From)
	}
	if msg.ReplyToMessage != nil {
		quote := &message.Quote{MessageID: strconv.Itoa(msg.ReplyToMessage.MessageID)}
		if msg.ReplyToMessage.From != nil {
			quote.SenderName = displayName(msg.ReplyToMessage.From)
		}
		env.Parts = append(env.Parts, quote)
	}

	switch {
	case len(msg.Photo) > 0:
		// Sizes are ordered smallest first.
		env.Parts = append(env.Parts, &message.Image{URL: h.fileURL(ctx, msg.Photo[len(msg.Photo)-1].FileID)})
	case msg.Sticker != nil:
		env.Parts = append(env.Parts, &message.Emoji{
			ID:   msg.Sticker.FileUniqueID,
			Name: msg.Sticker.Emoji,
			URL:  h.fileURL(ctx, msg.Sticker.FileID),
		})
	case msg.Voice != nil:
		env.Parts = append(env.Parts, &message.Audio{URL: h.fileURL(ctx, msg.Voice.FileID)})
	case msg.Audio != nil:
		env.Parts = append(env.Parts, &message.Audio{URL: h.fileURL(ctx, msg.Audio.FileID)})
	case msg.Video != nil:
		env.Parts = append(env.Parts, &message.Video{URL: h.fileURL(ctx, msg.Video.FileID)})
	case msg.Document != nil:
		env.Parts = append(env.Parts, &message.File{URL: h.fileURL(ctx, msg.Document.FileID), Name: msg.Document.FileName})
	}

	text, entities := msg.Text, msg.Entities
	if text == "" {
		text, entities = msg.Caption, msg.CaptionEntities
	}
	env.Parts = append(env.Parts, textParts(text, entities)...)
	return env
}

func displayName(u *telego.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// textParts splits text around text_mention entities. Entity offsets are in
// UTF-16 code units.
func textParts(text string, entities []telego.MessageEntity) []message.Part {
	if text == "" {
		return nil
	}
	units := utf16Units(text)
	var (
		parts []message.Part
		last  int
	)
	for _, ent := range entities {
		if ent.Type != telego.EntityTypeTextMention || ent.User == nil {
			continue
		}
		start, end := ent.Offset, ent.Offset+ent.Length
		if start < last || end <= start || end > len(units) {
			continue
		}
		if start > last {
			parts = append(parts, &message.Text{Text: fromUnits(units[last:start])})
		}
		parts = append(parts, &message.Mention{
			UserID: strconv.FormatInt(ent.User.ID, 10),
			Name:   fromUnits(units[start:end]),
		})
		last = end
	}
	if last < len(units) {
		parts = append(parts, &message.Text{Text: fromUnits(units[last:])})
	}
	return parts
}

// fileURL resolves a file ID to a download URL. When resolution fails the
// bare file ID is kept so the part is still rendered.
func (h *Handler) fileURL(ctx context.Context, fileID string) string {
	file, err := h.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		h.log.Debug().Err(err).Str("file_id", fileID).Msg("Failed to resolve file")
		return fileID
	}
	return h.bot.FileDownloadURL(file.FilePath)
}
