// Copyright 2024-2026 Aiku AI

package discord

import (
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/platform"
)

// tokenRe matches user mentions (<@id>, <@!id>) and custom emoji
// (<:name:id>, <a:name:id>).
var tokenRe = regexp.MustCompile(`<(@!?|a?:(\w+):)(\d+)>`)

func (h *Handler) parseMessageCreate(m *discordgo.MessageCreate) platform.Event {
	if m.Message == nil || h.isIgnoredUser(m.Author) {
		return nil
	}
	if m.Type != discordgo.MessageTypeDefault && m.Type != discordgo.MessageTypeReply {
		return nil
	}
	return platform.MessageEvent{Envelope: normalize(m.Message)}
}

func (h *Handler) parseMessageUpdate(m *discordgo.MessageUpdate) platform.Event {
	// Embed unfurls also arrive as updates, without an author.
	if m.Message == nil || m.Author == nil || h.isIgnoredUser(m.Author) {
		return nil
	}
	return platform.EditEvent{Envelope: normalize(m.Message)}
}

// parseMessageDelete maps a deletion to a recall. The gateway does not report
// who deleted a message.
func (h *Handler) parseMessageDelete(m *discordgo.MessageDelete) platform.Event {
	if m.Message == nil || m.ID == "" {
		return nil
	}
	recall := message.Recall{Platform: Name, GroupID: m.ChannelID, MessageID: m.ID}
	if m.BeforeDelete != nil && m.BeforeDelete.Author != nil {
		if h.isIgnoredUser(m.BeforeDelete.Author) {
			return nil
		}
		recall.SenderID = m.BeforeDelete.Author.ID
	}
	return platform.RecallEvent{Recall: recall}
}

func normalize(m *discordgo.Message) *message.Envelope {
	env := &message.Envelope{
		Platform:  Name,
		MessageID: m.ID,
		GroupID:   m.ChannelID,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		env.SenderID = m.Author.ID
		env.SenderName = m.Author.GlobalName
		if env.SenderName == "" {
			env.SenderName = m.Author.Username
		}
		env.SenderAvatar = m.Author.AvatarURL("128")
	}
	if m.Member != nil && m.Member.Nick != "" {
		env.SenderName = m.Member.Nick
	}
	if m.MessageReference != nil && m.MessageReference.MessageID != "" {
		quote := &message.Quote{MessageID: m.MessageReference.MessageID}
		if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil {
			quote.SenderName = m.ReferencedMessage.Author.Username
		}
		env.Parts = append(env.Parts, quote)
	}
	env.Parts = append(env.Parts, contentParts(m.Content, m.Mentions)...)
	for _, att := range m.Attachments {
		env.Parts = append(env.Parts, attachmentPart(att))
	}
	for _, st := range m.StickerItems {
		env.Parts = append(env.Parts, &message.Emoji{
			ID:   st.ID,
			Name: st.Name,
			URL:  "https://media.discordapp.net/stickers/" + st.ID + ".png",
		})
	}
	return env
}

// contentParts splits content around mention and custom emoji tokens.
func contentParts(content string, mentions []*discordgo.User) []message.Part {
	names := make(map[string]string, len(mentions))
	for _, u := range mentions {
		if u != nil {
			names[u.ID] = u.Username
		}
	}
	var (
		parts []message.Part
		last  int
	)
	for _, loc := range tokenRe.FindAllStringSubmatchIndex(content, -1) {
		if loc[0] > last {
			parts = append(parts, &message.Text{Text: content[last:loc[0]], Markdown: true})
		}
		id := content[loc[6]:loc[7]]
		if strings.HasPrefix(content[loc[2]:loc[3]], "@") {
			parts = append(parts, &message.Mention{UserID: id, Name: names[id]})
		} else {
			ext := ".png"
			if strings.HasPrefix(content[loc[2]:loc[3]], "a:") {
				ext = ".gif"
			}
			parts = append(parts, &message.Emoji{
				ID:   id,
				Name: content[loc[4]:loc[5]],
				URL:  "https://cdn.discordapp.com/emojis/" + id + ext,
			})
		}
		last = loc[1]
	}
	if last < len(content) {
		parts = append(parts, &message.Text{Text: content[last:], Markdown: true})
	}
	return parts
}

func attachmentPart(att *discordgo.MessageAttachment) message.Part {
	switch {
	case strings.HasPrefix(att.ContentType, "image/"):
		return &message.Image{URL: att.URL}
	case strings.HasPrefix(att.ContentType, "audio/"):
		return &message.Audio{URL: att.URL}
	case strings.HasPrefix(att.ContentType, "video/"):
		return &message.Video{URL: att.URL}
	default:
		return &message.File{URL: att.URL, Name: att.Filename}
	}
}
