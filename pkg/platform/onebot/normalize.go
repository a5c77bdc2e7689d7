// Copyright 2024-2026 Aiku AI

package onebot

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/platform"
)

// faceURLFormat is where QQ face thumbnails are published by face ID.
const faceURLFormat = "https://koishi.js.org/QFace/assets/qq_emoji/thumbs/gif_%s.gif"

// forwardFetchTimeout bounds one get_forward_msg call made while an event is
// being normalized.
const forwardFetchTimeout = 10 * time.Second

// forwardFetcher loads the nodes of a forwarded bundle.
type forwardFetcher func(ctx context.Context, id string) (gjson.Result, error)

// parseEvent returns nil for events that are not relayed.
func (h *Handler) parseEvent(ctx context.Context, c *conn, data []byte) platform.Event {
	evt := gjson.ParseBytes(data)
	fetch := func(ctx context.Context, id string) (gjson.Result, error) {
		ctx, cancel := context.WithTimeout(ctx, forwardFetchTimeout)
		defer cancel()
		return c.call(ctx, "get_forward_msg", map[string]any{"id": id})
	}
	switch evt.Get("post_type").String() {
	case "message":
		if evt.Get("message_type").String() != "group" {
			return nil
		}
		if h.isIgnoredUser(evt.Get("user_id").String()) {
			return nil
		}
		return platform.MessageEvent{Envelope: normalizeMessage(ctx, evt, fetch)}
	case "notice":
		if evt.Get("notice_type").String() != "group_recall" {
			return nil
		}
		recall := parseRecall(evt)
		if h.isIgnoredUser(recall.SenderID) {
			return nil
		}
		return platform.RecallEvent{Recall: recall}
	case "meta_event":
		h.log.Trace().Str("meta_event_type", evt.Get("meta_event_type").String()).Msg("Meta event")
	}
	return nil
}

func parseRecall(evt gjson.Result) message.Recall {
	return message.Recall{
		Platform:  Name,
		GroupID:   evt.Get("group_id").String(),
		MessageID: evt.Get("message_id").String(),
		SenderID:  evt.Get("user_id").String(),
		ActorID:   evt.Get("operator_id").String(),
	}
}

func avatarURL(userID string) string {
	return "https://q1.qlogo.cn/g?b=qq&nk=" + userID + "&s=640"
}

func senderName(sender gjson.Result) string {
	if card := sender.Get("card").String(); card != "" {
		return card
	}
	return sender.Get("nickname").String()
}

func normalizeMessage(ctx context.Context, evt gjson.Result, fetch forwardFetcher) *message.Envelope {
	userID := evt.Get("user_id").String()
	env := &message.Envelope{
		Platform:   Name,
		MessageID:  evt.Get("message_id").String(),
		GroupID:    evt.Get("group_id").String(),
		SenderID:   userID,
		SenderName: senderName(evt.Get("sender")),
		Parts:      parseSegments(ctx, evt.Get("message"), fetch),
	}
	if userID != "" {
		env.SenderAvatar = avatarURL(userID)
	}
	if ts := evt.Get("time").Int(); ts > 0 {
		env.Timestamp = time.Unix(ts, 0)
	}
	return env
}

// parseSegments converts a message array into parts. A string message is
// taken as plain text.
func parseSegments(ctx context.Context, msg gjson.Result, fetch forwardFetcher) []message.Part {
	if msg.Type == gjson.String {
		if msg.Str == "" {
			return nil
		}
		return []message.Part{&message.Text{Text: msg.Str}}
	}
	var parts []message.Part
	msg.ForEach(func(_, seg gjson.Result) bool {
		if part := parseSegment(ctx, seg, fetch); part != nil {
			parts = append(parts, part)
		}
		return true
	})
	return parts
}

func mediaURL(data gjson.Result) string {
	if u := data.Get("url").String(); u != "" {
		return u
	}
	return data.Get("file").String()
}

func parseSegment(ctx context.Context, seg gjson.Result, fetch forwardFetcher) message.Part {
	data := seg.Get("data")
	switch typ := seg.Get("type").String(); typ {
	case "text":
		if t := data.Get("text").String(); t != "" {
			return &message.Text{Text: t}
		}
		return nil
	case "image":
		return &message.Image{URL: mediaURL(data)}
	case "at":
		qq := data.Get("qq").String()
		name := data.Get("name").String()
		if qq == "all" && name == "" {
			name = "all"
		}
		return &message.Mention{UserID: qq, Name: name}
	case "face":
		id := data.Get("id").String()
		return &message.Emoji{ID: id, URL: fmt.Sprintf(faceURLFormat, id)}
	case "record":
		return &message.Audio{URL: mediaURL(data)}
	case "video":
		return &message.Video{URL: mediaURL(data)}
	case "file":
		return &message.File{URL: mediaURL(data), Name: data.Get("name").String()}
	case "reply":
		return &message.Quote{MessageID: data.Get("id").String()}
	case "forward":
		return parseForward(ctx, data.Get("id").String(), data.Get("content"), fetch)
	default:
		return &message.Unknown{Type: typ}
	}
}

// parseForward expands a forwarded bundle. Some implementations inline the
// nodes as content; otherwise they are fetched by ID.
func parseForward(ctx context.Context, id string, inline gjson.Result, fetch forwardFetcher) message.Part {
	nodes := inline
	if !nodes.IsArray() {
		if fetch == nil || id == "" {
			return &message.Unknown{Type: "forward"}
		}
		data, err := fetch(ctx, id)
		if err != nil {
			return &message.Unknown{Type: "forward"}
		}
		nodes = data.Get("messages")
	}
	fwd := &message.Forward{}
	nodes.ForEach(func(_, node gjson.Result) bool {
		// Nested bundles are not fetched again.
		content := node.Get("content")
		if !content.Exists() {
			content = node.Get("message")
		}
		if !content.Exists() {
			content = node.Get("data.content")
		}
		userID := node.Get("sender.user_id").String()
		if userID == "" {
			userID = node.Get("data.user_id").String()
		}
		name := senderName(node.Get("sender"))
		if name == "" {
			name = node.Get("data.nickname").String()
		}
		fwd.Messages = append(fwd.Messages, &message.Envelope{
			Platform:   Name,
			MessageID:  node.Get("message_id").String(),
			SenderID:   userID,
			SenderName: name,
			Parts:      parseSegments(ctx, content, nil),
		})
		return true
	})
	return fwd
}
