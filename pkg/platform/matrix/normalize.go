// Copyright 2024-2026 Aiku AI

package matrix

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/render/htmlfmt"
)

// marker brackets placeholder indexes inside converted text. It is a
// private-use code point, which the HTML parser keeps as is.
const marker = "\uE000"

// normalize converts message content into parts.
func (h *Handler) normalize(content *event.MessageEventContent) []message.Part {
	switch content.MsgType {
	case event.MsgImage:
		return []message.Part{&message.Image{URL: h.mediaURL(content.URL)}}
	case event.MsgAudio:
		return []message.Part{&message.Audio{URL: h.mediaURL(content.URL)}}
	case event.MsgVideo:
		return []message.Part{&message.Video{URL: h.mediaURL(content.URL)}}
	case event.MsgFile:
		name := content.FileName
		if name == "" {
			name = content.Body
		}
		return []message.Part{&message.File{URL: h.mediaURL(content.URL), Name: name}}
	case event.MsgEmote:
		return []message.Part{&message.Text{Text: "* " + content.Body}}
	}
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return textPart(content.Body, false)
	}
	return h.normalizeHTML(content)
}

func textPart(text string, markdown bool) []message.Part {
	if text == "" {
		return nil
	}
	return []message.Part{&message.Text{Text: text, Markdown: markdown}}
}

// normalizeHTML splits formatted bodies around user pills and custom
// emoticons so they become Mention and Emoji parts.
func (h *Handler) normalizeHTML(content *event.MessageEventContent) []message.Part {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content.FormattedBody))
	if err != nil {
		return []message.Part{&message.Text{Text: htmlfmt.Parse(content), Markdown: true}}
	}

	var inline []message.Part
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		userID, ok := pillUserID(sel.AttrOr("href", ""))
		if !ok {
			return
		}
		name := strings.TrimPrefix(sel.Text(), "@")
		sel.ReplaceWithHtml(placeholder(len(inline)))
		inline = append(inline, &message.Mention{UserID: userID, Name: name})
	})
	doc.Find("img[data-mx-emoticon]").Each(func(_ int, sel *goquery.Selection) {
		src := sel.AttrOr("src", "")
		alt := sel.AttrOr("alt", "")
		sel.ReplaceWithHtml(placeholder(len(inline)))
		inline = append(inline, &message.Emoji{
			ID:   src,
			Name: strings.Trim(alt, ":"),
			URL:  h.mediaURL(id.ContentURIString(src)),
		})
	})

	body, err := doc.Find("body").Html()
	if err != nil {
		return []message.Part{&message.Text{Text: htmlfmt.Parse(content), Markdown: true}}
	}
	return splitPlaceholders(htmlfmt.ToMarkdown(body), inline)
}

func placeholder(i int) string {
	return fmt.Sprintf("%s%d%s", marker, i, marker)
}

// splitPlaceholders interleaves the text between placeholders with the
// parts they stand for.
func splitPlaceholders(text string, inline []message.Part) []message.Part {
	var parts []message.Part
	fields := strings.Split(text, marker)
	for i, field := range fields {
		if i%2 == 0 {
			parts = append(parts, textPart(field, true)...)
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(field, "%d", &idx); err == nil && idx >= 0 && idx < len(inline) {
			parts = append(parts, inline[idx])
		}
	}
	return parts
}

// pillUserID extracts the user ID from a matrix.to user link.
func pillUserID(href string) (string, bool) {
	const prefix = "https://matrix.to/#/"
	if !strings.HasPrefix(href, prefix) {
		return "", false
	}
	target, err := url.PathUnescape(strings.TrimPrefix(href, prefix))
	if err != nil || !strings.HasPrefix(target, "@") {
		return "", false
	}
	if i := strings.IndexAny(target, "/?"); i >= 0 {
		target = target[:i]
	}
	return target, true
}

// mediaURL converts an mxc:// URI into an HTTP download URL.
func (h *Handler) mediaURL(uri id.ContentURIString) string {
	parsed, err := uri.Parse()
	if err != nil || parsed.IsEmpty() {
		return string(uri)
	}
	return strings.TrimSuffix(h.cfg.HomeserverURL, "/") +
		"/_matrix/client/v1/media/download/" + parsed.Homeserver + "/" + parsed.FileID
}
