// Copyright 2024-2026 Aiku AI

package render

import (
	"html"
	"strings"

	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/render/mdfmt"
)

// Built-in renderers shared by the platform packages.
var (
	Text        Renderer = RendererFunc(renderText)
	Markdown    Renderer = RendererFunc(renderMarkdown)
	HTML        Renderer = RendererFunc(renderHTMLCard)
	CompactHTML Renderer = RendererFunc(renderCompactHTML)
)

// defaultAvatarColor is used for the initial badge when a sender has no avatar.
const defaultAvatarColor = "#5c6bc0"

func renderText(env *message.Envelope) (*Payload, error) {
	body := textParts(env.Parts, "")
	return &Payload{
		Format:      message.FormatText,
		Body:        env.DisplayName() + " [" + env.Platform + "]: " + body,
		Plain:       env.DisplayName() + ": " + body,
		Attachments: attachments(env.Parts),
	}, nil
}

func renderMarkdown(env *message.Envelope) (*Payload, error) {
	var b strings.Builder
	b.WriteString("**" + escapeMarkdown(env.DisplayName()) + "**")
	if env.SenderID != "" {
		b.WriteString(" (`" + env.SenderID + "`)")
	}
	b.WriteString(" · " + env.Platform + "\n")
	b.WriteString(markdownParts(env.Parts))
	return &Payload{
		Format:      message.FormatMarkdown,
		Body:        b.String(),
		Plain:       env.DisplayName() + ": " + textParts(env.Parts, ""),
		Attachments: attachments(env.Parts),
	}, nil
}

func renderHTMLCard(env *message.Envelope) (*Payload, error) {
	var b strings.Builder
	b.WriteString(`<div data-anysync-sender="` + html.EscapeString(env.SenderID) + `">`)
	if env.SenderAvatar != "" {
		b.WriteString(`<img src="` + html.EscapeString(env.SenderAvatar) + `" alt="avatar" width="24" height="24"/> `)
	} else {
		b.WriteString(`<span data-mx-bg-color="` + defaultAvatarColor + `">` + html.EscapeString(initial(env.DisplayName())) + `</span> `)
	}
	b.WriteString("<strong>" + html.EscapeString(env.DisplayName()) + "</strong>")
	if env.SenderID != "" {
		b.WriteString(" <small>ID: " + html.EscapeString(env.SenderID) + "</small>")
	}
	b.WriteString(" <sup>from: " + html.EscapeString(env.Platform) + "</sup></div>")
	b.WriteString("<div>" + htmlParts(env.Parts, true) + "</div>")
	return &Payload{
		Format:      message.FormatHTML,
		Body:        b.String(),
		Plain:       env.DisplayName() + ": " + textParts(env.Parts, ""),
		Attachments: attachments(env.Parts),
	}, nil
}

// renderCompactHTML targets platforms that only accept inline HTML tags.
func renderCompactHTML(env *message.Envelope) (*Payload, error) {
	body := "<b>" + html.EscapeString(env.DisplayName()) + "</b> <i>[" + html.EscapeString(env.Platform) + "]</i>\n" +
		htmlParts(env.Parts, false)
	return &Payload{
		Format:      message.FormatHTML,
		Body:        body,
		Plain:       env.DisplayName() + ": " + textParts(env.Parts, ""),
		Attachments: attachments(env.Parts),
	}, nil
}

func initial(name string) string {
	for _, r := range name {
		return strings.ToUpper(string(r))
	}
	return "#"
}

var markdownEscaper = strings.NewReplacer(`*`, `\*`, `_`, `\_`, "`", "\\`", `~`, `\~`)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func unsupported(typ string) string {
	return "[unsupported: " + typ + "]"
}

func textParts(parts []message.Part, indent string) string {
	var b strings.Builder
	for _, part := range parts {
		switch p := part.(type) {
		case *message.Text:
			b.WriteString(p.Text)
		case *message.Mention:
			b.WriteString("@" + mentionName(p))
		case *message.Image:
			b.WriteString("[image]")
		case *message.Emoji:
			if p.Name != "" {
				b.WriteString(":" + p.Name + ":")
			} else {
				b.WriteString("[emoji]")
			}
		case *message.Audio:
			b.WriteString("[audio]")
		case *message.Video:
			b.WriteString("[video]")
		case *message.File:
			b.WriteString("[file: " + fileName(p) + "]")
		case *message.Quote:
			b.WriteString(indent + "> " + quoteLine(p) + "\n")
		case *message.Forward:
			b.WriteString("[forwarded messages]\n")
			for _, fwd := range p.Messages {
				b.WriteString(indent + "  " + fwd.DisplayName() + ": " + textParts(fwd.Parts, indent+"  ") + "\n")
			}
		case *message.Unknown:
			b.WriteString(unsupported(p.Type))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func markdownParts(parts []message.Part) string {
	var b strings.Builder
	for _, part := range parts {
		switch p := part.(type) {
		case *message.Text:
			if p.Markdown {
				b.WriteString(p.Text)
			} else {
				b.WriteString(escapeMarkdown(p.Text))
			}
		case *message.Mention:
			b.WriteString("**@" + escapeMarkdown(mentionName(p)) + "**")
		case *message.Image:
			b.WriteString("![image](" + p.URL + ")")
		case *message.Emoji:
			switch {
			case p.URL != "":
				b.WriteString("![" + emojiAlt(p) + "](" + p.URL + ")")
			case p.Name != "":
				b.WriteString(":" + p.Name + ":")
			default:
				b.WriteString("[emoji]")
			}
		case *message.Audio:
			b.WriteString("[audio](" + p.URL + ")")
		case *message.Video:
			b.WriteString("[video](" + p.URL + ")")
		case *message.File:
			b.WriteString("[" + escapeMarkdown(fileName(p)) + "](" + p.URL + ")")
		case *message.Quote:
			b.WriteString("> " + escapeMarkdown(quoteLine(p)) + "\n\n")
		case *message.Forward:
			b.WriteString("*forwarded messages*\n")
			for _, fwd := range p.Messages {
				nested := strings.ReplaceAll(markdownParts(fwd.Parts), "\n", "\n> ")
				b.WriteString("> **" + escapeMarkdown(fwd.DisplayName()) + "**: " + nested + "\n")
			}
		case *message.Unknown:
			b.WriteString(escapeMarkdown(unsupported(p.Type)))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// htmlParts renders parts as HTML. Block elements and images are only used
// when rich is set.
func htmlParts(parts []message.Part, rich bool) string {
	var b strings.Builder
	for _, part := range parts {
		switch p := part.(type) {
		case *message.Text:
			if p.Markdown {
				b.WriteString(mdfmt.ToHTML(p.Text))
			} else {
				b.WriteString(escapeHTML(p.Text, rich))
			}
		case *message.Mention:
			b.WriteString("<b>@" + html.EscapeString(mentionName(p)) + "</b>")
		case *message.Image:
			if rich {
				b.WriteString(`<img src="` + html.EscapeString(p.URL) + `" alt="image"/>`)
			} else {
				b.WriteString(link(p.URL, "[image]"))
			}
		case *message.Emoji:
			switch {
			case p.URL != "" && rich:
				b.WriteString(`<img src="` + html.EscapeString(p.URL) + `" alt="` + html.EscapeString(emojiAlt(p)) + `" height="20"/>`)
			case p.URL != "":
				b.WriteString(link(p.URL, "["+emojiAlt(p)+"]"))
			case p.Name != "":
				b.WriteString(":" + html.EscapeString(p.Name) + ":")
			default:
				b.WriteString("[emoji]")
			}
		case *message.Audio:
			b.WriteString(link(p.URL, "[audio]"))
		case *message.Video:
			b.WriteString(link(p.URL, "[video]"))
		case *message.File:
			b.WriteString(link(p.URL, "[file: "+fileName(p)+"]"))
		case *message.Quote:
			b.WriteString("<blockquote>" + html.EscapeString(quoteLine(p)) + "</blockquote>")
			if !rich {
				b.WriteString("\n")
			}
		case *message.Forward:
			b.WriteString("<i>forwarded messages</i>")
			for _, fwd := range p.Messages {
				b.WriteString("<blockquote><b>" + html.EscapeString(fwd.DisplayName()) + "</b>: " + htmlParts(fwd.Parts, rich) + "</blockquote>")
			}
		case *message.Unknown:
			b.WriteString(html.EscapeString(unsupported(p.Type)))
		}
	}
	return b.String()
}

func escapeHTML(s string, rich bool) string {
	s = html.EscapeString(s)
	if rich {
		s = strings.ReplaceAll(s, "\n", "<br/>")
	}
	return s
}

func link(url, label string) string {
	if url == "" {
		return html.EscapeString(label)
	}
	return `<a href="` + html.EscapeString(url) + `">` + html.EscapeString(label) + `</a>`
}

func mentionName(m *message.Mention) string {
	if m.Name != "" {
		return m.Name
	}
	return m.UserID
}

func emojiAlt(e *message.Emoji) string {
	if e.Name != "" {
		return e.Name
	}
	return "emoji"
}

func fileName(f *message.File) string {
	if f.Name != "" {
		return f.Name
	}
	return "attachment"
}

func quoteLine(q *message.Quote) string {
	text := message.PlainText(q.Parts)
	if text == "" {
		text = "…"
	}
	if q.SenderName == "" {
		return text
	}
	return q.SenderName + ": " + text
}

func attachments(parts []message.Part) []Attachment {
	var out []Attachment
	for _, part := range parts {
		switch p := part.(type) {
		case *message.Image:
			out = append(out, Attachment{Kind: "image", URL: p.URL})
		case *message.Audio:
			out = append(out, Attachment{Kind: "audio", URL: p.URL})
		case *message.Video:
			out = append(out, Attachment{Kind: "video", URL: p.URL})
		case *message.File:
			out = append(out, Attachment{Kind: "file", URL: p.URL, Name: p.Name})
		}
	}
	return out
}
