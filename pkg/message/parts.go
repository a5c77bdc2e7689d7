// Copyright 2024-2026 Aiku AI

package message

// Part is one element of a message body. The set of implementations is closed;
// renderers switch over the concrete types.
type Part interface {
	partType() string
}

// Text is a run of text. Markdown is set when the source platform wrote the
// text in lightweight markup rather than plain text.
type Text struct {
	Text     string
	Markdown bool
}

// Image is an inline picture.
type Image struct {
	URL string
}

// Mention references a user on the source platform.
type Mention struct {
	UserID string
	Name   string
}

// Emoji is a platform-specific custom emoji or sticker face.
type Emoji struct {
	ID   string
	Name string
	URL  string
}

// Audio is a voice message or audio clip.
type Audio struct {
	URL string
}

// Video is a video clip.
type Video struct {
	URL string
}

// File is a generic attachment.
type File struct {
	URL  string
	Name string
}

// Quote is a reply to an earlier message on the source platform.
type Quote struct {
	MessageID  string
	SenderName string
	Parts      []Part
}

// Forward is a bundle of forwarded messages.
type Forward struct {
	Messages []*Envelope
}

// Unknown is a segment the normalizer could not classify.
type Unknown struct {
	Type string
}

func (*Text) partType() string    { return "text" }
func (*Image) partType() string   { return "image" }
func (*Mention) partType() string { return "mention" }
func (*Emoji) partType() string   { return "emoji" }
func (*Audio) partType() string   { return "audio" }
func (*Video) partType() string   { return "video" }
func (*File) partType() string    { return "file" }
func (*Quote) partType() string   { return "quote" }
func (*Forward) partType() string { return "forward" }
func (*Unknown) partType() string { return "unknown" }

// PartType returns the short name of a part's variant.
func PartType(p Part) string {
	if p == nil {
		return ""
	}
	return p.partType()
}

// PlainText concatenates the text and mention parts of a message, ignoring media.
// It is used for log lines and for platforms that only accept a caption.
func PlainText(parts []Part) string {
	var out []byte
	for _, part := range parts {
		switch p := part.(type) {
		case *Text:
			out = append(out, p.Text...)
		case *Mention:
			out = append(out, '@')
			if p.Name != "" {
				out = append(out, p.Name...)
			} else {
				out = append(out, p.UserID...)
			}
		}
	}
	return string(out)
}
