// Copyright 2024-2026 Aiku AI

package render

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/aiku/anysync/pkg/message"
)

func testEnvelope(parts ...message.Part) *message.Envelope {
	return &message.Envelope{
		Platform:   "onebot",
		MessageID:  "m1",
		GroupID:    "g1",
		SenderID:   "10001",
		SenderName: "Alice",
		Parts:      parts,
	}
}

func TestRegistryLookupUnsupported(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register("telegram", message.FormatText, Text)

	if _, err := reg.Lookup("telegram", message.FormatText); err != nil {
		t.Fatalf("Lookup text: %v", err)
	}
	_, err := reg.Lookup("telegram", message.FormatMarkdown)
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("got %v, want ErrUnsupported", err)
	}
	if _, err = reg.Render("nowhere", message.FormatText, testEnvelope()); !errors.Is(err, ErrUnsupported) {
		t.Errorf("unknown platform: got %v, want ErrUnsupported", err)
	}
}

func TestRegistryRenderSetsFormat(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register("x", message.FormatMarkdown, RendererFunc(func(*message.Envelope) (*Payload, error) {
		return &Payload{Body: "b"}, nil
	}))
	p, err := reg.Render("x", message.FormatMarkdown, testEnvelope())
	if err != nil {
		t.Fatal(err)
	}
	if p.Format != message.FormatMarkdown {
		t.Errorf("got %v, want %v", p.Format, message.FormatMarkdown)
	}
}

func TestRegistryRenderWrapsRendererError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	reg := NewRegistry()
	reg.Register("x", message.FormatText, RendererFunc(func(*message.Envelope) (*Payload, error) {
		return nil, boom
	}))
	if _, err := reg.Render("x", message.FormatText, testEnvelope()); !errors.Is(err, boom) {
		t.Errorf("got %v, want wrapped boom", err)
	}
}

func TestRegistryFormats(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.RegisterAll("matrix", map[message.Format]Renderer{
		message.FormatHTML:     HTML,
		message.FormatText:     Text,
		message.FormatMarkdown: Markdown,
	})
	got := reg.Formats("matrix")
	want := []message.Format{message.FormatText, message.FormatMarkdown, message.FormatHTML}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if len(reg.Formats("slack")) != 0 {
		t.Error("unregistered platform should have no formats")
	}
}

func TestTextRenderer(t *testing.T) {
	t.Parallel()
	env := testEnvelope(
		&message.Text{Text: "look "},
		&message.Image{URL: "https://img/1.png"},
		&message.Emoji{ID: "14", URL: "https://face/14.gif"},
		&message.Mention{UserID: "2", Name: "Bob"},
		&message.Unknown{Type: "dice"},
	)
	p, err := Text.Render(env)
	if err != nil {
		t.Fatal(err)
	}
	want := "Alice [onebot]: look [image][emoji]@Bob[unsupported: dice]"
	if p.Body != want {
		t.Errorf("got %q, want %q", p.Body, want)
	}
	if len(p.Attachments) != 1 || p.Attachments[0].URL != "https://img/1.png" {
		t.Errorf("attachments: got %+v", p.Attachments)
	}
}

func TestTextRendererForwardIsRecursive(t *testing.T) {
	t.Parallel()
	inner := &message.Envelope{SenderName: "Carol", Parts: []message.Part{&message.Text{Text: "deep"}}}
	middle := &message.Envelope{SenderName: "Bob", Parts: []message.Part{&message.Forward{Messages: []*message.Envelope{inner}}}}
	env := testEnvelope(&message.Forward{Messages: []*message.Envelope{middle}})

	p, err := Text.Render(env)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Bob:", "Carol: deep"} {
		if !strings.Contains(p.Body, want) {
			t.Errorf("body %q missing %q", p.Body, want)
		}
	}
}

func TestMarkdownRenderer(t *testing.T) {
	t.Parallel()
	env := testEnvelope(
		&message.Quote{MessageID: "q", SenderName: "Bob", Parts: []message.Part{&message.Text{Text: "earlier"}}},
		&message.Text{Text: "**kept**", Markdown: true},
		&message.Text{Text: " 2*3"},
		&message.Image{URL: "https://img/1.png"},
	)
	p, err := Markdown.Render(env)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"**Alice** (`10001`) · onebot", "> Bob: earlier", "**kept**", `2\*3`, "![image](https://img/1.png)"} {
		if !strings.Contains(p.Body, want) {
			t.Errorf("body %q missing %q", p.Body, want)
		}
	}
}

func TestHTMLRendererEscapes(t *testing.T) {
	t.Parallel()
	env := testEnvelope(&message.Text{Text: "<script>x</script>"})
	env.SenderName = "<b>evil</b>"
	p, err := HTML.Render(env)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(p.Body, "<script>") || strings.Contains(p.Body, "<b>evil") {
		t.Errorf("unescaped input in %q", p.Body)
	}
	if !strings.Contains(p.Body, "from: onebot") {
		t.Errorf("missing origin label in %q", p.Body)
	}
}

func TestHTMLRendererAvatar(t *testing.T) {
	t.Parallel()
	env := testEnvelope(&message.Text{Text: "hi"})
	env.SenderAvatar = "https://avatar/1.png"
	p, _ := HTML.Render(env)
	if !strings.Contains(p.Body, `<img src="https://avatar/1.png"`) {
		t.Errorf("avatar missing: %q", p.Body)
	}
	env.SenderAvatar = ""
	p, _ = HTML.Render(env)
	if !strings.Contains(p.Body, ">A</span>") {
		t.Errorf("initial badge missing: %q", p.Body)
	}
}

func TestCompactHTMLRendererAvoidsImages(t *testing.T) {
	t.Parallel()
	env := testEnvelope(
		&message.Text{Text: "**bold**", Markdown: true},
		&message.Image{URL: "https://img/1.png"},
		&message.Emoji{Name: "smile", URL: "https://face/1.gif"},
	)
	p, err := CompactHTML.Render(env)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(p.Body, "<img") || strings.Contains(p.Body, "<div") {
		t.Errorf("compact html uses block tags: %q", p.Body)
	}
	for _, want := range []string{"<b>Alice</b>", "<strong>bold</strong>", `<a href="https://img/1.png">[image]</a>`} {
		if !strings.Contains(p.Body, want) {
			t.Errorf("body %q missing %q", p.Body, want)
		}
	}
}

func TestPlainFallback(t *testing.T) {
	t.Parallel()
	env := testEnvelope(&message.Text{Text: "hello"})
	for _, r := range []Renderer{Text, Markdown, HTML, CompactHTML} {
		p, err := r.Render(env)
		if err != nil {
			t.Fatal(err)
		}
		if p.Plain != "Alice: hello" {
			t.Errorf("Plain: got %q, want %q", p.Plain, "Alice: hello")
		}
	}
}
