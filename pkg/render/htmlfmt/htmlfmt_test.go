// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package htmlfmt

import (
	"strings"
	"testing"

	"maunium.net/go/mautrix/event"
)

func TestParseNil(t *testing.T) {
	t.Parallel()
	if got := Parse(nil); got != "" {
		t.Errorf("nil content: got %q, want empty", got)
	}
}

func TestParsePlainBody(t *testing.T) {
	t.Parallel()
	content := &event.MessageEventContent{Body: "just text"}
	if got := Parse(content); got != "just text" {
		t.Errorf("plain body: got %q, want %q", got, "just text")
	}
}

func TestParseHTMLWithoutFormattedBody(t *testing.T) {
	t.Parallel()
	content := &event.MessageEventContent{Body: "fallback", Format: event.FormatHTML}
	if got := Parse(content); got != "fallback" {
		t.Errorf("empty formatted body: got %q, want %q", got, "fallback")
	}
}

func TestToMarkdown(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "<strong>bold</strong>", "**bold**"},
		{"b tag", "<b>bold</b>", "**bold**"},
		{"italic", "<em>it</em>", "_it_"},
		{"strike", "<del>gone</del>", "~~gone~~"},
		{"inline code", "<code>fmt.Println</code>", "`fmt.Println`"},
		{"link", `<a href="https://example.com">example</a>`, "[example](https://example.com)"},
		{"heading", "<h2>Title</h2>", "## Title"},
		{"entities", "a &amp; b &lt;c&gt;", "a & b <c>"},
		{"ordered list", "<ol><li>one</li><li>two</li></ol>", "1. one\n2. two"},
		{"unordered list", "<ul><li>one</li><li>two</li></ul>", "- one\n- two"},
		{"line break", "line1<br/>line2", "line1\nline2"},
		{"strips unknown tags", "<div><span>clean text</span></div>", "clean text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ToMarkdown(tt.in); got != tt.want {
				t.Errorf("ToMarkdown(%q): got %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToMarkdownOrderedListPastNine(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	b.WriteString("<ol>")
	for range 11 {
		b.WriteString("<li>x</li>")
	}
	b.WriteString("</ol>")
	got := ToMarkdown(b.String())
	if !strings.Contains(got, "10. x") || !strings.Contains(got, "11. x") {
		t.Errorf("list numbering past nine: got %q", got)
	}
}

func TestToMarkdownDropsReplyFallback(t *testing.T) {
	t.Parallel()
	in := "<mx-reply><blockquote>In reply to <a href=\"https://matrix.to/#/@a:b\">a</a> earlier</blockquote></mx-reply>actual reply"
	if got := ToMarkdown(in); got != "actual reply" {
		t.Errorf("reply fallback: got %q, want %q", got, "actual reply")
	}
}

func TestToMarkdownCodeBlock(t *testing.T) {
	t.Parallel()
	got := ToMarkdown(`<pre><code class="language-go">func main() {}</code></pre>`)
	if !strings.Contains(got, "```") || !strings.Contains(got, "func main() {}") {
		t.Errorf("code block: got %q", got)
	}
}

func TestToMarkdownBlockquote(t *testing.T) {
	t.Parallel()
	got := ToMarkdown("<blockquote>quoted text</blockquote>")
	if !strings.Contains(got, "> quoted text") {
		t.Errorf("blockquote: got %q", got)
	}
}

func TestToText(t *testing.T) {
	t.Parallel()
	got := ToText("<p><strong>hi</strong> there</p><p>second &amp; last</p>")
	if got != "hi there\n\nsecond & last" {
		t.Errorf("ToText: got %q", got)
	}
}
