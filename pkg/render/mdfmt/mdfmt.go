// Copyright 2024-2026 Aiku AI

// Package mdfmt converts chat markdown (Mattermost, Discord and Slack
// flavoured) to HTML.
package mdfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"
)

// ParsedMessage holds the result of converting markdown to HTML. Format is
// empty when the input carries no markup worth converting.
type ParsedMessage struct {
	Body          string
	Format        event.Format
	FormattedBody string
}

var (
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe     = regexp.MustCompile(`(^|[^*\w])_(.+?)_([^*\w]|$)`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	codeRe       = regexp.MustCompile("`([^`]+)`")
	codeBlockRe  = regexp.MustCompile("(?s)```(\\w+)?\\n?(.*?)```")
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	headingRe    = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	ulRe         = regexp.MustCompile(`(?m)^[-*]\s+(.+)$`)
	olRe         = regexp.MustCompile(`(?m)^\d+\.\s+(.+)$`)
	blockquoteRe = regexp.MustCompile(`(?m)^>\s+(.+)$`)
)

type codeBlock struct {
	lang    string
	content string
}

// HasMarkup reports whether text contains any markdown construct Parse converts.
func HasMarkup(text string) bool {
	return boldRe.MatchString(text) ||
		italicRe.MatchString(text) ||
		strikeRe.MatchString(text) ||
		codeRe.MatchString(text) ||
		codeBlockRe.MatchString(text) ||
		linkRe.MatchString(text) ||
		headingRe.MatchString(text) ||
		blockquoteRe.MatchString(text) ||
		ulRe.MatchString(text) ||
		olRe.MatchString(text)
}

// ToHTML converts markdown to an HTML fragment. Text without markup is only
// escaped.
func ToHTML(text string) string {
	if !HasMarkup(text) {
		return strings.ReplaceAll(html.EscapeString(text), "\n", "<br/>")
	}
	return Parse(text).FormattedBody
}

// Parse converts a markdown message to HTML event content.
func Parse(text string) *ParsedMessage {
	if text == "" {
		return &ParsedMessage{}
	}
	if !HasMarkup(text) {
		return &ParsedMessage{Body: text}
	}

	// Code blocks are lifted out so their content escapes inline processing.
	var codeBlocks []codeBlock
	processed := codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		idx := len(codeBlocks)
		codeBlocks = append(codeBlocks, codeBlock{lang: parts[1], content: parts[2]})
		return "\x00CODEBLOCK" + strconv.Itoa(idx) + "\x00"
	})

	lines := strings.Split(processed, "\n")
	var result []string
	var listType string
	var listItems []string

	flushList := func() {
		if len(listItems) == 0 {
			return
		}
		result = append(result, "<"+listType+">"+strings.Join(listItems, "")+"</"+listType+">")
		listItems = nil
		listType = ""
	}
	addItem := func(kind, item string) {
		if listType != kind {
			flushList()
			listType = kind
		}
		listItems = append(listItems, "<li>"+html.EscapeString(item)+"</li>")
	}

	for _, line := range lines {
		if m := blockquoteRe.FindStringSubmatch(line); m != nil {
			flushList()
			result = append(result, "<blockquote>"+html.EscapeString(m[1])+"</blockquote>")
			continue
		}
		if m := headingRe.FindStringSubmatch(line); m != nil {
			flushList()
			lvl := strconv.Itoa(len(m[1]))
			result = append(result, "<h"+lvl+">"+html.EscapeString(m[2])+"</h"+lvl+">")
			continue
		}
		if m := ulRe.FindStringSubmatch(line); m != nil {
			addItem("ul", m[1])
			continue
		}
		if m := olRe.FindStringSubmatch(line); m != nil {
			addItem("ol", m[1])
			continue
		}
		flushList()
		result = append(result, html.EscapeString(line))
	}
	flushList()

	formatted := strings.Join(result, "\n")

	formatted = codeRe.ReplaceAllString(formatted, "<code>$1</code>")
	formatted = boldRe.ReplaceAllString(formatted, "<strong>$1</strong>")
	formatted = italicRe.ReplaceAllString(formatted, "$1<em>$2</em>$3")
	formatted = strikeRe.ReplaceAllString(formatted, "<del>$1</del>")

	formatted = linkRe.ReplaceAllStringFunc(formatted, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		label, href := parts[1], parts[2]
		lower := strings.ToLower(strings.TrimSpace(href))
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:") {
			return `<a href="` + href + `">` + label + `</a>`
		}
		// javascript:, data: and friends stay as plain text.
		return label
	})

	for i, cb := range codeBlocks {
		placeholder := "\x00CODEBLOCK" + strconv.Itoa(i) + "\x00"
		content := html.EscapeString(cb.content)
		replacement := `<pre><code>` + content + `</code></pre>`
		if cb.lang != "" {
			replacement = `<pre><code class="language-` + html.EscapeString(cb.lang) + `">` + content + `</code></pre>`
		}
		formatted = strings.Replace(formatted, placeholder, replacement, 1)
	}

	formatted = strings.ReplaceAll(formatted, "\n\n", "</p><p>")
	formatted = strings.ReplaceAll(formatted, "\n", "<br/>")
	if strings.Contains(formatted, "</p><p>") {
		formatted = "<p>" + formatted + "</p>"
	}

	return &ParsedMessage{
		Body:          text,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	}
}
