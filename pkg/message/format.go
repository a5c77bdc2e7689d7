// Copyright 2024-2026 Aiku AI

package message

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownFormat is returned by ParseFormat for unrecognized format names.
var ErrUnknownFormat = errors.New("unknown format")

// Format is the markup a rendered payload is written in.
type Format int

const (
	FormatText Format = iota + 1
	FormatMarkdown
	FormatHTML
)

// Formats lists every recognized format.
var Formats = []Format{FormatText, FormatMarkdown, FormatHTML}

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatMarkdown:
		return "markdown"
	case FormatHTML:
		return "html"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat converts a configured format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "text", "plain", "":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}
