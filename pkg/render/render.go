// Copyright 2024-2026 Aiku AI

// Package render turns a normalized [message.Envelope] into a payload a
// platform handler can send. Renderers are registered per (platform, format)
// pair; a missing pair reports [ErrUnsupported].
package render

import (
	"errors"
	"fmt"
	"slices"

	"github.com/aiku/anysync/pkg/message"
)

// ErrUnsupported is returned when no renderer exists for a platform and format.
var ErrUnsupported = errors.New("unsupported format")

// Attachment is a media item carried alongside the rendered body, for handlers
// that can upload media natively.
type Attachment struct {
	Kind string // image, audio, video or file
	URL  string
	Name string
}

// Payload is a send-ready message body.
type Payload struct {
	Format message.Format
	// Body is written in Format.
	Body string
	// Plain is a plain-text rendition used for notifications and fallbacks.
	Plain       string
	Attachments []Attachment
	// ReplyTo is the target-side message ID this payload replies to. It is
	// filled by the sync engine from the correspondence table.
	ReplyTo string
}

// Renderer produces a payload from an envelope.
type Renderer interface {
	Render(env *message.Envelope) (*Payload, error)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(env *message.Envelope) (*Payload, error)

func (f RendererFunc) Render(env *message.Envelope) (*Payload, error) {
	return f(env)
}

type key struct {
	platform string
	format   message.Format
}

// Registry maps (platform, format) pairs to renderers. It is populated at
// startup and read-only afterwards.
type Registry struct {
	renderers map[key]Renderer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{renderers: make(map[key]Renderer)}
}

// Register adds or replaces the renderer for a platform and format.
func (r *Registry) Register(platform string, format message.Format, renderer Renderer) {
	r.renderers[key{platform, format}] = renderer
}

// RegisterAll registers every renderer in set for platform.
func (r *Registry) RegisterAll(platform string, set map[message.Format]Renderer) {
	for format, renderer := range set {
		r.Register(platform, format, renderer)
	}
}

// Lookup returns the renderer for a platform and format.
func (r *Registry) Lookup(platform string, format message.Format) (Renderer, error) {
	renderer, ok := r.renderers[key{platform, format}]
	if !ok {
		return nil, fmt.Errorf("%w: %s for %s", ErrUnsupported, format, platform)
	}
	return renderer, nil
}

// Render renders env for a platform and format.
func (r *Registry) Render(platform string, format message.Format, env *message.Envelope) (*Payload, error) {
	renderer, err := r.Lookup(platform, format)
	if err != nil {
		return nil, err
	}
	payload, err := renderer.Render(env)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s for %s: %w", format, platform, err)
	}
	payload.Format = format
	return payload, nil
}

// Formats returns the formats registered for platform, in enum order.
func (r *Registry) Formats(platform string) []message.Format {
	var formats []message.Format
	for k := range r.renderers {
		if k.platform == platform {
			formats = append(formats, k.format)
		}
	}
	slices.Sort(formats)
	return formats
}
