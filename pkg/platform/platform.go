// Copyright 2024-2026 Aiku AI

// Package platform defines the contract between the sync engine and the
// per-platform handlers.
//
// Every handler can send. Recall and edit are optional capabilities expressed
// as separate interfaces; the engine discovers them by type assertion.
package platform

import (
	"context"
	"slices"

	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/render"
)

// Handler executes native sends on one platform.
type Handler interface {
	// Name is the platform name used in rules and correspondence records.
	Name() string
	// Send posts payload to groupID and returns the native message ID.
	Send(ctx context.Context, groupID string, payload *render.Payload) (string, error)
}

// Recaller is implemented by handlers that can delete a sent message.
type Recaller interface {
	Recall(ctx context.Context, groupID, messageID string) error
}

// Editor is implemented by handlers that can edit a sent message in place.
type Editor interface {
	Edit(ctx context.Context, groupID, messageID string, payload *render.Payload) error
}

// Listener is implemented by handlers that receive inbound events.
type Listener interface {
	// Start connects and delivers events to sink until Stop is called or ctx
	// is canceled. It blocks for the lifetime of the connection.
	Start(ctx context.Context, sink Sink) error
	Stop()
}

// Sink receives normalized inbound events.
type Sink interface {
	Dispatch(ctx context.Context, evt Event)
}

// Event is an inbound event: one of MessageEvent, RecallEvent or EditEvent.
type Event interface {
	isEvent()
}

// MessageEvent is a new message.
type MessageEvent struct {
	Envelope *message.Envelope
}

// RecallEvent is a deleted or recalled message.
type RecallEvent struct {
	Recall message.Recall
}

// EditEvent carries the new content of an edited message. The envelope's
// MessageID is the ID of the original message.
type EditEvent struct {
	Envelope *message.Envelope
}

func (MessageEvent) isEvent() {}
func (RecallEvent) isEvent()  {}
func (EditEvent) isEvent()    {}

// Caps reports what a handler supports.
type Caps struct {
	Send   bool `json:"send"`
	Recall bool `json:"recall"`
	Edit   bool `json:"edit"`
	Listen bool `json:"listen"`
}

// Capabilities inspects h.
func Capabilities(h Handler) Caps {
	if h == nil {
		return Caps{}
	}
	_, recall := h.(Recaller)
	_, edit := h.(Editor)
	_, listen := h.(Listener)
	return Caps{Send: true, Recall: recall, Edit: edit, Listen: listen}
}

// Registry maps platform names to handlers.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns a registry holding handlers.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds h under its name, replacing any previous handler.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Name()] = h
}

// Get returns the handler for a platform.
func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered platform names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Listeners returns the registered handlers that receive inbound events.
func (r *Registry) Listeners() []Listener {
	var out []Listener
	for _, name := range r.Names() {
		if l, ok := r.handlers[name].(Listener); ok {
			out = append(out, l)
		}
	}
	return out
}
