// Copyright 2024-2026 Aiku AI

// Package message defines the canonical, platform-agnostic representation of
// a chat message that flows through the sync engine.
//
// Platform handlers normalize their native events into an [Envelope]; the
// renderers in package render turn an Envelope back into a platform payload.
package message

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformed is returned when an inbound event cannot be normalized into a
// usable Envelope. Such events are dropped before any target is attempted.
var ErrMalformed = errors.New("malformed event")

// Envelope is one normalized inbound message.
type Envelope struct {
	Platform     string
	MessageID    string
	GroupID      string
	SenderID     string
	SenderName   string
	SenderAvatar string
	Parts        []Part
	Timestamp    time.Time
}

// Validate reports whether the envelope carries the identifiers the engine
// needs to forward it and record correspondences.
func (e *Envelope) Validate() error {
	switch {
	case e == nil:
		return fmt.Errorf("%w: nil envelope", ErrMalformed)
	case e.Platform == "":
		return fmt.Errorf("%w: missing platform", ErrMalformed)
	case e.MessageID == "":
		return fmt.Errorf("%w: missing message id", ErrMalformed)
	case e.GroupID == "":
		return fmt.Errorf("%w: missing group id", ErrMalformed)
	}
	return nil
}

// DisplayName returns the sender name, falling back to the sender ID.
func (e *Envelope) DisplayName() string {
	if e.SenderName != "" {
		return e.SenderName
	}
	if e.SenderID != "" {
		return e.SenderID
	}
	return "unknown"
}

// Quote returns the first quoted message part, if any.
func (e *Envelope) Quote() *Quote {
	for _, part := range e.Parts {
		if q, ok := part.(*Quote); ok {
			return q
		}
	}
	return nil
}

// Recall describes a message deletion reported by a platform. ActorID is the
// account that performed the deletion; an empty ActorID means the platform
// does not report one.
type Recall struct {
	Platform  string
	GroupID   string
	MessageID string
	SenderID  string
	ActorID   string
}

// SelfInitiated reports whether the original sender removed their own message.
func (r Recall) SelfInitiated() bool {
	return r.ActorID == "" || r.ActorID == r.SenderID
}

// Validate reports whether the recall identifies a message.
func (r Recall) Validate() error {
	if r.Platform == "" || r.MessageID == "" {
		return fmt.Errorf("%w: recall without platform or message id", ErrMalformed)
	}
	return nil
}
