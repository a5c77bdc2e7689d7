// Copyright 2024-2026 Aiku AI

package platform

import (
	"context"
	"slices"
	"testing"

	"github.com/aiku/anysync/pkg/render"
)

type sendOnly struct{ name string }

func (s sendOnly) Name() string { return s.name }
func (sendOnly) Send(context.Context, string, *render.Payload) (string, error) {
	return "1", nil
}

type full struct{ sendOnly }

func (full) Recall(context.Context, string, string) error                 { return nil }
func (full) Edit(context.Context, string, string, *render.Payload) error { return nil }
func (full) Start(context.Context, Sink) error                            { return nil }
func (full) Stop()                                                        {}

func TestCapabilities(t *testing.T) {
	t.Parallel()
	if got, want := Capabilities(sendOnly{"a"}), (Caps{Send: true}); got != want {
		t.Errorf("send only: got %+v, want %+v", got, want)
	}
	if got, want := Capabilities(full{sendOnly{"b"}}), (Caps{Send: true, Recall: true, Edit: true, Listen: true}); got != want {
		t.Errorf("full: got %+v, want %+v", got, want)
	}
	if got := Capabilities(nil); got != (Caps{}) {
		t.Errorf("nil: got %+v", got)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(sendOnly{"slack"}, full{sendOnly{"discord"}})
	if _, ok := reg.Get("slack"); !ok {
		t.Error("slack not registered")
	}
	if _, ok := reg.Get("qq"); ok {
		t.Error("unexpected handler for qq")
	}
	if got, want := reg.Names(), []string{"discord", "slack"}; !slices.Equal(got, want) {
		t.Errorf("Names: got %v, want %v", got, want)
	}
	if got := reg.Listeners(); len(got) != 1 {
		t.Errorf("Listeners: got %d, want 1", len(got))
	}
}
