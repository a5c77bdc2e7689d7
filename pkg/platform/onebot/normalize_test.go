// Copyright 2024-2026 Aiku AI

package onebot

import (
	"context"
	"errors"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/aiku/anysync/pkg/message"
)

func TestParseSegments(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		seg  string
		want message.Part
	}{
		{"text", `{"type":"text","data":{"text":"hi"}}`, &message.Text{Text: "hi"}},
		{"image url", `{"type":"image","data":{"file":"a.png","url":"https://img/a.png"}}`, &message.Image{URL: "https://img/a.png"}},
		{"image file only", `{"type":"image","data":{"file":"https://img/b.png"}}`, &message.Image{URL: "https://img/b.png"}},
		{"at", `{"type":"at","data":{"qq":"42","name":"bob"}}`, &message.Mention{UserID: "42", Name: "bob"}},
		{"at all", `{"type":"at","data":{"qq":"all"}}`, &message.Mention{UserID: "all", Name: "all"}},
		{"face", `{"type":"face","data":{"id":"14"}}`, &message.Emoji{ID: "14", URL: "https://koishi.js.org/QFace/assets/qq_emoji/thumbs/gif_14.gif"}},
		{"record", `{"type":"record","data":{"url":"https://a/v.amr"}}`, &message.Audio{URL: "https://a/v.amr"}},
		{"video", `{"type":"video","data":{"url":"https://a/v.mp4"}}`, &message.Video{URL: "https://a/v.mp4"}},
		{"file", `{"type":"file","data":{"url":"https://a/f","name":"f.zip"}}`, &message.File{URL: "https://a/f", Name: "f.zip"}},
		{"reply", `{"type":"reply","data":{"id":"99"}}`, &message.Quote{MessageID: "99"}},
		{"unknown", `{"type":"dice","data":{}}`, &message.Unknown{Type: "dice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			parts := parseSegments(context.Background(), gjson.Parse("["+tt.seg+"]"), nil)
			if len(parts) != 1 {
				t.Fatalf("parts: got %d, want 1", len(parts))
			}
			if got, want := message.PartType(parts[0]), message.PartType(tt.want); got != want {
				t.Fatalf("type: got %q, want %q", got, want)
			}
			switch want := tt.want.(type) {
			case *message.Text:
				if got := parts[0].(*message.Text); *got != *want {
					t.Errorf("got %+v, want %+v", got, want)
				}
			case *message.Image:
				if got := parts[0].(*message.Image); *got != *want {
					t.Errorf("got %+v, want %+v", got, want)
				}
			case *message.Mention:
				if got := parts[0].(*message.Mention); *got != *want {
					t.Errorf("got %+v, want %+v", got, want)
				}
			case *message.Emoji:
				if got := parts[0].(*message.Emoji); *got != *want {
					t.Errorf("got %+v, want %+v", got, want)
				}
			case *message.File:
				if got := parts[0].(*message.File); *got != *want {
					t.Errorf("got %+v, want %+v", got, want)
				}
			case *message.Quote:
				if got := parts[0].(*message.Quote); got.MessageID != want.MessageID {
					t.Errorf("got %+v, want %+v", got, want)
				}
			case *message.Unknown:
				if got := parts[0].(*message.Unknown); *got != *want {
					t.Errorf("got %+v, want %+v", got, want)
				}
			}
		})
	}
}

func TestParseSegmentsString(t *testing.T) {
	t.Parallel()
	parts := parseSegments(context.Background(), gjson.Parse(`"plain text"`), nil)
	if len(parts) != 1 || message.PlainText(parts) != "plain text" {
		t.Errorf("string message: got %#v", parts)
	}
}

func TestParseForwardInlineContent(t *testing.T) {
	t.Parallel()
	seg := `[{"type":"forward","data":{"id":"x","content":[` +
		`{"type":"node","data":{"user_id":"3","nickname":"dan","content":[{"type":"text","data":{"text":"one"}}]}}]}}]`
	called := false
	fetch := func(context.Context, string) (gjson.Result, error) {
		called = true
		return gjson.Result{}, nil
	}
	parts := parseSegments(context.Background(), gjson.Parse(seg), fetch)
	if called {
		t.Error("inline content should not be fetched")
	}
	fwd, ok := parts[0].(*message.Forward)
	if !ok || len(fwd.Messages) != 1 {
		t.Fatalf("forward: got %#v", parts[0])
	}
	if fwd.Messages[0].SenderName != "dan" || message.PlainText(fwd.Messages[0].Parts) != "one" {
		t.Errorf("node: got %+v", fwd.Messages[0])
	}
}

func TestParseForwardFetchFailure(t *testing.T) {
	t.Parallel()
	fetch := func(context.Context, string) (gjson.Result, error) {
		return gjson.Result{}, errors.New("boom")
	}
	parts := parseSegments(context.Background(), gjson.Parse(`[{"type":"forward","data":{"id":"x"}}]`), fetch)
	if u, ok := parts[0].(*message.Unknown); !ok || u.Type != "forward" {
		t.Errorf("got %#v, want unknown forward", parts[0])
	}
}

func TestParseRecall(t *testing.T) {
	t.Parallel()
	r := parseRecall(gjson.Parse(`{"group_id":1,"user_id":5,"operator_id":5,"message_id":9}`))
	if !r.SelfInitiated() || r.MessageID != "9" || r.GroupID != "1" {
		t.Errorf("recall: got %+v", r)
	}
}

func FuzzParseSegments(f *testing.F) {
	f.Add(`[{"type":"text","data":{"text":"hi"}}]`)
	f.Add(`[{"type":"forward","data":{"content":[{"data":{"content":"x"}}]}}]`)
	f.Add(`"plain"`)
	f.Add(`{}`)
	f.Fuzz(func(t *testing.T, raw string) {
		for _, p := range parseSegments(context.Background(), gjson.Parse(raw), nil) {
			if p == nil {
				t.Fatal("nil part")
			}
		}
	})
}
