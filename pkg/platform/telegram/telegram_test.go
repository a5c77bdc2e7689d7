// Copyright 2024-2026 Aiku AI

package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/rs/zerolog"

	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/platform"
	"github.com/aiku/anysync/pkg/render"
)

var testToken = "123456:" + strings.Repeat("A", 35)

type botCall struct {
	Method string
	Params map[string]any
}

// fakeBotAPI serves the Bot API methods the handler calls.
type fakeBotAPI struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []botCall
}

func newFakeBotAPI() *fakeBotAPI {
	f := &fakeBotAPI{}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeBotAPI) Close() { f.Server.Close() }

func (f *fakeBotAPI) Calls() []botCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]botCall(nil), f.calls...)
}

func (f *fakeBotAPI) handler(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var params map[string]any
	_ = json.Unmarshal(raw, &params)
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	f.mu.Lock()
	f.calls = append(f.calls, botCall{Method: method, Params: params})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "sendMessage", "editMessageText":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":42,"date":0,"chat":{"id":-100,"type":"supergroup"}}}`))
	case "deleteMessage":
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	case "getFile":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"file_id":"f","file_unique_id":"u","file_path":"photos/p.jpg"}}`))
	default:
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func newTestHandler(t *testing.T, f *fakeBotAPI) *Handler {
	t.Helper()
	h, err := New(Config{Token: testToken, APIServer: f.Server.URL, IgnoreUserIDs: []int64{666}}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.selfID = 1
	return h
}

func TestCapabilities(t *testing.T) {
	t.Parallel()
	f := newFakeBotAPI()
	defer f.Close()
	want := platform.Caps{Send: true, Recall: true, Edit: true, Listen: true}
	if got := platform.Capabilities(newTestHandler(t, f)); got != want {
		t.Errorf("capabilities: got %+v, want %+v", got, want)
	}
}

func TestSendHTMLWithReply(t *testing.T) {
	t.Parallel()
	f := newFakeBotAPI()
	defer f.Close()
	h := newTestHandler(t, f)

	id, err := h.Send(context.Background(), "-100", &render.Payload{
		Format:  message.FormatHTML,
		Body:    "<b>Alice</b> hi",
		ReplyTo: "7",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "42" {
		t.Errorf("message id: got %q, want %q", id, "42")
	}
	call := f.Calls()[0]
	if call.Method != "sendMessage" {
		t.Fatalf("method: got %q", call.Method)
	}
	if call.Params["parse_mode"] != telego.ModeHTML || call.Params["text"] != "<b>Alice</b> hi" {
		t.Errorf("params: got %v", call.Params)
	}
	reply, _ := call.Params["reply_parameters"].(map[string]any)
	if reply["message_id"] != float64(7) {
		t.Errorf("reply parameters: got %v", reply)
	}
}

func TestSendInvalidChatID(t *testing.T) {
	t.Parallel()
	f := newFakeBotAPI()
	defer f.Close()
	h := newTestHandler(t, f)

	if _, err := h.Send(context.Background(), "not-a-chat", &render.Payload{Body: "x"}); err == nil {
		t.Fatal("expected error for invalid chat id")
	}
	if n := len(f.Calls()); n != 0 {
		t.Errorf("calls: got %d, want 0", n)
	}
}

func TestRecallAndEdit(t *testing.T) {
	t.Parallel()
	f := newFakeBotAPI()
	defer f.Close()
	h := newTestHandler(t, f)
	ctx := context.Background()

	if err := h.Recall(ctx, "-100", "42"); err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if err := h.Edit(ctx, "-100", "42", &render.Payload{Format: message.FormatText, Body: "new"}); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	calls := f.Calls()
	if len(calls) != 2 || calls[0].Method != "deleteMessage" || calls[1].Method != "editMessageText" {
		t.Fatalf("calls: got %+v", calls)
	}
	if calls[1].Params["text"] != "new" {
		t.Errorf("edit text: got %v", calls[1].Params["text"])
	}
	if _, ok := calls[1].Params["parse_mode"]; ok {
		t.Errorf("text edit should not set parse_mode: %v", calls[1].Params)
	}
	if err := h.Recall(ctx, "-100", "abc"); err == nil {
		t.Error("expected error for invalid message id")
	}
}

func TestRenderers(t *testing.T) {
	t.Parallel()
	r := Renderers()
	if _, ok := r[message.FormatMarkdown]; ok {
		t.Error("markdown should not be offered")
	}
	if _, ok := r[message.FormatHTML]; !ok {
		t.Error("html renderer missing")
	}
}
