// Copyright 2024-2026 Aiku AI

package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/platform"
	"github.com/aiku/anysync/pkg/render"
)

// fakeOneBot is a OneBot v11 implementation serving a forward WebSocket.
type fakeOneBot struct {
	Server *httptest.Server
	Token  string

	mu       sync.Mutex
	conn     *websocket.Conn
	requests []gjson.Result
	// Fail lists actions answered with retcode 100.
	Fail map[string]bool
	// Burst is the number of group messages pushed before answering
	// get_forward_msg.
	Burst int
}

func newFakeOneBot(token string) *fakeOneBot {
	f := &fakeOneBot{Token: token, Fail: make(map[string]bool)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeOneBot) Close() { f.Server.Close() }

func (f *fakeOneBot) URL() string {
	return "ws" + strings.TrimPrefix(f.Server.URL, "http")
}

var upgrader = websocket.Upgrader{}

func (f *fakeOneBot) handler(w http.ResponseWriter, r *http.Request) {
	if f.Token != "" && r.Header.Get("Authorization") != "Bearer "+f.Token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = ws
	f.mu.Unlock()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		req := gjson.ParseBytes(data)
		f.mu.Lock()
		f.requests = append(f.requests, req)
		fail := f.Fail[req.Get("action").String()]
		burst := f.Burst
		f.mu.Unlock()

		resp := map[string]any{"status": "ok", "retcode": 0, "echo": req.Get("echo").String()}
		switch {
		case fail:
			resp = map[string]any{"status": "failed", "retcode": 100, "wording": "denied", "echo": req.Get("echo").String()}
		case req.Get("action").String() == "get_login_info":
			resp["data"] = map[string]any{"user_id": 10000, "nickname": "relay"}
		case req.Get("action").String() == "send_group_msg":
			resp["data"] = map[string]any{"message_id": 555}
		case req.Get("action").String() == "get_forward_msg":
			for i := range burst {
				f.push(fmt.Sprintf(`{"post_type":"message","message_type":"group","group_id":123,"user_id":5,"message_id":%d,"message":"burst"}`, 1000+i))
			}
			resp["data"] = map[string]any{"messages": []any{map[string]any{
				"sender":  map[string]any{"user_id": 7, "nickname": "carol"},
				"message": []any{map[string]any{"type": "text", "data": map[string]any{"text": "inner"}}},
			}}}
		default:
			resp["data"] = nil
		}
		f.write(resp)
	}
}

func (f *fakeOneBot) write(v any) {
	data, _ := json.Marshal(v)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.WriteMessage(websocket.TextMessage, data)
	}
}

// push sends an event to the connected client.
func (f *fakeOneBot) push(evt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.WriteMessage(websocket.TextMessage, []byte(evt))
	}
}

func (f *fakeOneBot) lastRequest(action string) (gjson.Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].Get("action").String() == action {
			return f.requests[i], true
		}
	}
	return gjson.Result{}, false
}

type captureSink struct {
	mu     sync.Mutex
	events []platform.Event
}

func (c *captureSink) Dispatch(_ context.Context, evt platform.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureSink) Events() []platform.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]platform.Event(nil), c.events...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startHandler connects a handler to f and waits until it is logged in.
func startHandler(t *testing.T, f *fakeOneBot) (*Handler, *captureSink) {
	t.Helper()
	h, err := New(Config{WSURL: f.URL(), AccessToken: f.Token, IgnoreUserIDs: []string{"999"}}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sink := &captureSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Start(ctx, sink)
	}()
	t.Cleanup(func() {
		h.Stop()
		cancel()
		<-done
	})
	waitFor(t, "login", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.conn != nil && h.selfID != ""
	})
	return h, sink
}

func TestCapabilities(t *testing.T) {
	t.Parallel()
	h, err := New(Config{WSURL: "ws://localhost:1"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := platform.Caps{Send: true, Recall: true, Edit: false, Listen: true}
	if got := platform.Capabilities(h); got != want {
		t.Errorf("capabilities: got %+v, want %+v", got, want)
	}
}

func TestSendNotConnected(t *testing.T) {
	t.Parallel()
	h, _ := New(Config{WSURL: "ws://localhost:1"}, zerolog.Nop())
	if _, err := h.Send(context.Background(), "123", &render.Payload{Body: "x"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("got %v, want ErrNotConnected", err)
	}
}

func TestSendAndRecall(t *testing.T) {
	t.Parallel()
	f := newFakeOneBot("secret")
	defer f.Close()
	h, _ := startHandler(t, f)
	ctx := context.Background()

	id, err := h.Send(ctx, "123", &render.Payload{
		Body:        "Alice [telegram]: hi",
		ReplyTo:     "77",
		Attachments: []render.Attachment{{Kind: "image", URL: "https://img/a.png"}, {Kind: "file", URL: "https://f"}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "555" {
		t.Errorf("message id: got %q, want %q", id, "555")
	}
	req, ok := f.lastRequest("send_group_msg")
	if !ok {
		t.Fatal("send_group_msg not received")
	}
	if got := req.Get("params.group_id").Int(); got != 123 {
		t.Errorf("group id: got %d, want 123", got)
	}
	var types []string
	for _, seg := range req.Get("params.message").Array() {
		types = append(types, seg.Get("type").String())
	}
	if strings.Join(types, ",") != "reply,text,image" {
		t.Errorf("segments: got %v", types)
	}

	if err = h.Recall(ctx, "123", "555"); err != nil {
		t.Fatalf("Recall: %v", err)
	}
	req, _ = f.lastRequest("delete_msg")
	if got := req.Get("params.message_id").Int(); got != 555 {
		t.Errorf("deleted id: got %d, want 555", got)
	}
}

func TestActionFailure(t *testing.T) {
	t.Parallel()
	f := newFakeOneBot("")
	defer f.Close()
	f.Fail["send_group_msg"] = true
	h, _ := startHandler(t, f)

	_, err := h.Send(context.Background(), "123", &render.Payload{Body: "x"})
	if !errors.Is(err, ErrActionFailed) {
		t.Errorf("got %v, want ErrActionFailed", err)
	}
}

func TestInboundEvents(t *testing.T) {
	t.Parallel()
	f := newFakeOneBot("")
	defer f.Close()
	_, sink := startHandler(t, f)

	// Own and ignored messages are skipped; the rest arrive in order.
	f.push(`{"post_type":"message","message_type":"group","group_id":123,"user_id":10000,"message_id":1,"message":[{"type":"text","data":{"text":"echo"}}]}`)
	f.push(`{"post_type":"message","message_type":"group","group_id":123,"user_id":999,"message_id":2,"message":"ignored"}`)
	f.push(`{"post_type":"message","message_type":"private","user_id":5,"message_id":3,"message":"dm"}`)
	f.push(`{"post_type":"meta_event","meta_event_type":"heartbeat"}`)
	f.push(`{"post_type":"message","message_type":"group","group_id":123,"user_id":5,"message_id":4,"time":1700000000,` +
		`"sender":{"nickname":"alice","card":"Alice"},"message":[{"type":"text","data":{"text":"hi "}},{"type":"forward","data":{"id":"f1"}}]}`)
	f.push(`{"post_type":"notice","notice_type":"group_recall","group_id":123,"user_id":5,"operator_id":6,"message_id":4}`)

	waitFor(t, "events", func() bool { return len(sink.Events()) >= 2 })
	events := sink.Events()
	if len(events) != 2 {
		t.Fatalf("events: got %d, want 2", len(events))
	}
	msg, ok := events[0].(platform.MessageEvent)
	if !ok {
		t.Fatalf("first event: got %T", events[0])
	}
	env := msg.Envelope
	if env.MessageID != "4" || env.GroupID != "123" || env.SenderName != "Alice" {
		t.Errorf("envelope: got %+v", env)
	}
	if len(env.Parts) != 2 {
		t.Fatalf("parts: got %d, want 2", len(env.Parts))
	}
	fwd, ok := env.Parts[1].(*message.Forward)
	if !ok || len(fwd.Messages) != 1 || message.PlainText(fwd.Messages[0].Parts) != "inner" {
		t.Errorf("forward: got %#v", env.Parts[1])
	}
	recall, ok := events[1].(platform.RecallEvent)
	if !ok {
		t.Fatalf("second event: got %T", events[1])
	}
	if recall.Recall.SelfInitiated() {
		t.Error("recall by operator 6 of user 5 reported as self-initiated")
	}
}

func TestOutboundSegments(t *testing.T) {
	t.Parallel()
	segs := outboundSegments(&render.Payload{Body: ""})
	if len(segs) != 0 {
		t.Errorf("empty payload: got %v", segs)
	}
}

func TestForwardFetchDuringEventBurst(t *testing.T) {
	t.Parallel()
	f := newFakeOneBot("")
	defer f.Close()
	f.Burst = 300
	h, sink := startHandler(t, f)

	f.push(`{"post_type":"message","message_type":"group","group_id":123,"user_id":5,"message_id":1,` +
		`"message":[{"type":"forward","data":{"id":"f1"}}]}`)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && len(sink.Events()) < 301 {
		time.Sleep(10 * time.Millisecond)
	}
	events := sink.Events()
	if len(events) != 301 {
		t.Fatalf("got %d dispatched events, want 301", len(events))
	}
	first, ok := events[0].(platform.MessageEvent)
	if !ok || first.Envelope.MessageID != "1" {
		t.Fatalf("first event: got %#v", events[0])
	}
	if fwd, ok := first.Envelope.Parts[0].(*message.Forward); !ok || len(fwd.Messages) != 1 {
		t.Errorf("forward: got %#v", first.Envelope.Parts[0])
	}
	last := events[300].(platform.MessageEvent)
	if last.Envelope.MessageID != "1299" {
		t.Errorf("last event: got %q, want %q", last.Envelope.MessageID, "1299")
	}

	// Actions still get answered after the burst.
	if _, err := h.Send(context.Background(), "123", &render.Payload{Body: "after"}); err != nil {
		t.Errorf("Send after burst: %v", err)
	}
}
