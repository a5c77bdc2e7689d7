// Copyright 2024-2026 Aiku AI

package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

var (
	// ErrNotConnected is returned by actions issued while no connection is up.
	ErrNotConnected = errors.New("onebot not connected")
	// ErrActionFailed is returned when the implementation rejects an action.
	ErrActionFailed = errors.New("onebot action failed")
)

type request struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo"`
}

// conn is one forward WebSocket connection. Action responses are matched to
// requests by echo; everything else is an event and is queued for next. The
// queue is unbounded so the read loop never stops reading responses while
// the event consumer is itself waiting on an action.
type conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan gjson.Result

	queueMu sync.Mutex
	queue   [][]byte
	notify  chan struct{}

	done chan struct{}
	err  error
}

func dial(ctx context.Context, url, token string) (*conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	c := &conn{
		ws:      ws,
		pending: make(map[string]chan gjson.Result),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *conn) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.err = err
			return
		}
		if !gjson.ValidBytes(data) {
			continue
		}
		// Responses carry an echo and no post_type.
		if echo := gjson.GetBytes(data, "echo"); echo.Exists() && !gjson.GetBytes(data, "post_type").Exists() {
			c.resolve(echo.String(), gjson.ParseBytes(data))
			continue
		}
		c.push(data)
	}
}

func (c *conn) push(data []byte) {
	c.queueMu.Lock()
	c.queue = append(c.queue, data)
	c.queueMu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *conn) pop() ([]byte, bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	data := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return data, true
}

// next returns the next queued event. It reports false once the connection
// is closed and every queued event has been returned.
func (c *conn) next() ([]byte, bool) {
	for {
		if data, ok := c.pop(); ok {
			return data, true
		}
		select {
		case <-c.notify:
		case <-c.done:
			return c.pop()
		}
	}
}

func (c *conn) resolve(echo string, resp gjson.Result) {
	c.pendingMu.Lock()
	ch, ok := c.pending[echo]
	delete(c.pending, echo)
	c.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
}

// call sends an action and waits for its response data.
func (c *conn) call(ctx context.Context, action string, params any) (gjson.Result, error) {
	echo := uuid.NewString()
	ch := make(chan gjson.Result, 1)
	c.pendingMu.Lock()
	c.pending[echo] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, echo)
		c.pendingMu.Unlock()
	}()

	payload, err := json.Marshal(request{Action: action, Params: params, Echo: echo})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to encode %s: %w", action, err)
	}
	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to write %s: %w", action, err)
	}

	select {
	case resp := <-ch:
		if resp.Get("status").String() == "failed" || resp.Get("retcode").Int() != 0 {
			return gjson.Result{}, fmt.Errorf("%w: %s: retcode %d %s", ErrActionFailed, action,
				resp.Get("retcode").Int(), resp.Get("wording").String())
		}
		return resp.Get("data"), nil
	case <-c.done:
		return gjson.Result{}, fmt.Errorf("%w: connection closed during %s", ErrNotConnected, action)
	case <-ctx.Done():
		return gjson.Result{}, ctx.Err()
	}
}

func (c *conn) close() {
	_ = c.ws.Close()
}
