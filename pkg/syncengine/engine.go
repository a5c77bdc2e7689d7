// Copyright 2024-2026 Aiku AI

// Package syncengine forwards messages between platforms and propagates
// recalls and edits to every copy.
//
// For each inbound message the engine renders and sends one copy per
// configured target, then records the correspondence. Targets are attempted
// in configured order and independently: a failure on one target never
// undoes or blocks the others.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/aiku/anysync/pkg/correspondence"
	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/platform"
	"github.com/aiku/anysync/pkg/render"
	"github.com/aiku/anysync/pkg/rules"
)

// DefaultSendTimeout bounds each native send, recall or edit call.
const DefaultSendTimeout = 15 * time.Second

var (
	// ErrNoHandler is reported for targets whose platform has no handler.
	ErrNoHandler = errors.New("no handler for platform")
	// ErrEmptyMessageID is reported when a handler sends without returning an ID.
	ErrEmptyMessageID = errors.New("handler returned an empty message id")
	// ErrNoRule is reported when an edited copy no longer has a forwarding rule.
	ErrNoRule = errors.New("no forwarding rule for copy")
)

// RuleSource resolves forwarding targets.
type RuleSource interface {
	Targets(platform, groupID string) []rules.Target
}

// Params configures an Engine.
type Params struct {
	Rules       RuleSource
	Store       correspondence.Store
	Renderers   *render.Registry
	Handlers    *platform.Registry
	Log         zerolog.Logger
	SendTimeout time.Duration
	Metrics     *Metrics
}

// Engine orchestrates forward, recall and edit intents.
type Engine struct {
	rules       RuleSource
	store       correspondence.Store
	renderers   *render.Registry
	handlers    *platform.Registry
	log         zerolog.Logger
	sendTimeout time.Duration
	metrics     *Metrics

	locks *keyedMutex
	queue *keyedQueue
	wg    sync.WaitGroup
}

var _ platform.Sink = (*Engine)(nil)

// New creates an engine.
func New(p Params) *Engine {
	if p.SendTimeout <= 0 {
		p.SendTimeout = DefaultSendTimeout
	}
	if p.Renderers == nil {
		p.Renderers = render.NewRegistry()
	}
	if p.Handlers == nil {
		p.Handlers = platform.NewRegistry()
	}
	return &Engine{
		rules:       p.Rules,
		store:       p.Store,
		renderers:   p.Renderers,
		handlers:    p.Handlers,
		log:         p.Log.With().Str("component", "syncengine").Logger(),
		sendTimeout: p.SendTimeout,
		metrics:     p.Metrics,
		locks:       newKeyedMutex(),
		queue:       newKeyedQueue(),
	}
}

// Dispatch handles evt asynchronously. Events about the same source message
// run one at a time in dispatch order, so a recall or edit never overtakes
// the message it refers to. Other events run concurrently. The event
// outlives ctx cancellation so that Wait can drain in-flight work on
// shutdown.
func (e *Engine) Dispatch(ctx context.Context, evt platform.Event) {
	ctx = context.WithoutCancel(ctx)
	run := func() { e.handleEvent(ctx, evt) }
	key := eventKey(evt)
	if key == "" {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			run()
		}()
		return
	}
	if e.queue.push(key, run) {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.queue.drain(key)
		}()
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt platform.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Any("panic", r).Msg("Panic while handling event")
		}
	}()
	switch ev := evt.(type) {
	case platform.MessageEvent:
		e.HandleMessage(ctx, ev.Envelope)
	case platform.RecallEvent:
		e.HandleRecall(ctx, ev.Recall)
	case platform.EditEvent:
		e.HandleEdit(ctx, ev.Envelope)
	default:
		e.log.Warn().Type("event_type", evt).Msg("Ignoring unknown event type")
	}
}

func eventKey(evt platform.Event) string {
	switch ev := evt.(type) {
	case platform.MessageEvent:
		if ev.Envelope != nil {
			return lockKey(ev.Envelope.Platform, ev.Envelope.MessageID)
		}
	case platform.RecallEvent:
		return lockKey(ev.Recall.Platform, ev.Recall.MessageID)
	case platform.EditEvent:
		if ev.Envelope != nil {
			return lockKey(ev.Envelope.Platform, ev.Envelope.MessageID)
		}
	}
	return ""
}

// Wait blocks until every dispatched event has been handled.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func lockKey(platform, messageID string) string {
	return platform + "\x00" + messageID
}

func (e *Engine) begin(kind Kind, platformName, messageID string) (*Result, zerolog.Logger) {
	res := &Result{
		Kind:      kind,
		Platform:  platformName,
		MessageID: messageID,
		TraceID:   xid.New().String(),
	}
	log := e.log.With().
		Str("trace_id", res.TraceID).
		Str("intent", string(kind)).
		Str("source_platform", platformName).
		Str("source_message_id", messageID).
		Logger()
	return res, log
}

func (e *Engine) drop(res *Result, reason string) *Result {
	res.Dropped = true
	res.Reason = reason
	e.metrics.observeEvent(res.Kind, "dropped")
	return res
}

func (e *Engine) finish(res *Result) *Result {
	for _, t := range res.Targets {
		e.metrics.observeTarget(res.Platform, t.Target.Platform, t.Status)
	}
	e.metrics.observeEvent(res.Kind, "processed")
	return res
}

// HandleMessage forwards env to every configured target and records a
// correspondence for each successful send.
func (e *Engine) HandleMessage(ctx context.Context, env *message.Envelope) *Result {
	var platformName, messageID string
	if env != nil {
		platformName, messageID = env.Platform, env.MessageID
	}
	res, log := e.begin(KindMessage, platformName, messageID)
	if err := env.Validate(); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed message")
		return e.drop(res, err.Error())
	}
	log = log.With().Str("source_group_id", env.GroupID).Logger()

	unlock := e.locks.Lock(lockKey(env.Platform, env.MessageID))
	defer unlock()

	targets := e.rules.Targets(env.Platform, env.GroupID)
	if len(targets) == 0 {
		log.Debug().Msg("No forwarding rule for group")
		return e.drop(res, "no forwarding rule")
	}
	for _, target := range targets {
		res.Targets = append(res.Targets, e.forward(ctx, log, env, target))
	}
	log.Info().
		Int("sent", res.Count(StatusSent)).
		Int("failed", res.Count(StatusFailed)).
		Int("skipped", res.Count(StatusSkipped)).
		Msg("Forwarded message")
	return e.finish(res)
}

// prepare resolves the handler and renders env for target.
func (e *Engine) prepare(ctx context.Context, log zerolog.Logger, env *message.Envelope, target rules.Target) (platform.Handler, *render.Payload, *TargetResult) {
	format, err := message.ParseFormat(target.Format)
	if err != nil {
		log.Warn().Err(err).Msg("Skipping target with invalid format")
		return nil, nil, &TargetResult{Target: target, Status: StatusSkipped, Err: err}
	}
	handler, ok := e.handlers.Get(target.Platform)
	if !ok {
		log.Warn().Msg("Skipping target without a configured handler")
		return nil, nil, &TargetResult{Target: target, Status: StatusSkipped, Err: ErrNoHandler}
	}
	payload, err := e.renderers.Render(target.Platform, format, env)
	if errors.Is(err, render.ErrUnsupported) {
		log.Warn().Err(err).Msg("Skipping target with unsupported format")
		return nil, nil, &TargetResult{Target: target, Status: StatusSkipped, Err: err}
	} else if err != nil {
		log.Err(err).Msg("Failed to render message")
		return nil, nil, &TargetResult{Target: target, Status: StatusFailed, Err: err}
	}
	payload.ReplyTo = e.resolveReply(ctx, log, env, target)
	return handler, payload, nil
}

func (e *Engine) forward(ctx context.Context, log zerolog.Logger, env *message.Envelope, target rules.Target) TargetResult {
	log = log.With().
		Str("target_platform", target.Platform).
		Str("target_group_id", target.GroupID).
		Logger()
	handler, payload, skipped := e.prepare(ctx, log, env, target)
	if skipped != nil {
		return *skipped
	}

	msgID, err := e.send(ctx, handler, target.GroupID, payload)
	if err != nil {
		log.Err(err).Msg("Failed to send message to target")
		return TargetResult{Target: target, Status: StatusFailed, Err: err}
	}
	edge := correspondence.Edge{
		SourcePlatform:  env.Platform,
		SourceGroupID:   env.GroupID,
		SourceMessageID: env.MessageID,
		TargetPlatform:  target.Platform,
		TargetGroupID:   target.GroupID,
		TargetMessageID: msgID,
	}
	if err = e.store.Record(ctx, edge); err != nil {
		log.Err(err).Str("target_message_id", msgID).Msg("Failed to record correspondence")
		return TargetResult{Target: target, Status: StatusSent, MessageID: msgID, Err: err}
	}
	log.Debug().Str("target_message_id", msgID).Msg("Sent message to target")
	return TargetResult{Target: target, Status: StatusSent, MessageID: msgID}
}

func (e *Engine) send(ctx context.Context, handler platform.Handler, groupID string, payload *render.Payload) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	msgID, err := handler.Send(ctx, groupID, payload)
	if err != nil {
		return "", fmt.Errorf("failed to send to %s: %w", handler.Name(), err)
	}
	if msgID == "" {
		return "", ErrEmptyMessageID
	}
	return msgID, nil
}

// resolveReply maps a quoted source message to its copy in the target group.
// A quote of a message that itself came from a third platform is resolved
// through that platform's original.
func (e *Engine) resolveReply(ctx context.Context, log zerolog.Logger, env *message.Envelope, target rules.Target) string {
	quote := env.Quote()
	if quote == nil || quote.MessageID == "" {
		return ""
	}
	edge, ok, err := e.store.Lookup(ctx, env.Platform, quote.MessageID, target.Platform, target.GroupID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to look up replied message")
		return ""
	} else if ok {
		return edge.TargetMessageID
	}
	hops, err := e.store.LookupAll(ctx, env.Platform, quote.MessageID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to look up replied message")
		return ""
	}
	for _, hop := range hops {
		edge, ok, err = e.store.Lookup(ctx, hop.TargetPlatform, hop.TargetMessageID, target.Platform, target.GroupID)
		if err == nil && ok {
			return edge.TargetMessageID
		}
	}
	return ""
}

// copies returns the stored copies of a message, restricted to groupID when
// it is set.
func (e *Engine) copies(ctx context.Context, platformName, messageID, groupID string) ([]correspondence.Edge, error) {
	edges, err := e.store.LookupAll(ctx, platformName, messageID)
	if err != nil {
		return nil, err
	}
	if groupID == "" {
		return edges, nil
	}
	filtered := edges[:0]
	for _, edge := range edges {
		if edge.SourceGroupID == groupID {
			filtered = append(filtered, edge)
		}
	}
	return filtered, nil
}

func edgeTarget(edge correspondence.Edge) rules.Target {
	return rules.Target{Platform: edge.TargetPlatform, GroupID: edge.TargetGroupID}
}

// HandleRecall deletes every copy of a message its sender recalled.
// Deletions by anyone other than the sender are ignored.
func (e *Engine) HandleRecall(ctx context.Context, r message.Recall) *Result {
	res, log := e.begin(KindRecall, r.Platform, r.MessageID)
	if err := r.Validate(); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed recall")
		return e.drop(res, err.Error())
	}
	if !r.SelfInitiated() {
		log.Info().
			Str("sender_id", r.SenderID).
			Str("actor_id", r.ActorID).
			Msg("Ignoring recall not made by the sender")
		return e.drop(res, "not self-initiated")
	}

	unlock := e.locks.Lock(lockKey(r.Platform, r.MessageID))
	defer unlock()

	edges, err := e.copies(ctx, r.Platform, r.MessageID, r.GroupID)
	if err != nil {
		log.Err(err).Msg("Failed to look up copies")
		return e.drop(res, "lookup failed")
	}
	if len(edges) == 0 {
		log.Debug().Msg("No copies to recall")
		return e.drop(res, "no copies")
	}
	for _, edge := range edges {
		res.Targets = append(res.Targets, e.recallCopy(ctx, log, edge))
	}
	log.Info().
		Int("recalled", res.Count(StatusRecalled)).
		Int("failed", res.Count(StatusFailed)).
		Msg("Propagated recall")
	return e.finish(res)
}

func (e *Engine) recallCopy(ctx context.Context, log zerolog.Logger, edge correspondence.Edge) TargetResult {
	target := edgeTarget(edge)
	log = log.With().
		Str("target_platform", edge.TargetPlatform).
		Str("target_group_id", edge.TargetGroupID).
		Str("target_message_id", edge.TargetMessageID).
		Logger()
	handler, ok := e.handlers.Get(edge.TargetPlatform)
	if !ok {
		log.Warn().Msg("Skipping recall for platform without a handler")
		return TargetResult{Target: target, Status: StatusSkipped, MessageID: edge.TargetMessageID, Err: ErrNoHandler}
	}
	recaller, ok := handler.(platform.Recaller)
	if !ok {
		log.Debug().Msg("Target platform cannot recall messages")
		return TargetResult{Target: target, Status: StatusSkipped, MessageID: edge.TargetMessageID}
	}
	if err := e.recall(ctx, recaller, edge.TargetGroupID, edge.TargetMessageID); err != nil {
		log.Err(err).Msg("Failed to recall copy")
		return TargetResult{Target: target, Status: StatusFailed, MessageID: edge.TargetMessageID, Err: err}
	}
	if err := e.store.Delete(ctx, edge); err != nil {
		log.Err(err).Msg("Failed to delete correspondence after recall")
	}
	return TargetResult{Target: target, Status: StatusRecalled, MessageID: edge.TargetMessageID}
}

func (e *Engine) recall(ctx context.Context, recaller platform.Recaller, groupID, messageID string) error {
	ctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	if err := recaller.Recall(ctx, groupID, messageID); err != nil {
		return fmt.Errorf("failed to recall: %w", err)
	}
	return nil
}

// HandleEdit updates every copy of an edited message. Copies on platforms
// without an edit primitive are recalled and sent again.
func (e *Engine) HandleEdit(ctx context.Context, env *message.Envelope) *Result {
	var platformName, messageID string
	if env != nil {
		platformName, messageID = env.Platform, env.MessageID
	}
	res, log := e.begin(KindEdit, platformName, messageID)
	if err := env.Validate(); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed edit")
		return e.drop(res, err.Error())
	}

	unlock := e.locks.Lock(lockKey(env.Platform, env.MessageID))
	defer unlock()

	edges, err := e.copies(ctx, env.Platform, env.MessageID, env.GroupID)
	if err != nil {
		log.Err(err).Msg("Failed to look up copies")
		return e.drop(res, "lookup failed")
	}
	if len(edges) == 0 {
		log.Debug().Msg("No copies to edit")
		return e.drop(res, "no copies")
	}
	configured := e.rules.Targets(env.Platform, env.GroupID)
	for _, edge := range edges {
		res.Targets = append(res.Targets, e.editCopy(ctx, log, env, edge, configured))
	}
	log.Info().
		Int("edited", res.Count(StatusEdited)).
		Int("resent", res.Count(StatusResent)).
		Int("failed", res.Count(StatusFailed)).
		Msg("Propagated edit")
	return e.finish(res)
}

func (e *Engine) editCopy(ctx context.Context, log zerolog.Logger, env *message.Envelope, edge correspondence.Edge, configured []rules.Target) TargetResult {
	log = log.With().
		Str("target_platform", edge.TargetPlatform).
		Str("target_group_id", edge.TargetGroupID).
		Str("target_message_id", edge.TargetMessageID).
		Logger()
	target, ok := findTarget(configured, edge)
	if !ok {
		log.Warn().Msg("Skipping edit of copy without a forwarding rule")
		return TargetResult{Target: edgeTarget(edge), Status: StatusSkipped, MessageID: edge.TargetMessageID, Err: ErrNoRule}
	}
	handler, payload, skipped := e.prepare(ctx, log, env, target)
	if skipped != nil {
		skipped.MessageID = edge.TargetMessageID
		return *skipped
	}

	if editor, ok := handler.(platform.Editor); ok {
		editCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
		err := editor.Edit(editCtx, edge.TargetGroupID, edge.TargetMessageID, payload)
		cancel()
		if err != nil {
			log.Err(err).Msg("Failed to edit copy")
			return TargetResult{Target: target, Status: StatusFailed, MessageID: edge.TargetMessageID, Err: fmt.Errorf("failed to edit: %w", err)}
		}
		return TargetResult{Target: target, Status: StatusEdited, MessageID: edge.TargetMessageID}
	}

	recaller, ok := handler.(platform.Recaller)
	if !ok {
		log.Debug().Msg("Target platform can neither edit nor recall")
		return TargetResult{Target: target, Status: StatusSkipped, MessageID: edge.TargetMessageID}
	}
	if err := e.recall(ctx, recaller, edge.TargetGroupID, edge.TargetMessageID); err != nil {
		log.Err(err).Msg("Failed to recall copy for resend")
		return TargetResult{Target: target, Status: StatusFailed, MessageID: edge.TargetMessageID, Err: err}
	}
	newID, err := e.send(ctx, handler, edge.TargetGroupID, payload)
	if err != nil {
		log.Err(err).Msg("Failed to resend edited copy")
		if delErr := e.store.Delete(ctx, edge); delErr != nil {
			log.Err(delErr).Msg("Failed to delete correspondence of recalled copy")
		}
		return TargetResult{Target: target, Status: StatusFailed, Err: err}
	}
	edge.TargetMessageID = newID
	edge.SourceGroupID = env.GroupID
	if err = e.store.Record(ctx, edge); err != nil {
		log.Err(err).Str("new_message_id", newID).Msg("Failed to record resent copy")
		return TargetResult{Target: target, Status: StatusResent, MessageID: newID, Err: err}
	}
	log.Debug().Str("new_message_id", newID).Msg("Resent edited copy")
	return TargetResult{Target: target, Status: StatusResent, MessageID: newID}
}

func findTarget(configured []rules.Target, edge correspondence.Edge) (rules.Target, bool) {
	for _, t := range configured {
		if t.Platform == edge.TargetPlatform && t.GroupID == edge.TargetGroupID {
			return t, true
		}
	}
	return rules.Target{}, false
}
