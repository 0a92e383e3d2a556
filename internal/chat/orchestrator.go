// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/gateway"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/session"
	"github.com/jeranaias/streamchat/internal/sse"
)

var (
	// ErrExchangeActive is returned by Begin while another exchange runs.
	ErrExchangeActive = errors.New("an exchange is already in progress")

	// ErrEmptyPrompt is returned for a prompt that is blank after trimming.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrNothingToRegenerate is returned when a session has no user message.
	ErrNothingToRegenerate = errors.New("no user message to regenerate")
)

// reconcileTimeout bounds the reload that follows a completed reply.
const reconcileTimeout = 15 * time.Second

// Request starts an exchange.
type Request struct {
	SessionID string
	Prompt    string
}

// Update is delivered to the observer after each applied delta (Delta set,
// Status streaming) and once when the exchange ends (terminal Status).
type Update struct {
	ExchangeID string
	SessionID  string
	MessageID  string
	Delta      string
	Status     Status
	Err        error
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator runs at most one exchange at a time against a session store.
type Orchestrator struct {
	store    *session.Store
	streamer gateway.Streamer
	logger   *zap.Logger
	observer func(Update)
	now      func() time.Time

	active  atomic.Bool
	mu      sync.Mutex
	current *Exchange
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver sets the callback receiving exchange updates. It runs on the
// exchange goroutine and must not block for long.
func WithObserver(fn func(Update)) Option {
	return func(o *Orchestrator) {
		o.observer = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// New creates an orchestrator.
func New(store *session.Store, streamer gateway.Streamer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		streamer: streamer,
		logger:   zap.NewNop(),
		observer: func(Update) {},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Active reports whether an exchange is in progress.
func (o *Orchestrator) Active() bool {
	return o.active.Load()
}

// Current returns the exchange in progress, or nil.
func (o *Orchestrator) Current() *Exchange {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Begin records the prompt and a placeholder reply in the session, then
// streams the reply into the placeholder on a new goroutine. It returns once
// the exchange is started. ctx bounds the whole exchange.
func (o *Orchestrator) Begin(ctx context.Context, req Request) (*Exchange, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if !o.active.CompareAndSwap(false, true) {
		return nil, ErrExchangeActive
	}

	ex, chatReq, err := o.prepare(req.SessionID, prompt)
	if err != nil {
		o.active.Store(false)
		return nil, err
	}

	exCtx, cancel := context.WithCancel(ctx)
	ex.cancelFn = cancel

	o.mu.Lock()
	o.current = ex
	o.mu.Unlock()

	o.logger.Debug("Exchange started",
		zap.String("exchange_id", ex.id),
		zap.String("session_id", ex.sessionID),
		zap.String("model", chatReq.Model),
		zap.Int("history", len(chatReq.Messages)))

	go o.run(exCtx, ex, chatReq)
	return ex, nil
}

// Regenerate sends the last user message of the session again.
func (o *Orchestrator) Regenerate(ctx context.Context, sessionID string) (*Exchange, error) {
	if _, ok := o.store.Get(sessionID); !ok {
		return nil, session.ErrNotFound
	}
	last, ok := model.LastOfRole(o.store.Messages(sessionID), model.RoleUser)
	if !ok {
		return nil, ErrNothingToRegenerate
	}
	return o.Begin(ctx, Request{SessionID: sessionID, Prompt: last.Content})
}

// prepare appends the user message and the placeholder and builds the
// request from the history that preceded them.
func (o *Orchestrator) prepare(sessionID, prompt string) (*Exchange, gateway.ChatRequest, error) {
	sess, ok := o.store.Get(sessionID)
	if !ok {
		return nil, gateway.ChatRequest{}, session.ErrNotFound
	}
	prior := o.store.Messages(sessionID)

	now := o.now()
	user := model.NewUserMessage(sessionID, prompt, now)
	placeholder := model.NewAssistantPlaceholder(sessionID, now)
	if err := o.store.AppendMessage(sessionID, user); err != nil {
		return nil, gateway.ChatRequest{}, err
	}
	if err := o.store.AppendMessage(sessionID, placeholder); err != nil {
		return nil, gateway.ChatRequest{}, err
	}

	history := make([]model.Message, 0, len(prior)+1)
	for _, m := range prior {
		// Replies that never received content carry nothing for the model.
		if m.Role == model.RoleAssistant && m.Content == "" {
			continue
		}
		history = append(history, m)
	}
	history = append(history, user)

	ex := &Exchange{
		id:        uuid.NewString(),
		sessionID: sessionID,
		messageID: placeholder.ID,
		prompt:    prompt,
		done:      make(chan struct{}),
		status:    StatusStreaming,
	}
	return ex, gateway.ChatRequest{
		SessionID: sessionID,
		Model:     sess.Model,
		Messages:  model.ToChat(history),
	}, nil
}

// =============================================================================
// READ LOOP
// =============================================================================

func (o *Orchestrator) run(ctx context.Context, ex *Exchange, req gateway.ChatRequest) {
	defer ex.cancelFn()

	src, err := o.streamer.Stream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			o.finish(ex, StatusCanceled, nil)
			return
		}
		o.finish(ex, StatusFailed, errors.Wrap(err, "failed to open reply stream"))
		return
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			o.logger.Debug("Reply stream close failed", zap.String("exchange_id", ex.id), zap.Error(cerr))
		}
	}()

	for {
		ev, err := src.Next(ctx)
		if ctx.Err() != nil {
			o.finish(ex, StatusCanceled, nil)
			return
		}
		if err == io.EOF {
			// The source ended without an end event. What arrived is kept.
			o.logger.Warn("Reply stream ended without end event", zap.String("exchange_id", ex.id))
			o.finish(ex, StatusCompleted, nil)
			return
		}
		if err != nil {
			o.finish(ex, StatusFailed, &gateway.StreamError{Partial: ex.Content(), Err: err})
			return
		}

		switch ev.Type {
		case sse.TypeChunk:
			if err := o.store.AppendDelta(ex.sessionID, ex.messageID, ev.Delta); err != nil {
				o.finish(ex, StatusFailed, errors.Wrap(err, "failed to apply delta"))
				return
			}
			ex.appendDelta(ev.Delta)
			o.observer(Update{
				ExchangeID: ex.id,
				SessionID:  ex.sessionID,
				MessageID:  ex.messageID,
				Delta:      ev.Delta,
				Status:     StatusStreaming,
			})

		case sse.TypeEnd:
			ex.mu.Lock()
			ex.replyID = ev.MessageID
			ex.mu.Unlock()
			// The guard stays held during the reload so a new exchange cannot
			// append to messages that are about to be replaced.
			o.reconcile(ctx, ex)
			o.finish(ex, StatusCompleted, nil)
			return

		case sse.TypeError:
			msg := ev.Error
			if msg == "" {
				msg = "reply failed"
			}
			o.finish(ex, StatusFailed, &gateway.StreamError{Partial: ex.Content(), Err: errors.New(msg)})
			return
		}
	}
}

// reconcile reloads the session's messages after a completed reply. A failure
// is kept on the exchange; the store has already notified about it.
func (o *Orchestrator) reconcile(ctx context.Context, ex *Exchange) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reconcileTimeout)
	defer cancel()

	if err := o.store.Reconcile(rctx, ex.sessionID); err != nil {
		ex.mu.Lock()
		ex.reconcileErr = err
		ex.mu.Unlock()
	}
}

// finish records the terminal status, releases the single-exchange guard and
// tells the observer, in that order, before Done is closed.
func (o *Orchestrator) finish(ex *Exchange, status Status, err error) {
	ex.mu.Lock()
	ex.status = status
	ex.err = err
	ex.mu.Unlock()

	o.mu.Lock()
	if o.current == ex {
		o.current = nil
	}
	o.mu.Unlock()
	o.active.Store(false)

	fields := []zap.Field{
		zap.String("exchange_id", ex.id),
		zap.String("status", status.String()),
		zap.Int("content_len", len(ex.Content())),
	}
	if err != nil {
		o.logger.Warn("Exchange failed", append(fields, zap.Error(err))...)
	} else {
		o.logger.Debug("Exchange finished", fields...)
	}

	o.observer(Update{
		ExchangeID: ex.id,
		SessionID:  ex.sessionID,
		MessageID:  ex.messageID,
		Status:     status,
		Err:        err,
	})
	close(ex.done)
}
