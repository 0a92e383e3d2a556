// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gatewaytest provides an in-memory gateway with scripted reply
// streams for tests.
package gatewaytest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/streamchat/internal/gateway"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/sse"
)

// =============================================================================
// FAKE GATEWAY
// =============================================================================

// Fake is an in-memory gateway.Gateway and gateway.ActiveTracker. Set the
// *Err fields to make the matching call fail.
type Fake struct {
	mu sync.Mutex

	sessions []model.Session
	messages map[string][]model.Message
	active   string
	scripts  []*Script

	// Now stamps server-side timestamps. Defaults to a fixed instant so the
	// store's own clock decides ordering.
	Now func() time.Time

	// AssignID, when set, replaces the id of created sessions.
	AssignID func() string

	CreateErr   error
	UpdateErr   error
	DeleteErr   error
	ListErr     error
	MessagesErr error
	StreamErr   error

	// BeforeUpdate, when set, runs at the start of UpdateSession without
	// the fake's lock held.
	BeforeUpdate func(id string)

	// BeforeListMessages, when set, runs at the start of ListMessages
	// without the fake's lock held.
	BeforeListMessages func(id string)

	calls    []string
	requests []gateway.ChatRequest
}

var (
	_ gateway.Gateway       = (*Fake)(nil)
	_ gateway.ActiveTracker = (*Fake)(nil)
)

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		messages: make(map[string][]model.Message),
		Now:      func() time.Time { return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

// Seed stores a session and its messages as if they existed on the server.
func (f *Fake) Seed(s model.Session, msgs ...model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, s.Header())
	f.messages[s.ID] = model.CloneMessages(msgs)
}

// SetMessages replaces the server-side messages of a session.
func (f *Fake) SetMessages(id string, msgs ...model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[id] = model.CloneMessages(msgs)
}

// Enqueue adds scripts consumed by successive Stream calls.
func (f *Fake) Enqueue(scripts ...*Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, scripts...)
}

// Calls returns the names of the gateway methods called so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Requests returns the chat requests received so far.
func (f *Fake) Requests() []gateway.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.ChatRequest(nil), f.requests...)
}

// ServerSessions returns the server-side session list.
func (f *Fake) ServerSessions() []model.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Session(nil), f.sessions...)
}

func (f *Fake) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *Fake) indexOf(id string) int {
	for i := range f.sessions {
		if f.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// ListSessions implements gateway.Sessions.
func (f *Fake) ListSessions(ctx context.Context) ([]model.Session, error) {
	f.record("ListSessions")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := append([]model.Session(nil), f.sessions...)
	model.SortByRecent(out)
	return out, nil
}

// CreateSession implements gateway.Sessions.
func (f *Fake) CreateSession(ctx context.Context, s model.Session) (model.Session, error) {
	f.record("CreateSession")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return model.Session{}, f.CreateErr
	}
	rec := s.Header()
	if f.AssignID != nil {
		rec.ID = f.AssignID()
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	f.sessions = append(f.sessions, rec)
	f.messages[rec.ID] = nil
	return rec, nil
}

// UpdateSession implements gateway.Sessions.
func (f *Fake) UpdateSession(ctx context.Context, id string, p model.Patch) (model.Session, error) {
	f.record("UpdateSession")
	if f.BeforeUpdate != nil {
		f.BeforeUpdate(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpdateErr != nil {
		return model.Session{}, f.UpdateErr
	}
	idx := f.indexOf(id)
	if idx < 0 {
		return model.Session{}, gateway.ErrNotFound
	}
	f.sessions[idx].Apply(p, f.Now())
	return f.sessions[idx], nil
}

// DeleteSession implements gateway.Sessions.
func (f *Fake) DeleteSession(ctx context.Context, id string) error {
	f.record("DeleteSession")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	idx := f.indexOf(id)
	if idx < 0 {
		return gateway.ErrNotFound
	}
	f.sessions = append(f.sessions[:idx], f.sessions[idx+1:]...)
	delete(f.messages, id)
	return nil
}

// ListMessages implements gateway.Sessions.
func (f *Fake) ListMessages(ctx context.Context, id string) ([]model.Message, error) {
	f.record("ListMessages")
	if f.BeforeListMessages != nil {
		f.BeforeListMessages(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MessagesErr != nil {
		return nil, f.MessagesErr
	}
	if f.indexOf(id) < 0 {
		return nil, gateway.ErrNotFound
	}
	return model.CloneMessages(f.messages[id]), nil
}

// ActiveSession implements gateway.ActiveTracker.
func (f *Fake) ActiveSession(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, nil
}

// SetActiveSession implements gateway.ActiveTracker.
func (f *Fake) SetActiveSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = id
	return nil
}

// Stream implements gateway.Streamer with the next enqueued script. With no
// script left it returns an empty stream.
func (f *Fake) Stream(ctx context.Context, req gateway.ChatRequest) (gateway.EventSource, error) {
	f.record("Stream")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.StreamErr != nil {
		return nil, f.StreamErr
	}
	if len(f.scripts) == 0 {
		return NewScript(), nil
	}
	next := f.scripts[0]
	f.scripts = f.scripts[1:]
	return next, nil
}

// =============================================================================
// SCRIPTED STREAM
// =============================================================================

// Step is one entry of a script: an event to hand out, or an error. A non-nil
// Gate blocks the step until it is closed or the caller's context is done.
type Step struct {
	Event sse.Event
	Err   error
	Gate  <-chan struct{}
}

// Chunk is a step yielding a chunk event.
func Chunk(delta string) Step { return Step{Event: sse.Chunk(delta)} }

// End is a step yielding an end event.
func End(messageID string) Step { return Step{Event: sse.End(messageID)} }

// Fail is a step yielding an error event.
func Fail(msg string) Step { return Step{Event: sse.Failure(msg)} }

// Error is a step whose Next call returns err.
func Error(err error) Step { return Step{Err: err} }

// Wait is a step that blocks on gate before yielding ev.
func Wait(gate <-chan struct{}, ev sse.Event) Step { return Step{Event: ev, Gate: gate} }

// Script is a gateway.EventSource that plays back its steps and then io.EOF.
type Script struct {
	mu     sync.Mutex
	steps  []Step
	pos    int
	closed bool
}

// NewScript returns a script over steps.
func NewScript(steps ...Step) *Script {
	return &Script{steps: steps}
}

// Next implements gateway.EventSource.
func (s *Script) Next(ctx context.Context) (sse.Event, error) {
	if err := ctx.Err(); err != nil {
		return sse.Event{}, err
	}
	s.mu.Lock()
	if s.pos >= len(s.steps) {
		s.mu.Unlock()
		return sse.Event{}, io.EOF
	}
	step := s.steps[s.pos]
	s.pos++
	s.mu.Unlock()

	if step.Gate != nil {
		select {
		case <-step.Gate:
		case <-ctx.Done():
			return sse.Event{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return sse.Event{}, err
	}
	if step.Err != nil {
		return sse.Event{}, step.Err
	}
	return step.Event, nil
}

// Close implements gateway.EventSource.
func (s *Script) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Script) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
