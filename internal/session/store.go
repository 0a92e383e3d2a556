// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/gateway"
	"github.com/jeranaias/streamchat/internal/model"
)

var (
	// ErrNotFound is returned for an id the store does not hold. It is the
	// gateway sentinel so callers can test for either with one errors.Is.
	ErrNotFound = gateway.ErrNotFound

	// ErrMessageNotFound is returned when a delta targets an unknown message.
	ErrMessageNotFound = errors.New("message not found")
)

// =============================================================================
// STORE
// =============================================================================

// Store is the ordered, observable collection of sessions plus the messages
// of the sessions that have been opened.
type Store struct {
	gw     gateway.Gateway
	clock  Clock
	logger *zap.Logger
	notify func(error)

	defaultTitle string
	defaultModel string

	mu        sync.Mutex
	sessions  []model.Session
	messages  map[string][]model.Message
	revisions map[string]uint64
	activeID  string
	last      time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithDefaults sets the title and model of newly created sessions.
func WithDefaults(title, modelID string) Option {
	return func(s *Store) {
		s.defaultTitle = title
		s.defaultModel = modelID
	}
}

// WithNotifier sets the callback that receives reconciliation errors. It is
// called without the store lock held.
func WithNotifier(fn func(error)) Option {
	return func(s *Store) {
		s.notify = fn
	}
}

// New creates an empty store backed by gw. Call Load to populate it.
func New(gw gateway.Gateway, opts ...Option) *Store {
	s := &Store{
		gw:           gw,
		clock:        SystemClock(),
		logger:       zap.NewNop(),
		notify:       func(error) {},
		defaultTitle: model.DefaultTitle,
		defaultModel: model.DefaultModel,
		messages:     make(map[string][]model.Message),
		revisions:    make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Load replaces the collection with the gateway's list. An empty list gets a
// fresh session. Otherwise the remembered active session (or the most recent
// one) is selected and its messages loaded.
func (s *Store) Load(ctx context.Context) error {
	list, err := s.gw.ListSessions(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list sessions")
	}

	s.mu.Lock()
	s.sessions = make([]model.Session, 0, len(list))
	s.messages = make(map[string][]model.Message)
	s.revisions = make(map[string]uint64)
	s.activeID = ""
	for _, rec := range list {
		s.sessions = append(s.sessions, rec.Header())
		s.observe(rec.UpdatedAt)
	}
	model.SortByRecent(s.sessions)
	empty := len(s.sessions) == 0
	front := ""
	if !empty {
		front = s.sessions[0].ID
	}
	s.mu.Unlock()

	s.logger.Debug("Sessions loaded", zap.Int("count", len(list)))

	if empty {
		_, err := s.Create(ctx)
		return err
	}

	preferred := front
	if tracker, ok := s.gw.(gateway.ActiveTracker); ok {
		id, err := tracker.ActiveSession(ctx)
		if err != nil {
			s.logger.Warn("Failed to read active session", zap.Error(err))
		} else if _, found := s.Get(id); found {
			preferred = id
		}
	}
	return s.Select(ctx, preferred)
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// Create adds a new session at the front and makes it active. The gateway's
// record replaces the optimistic one; on failure the session is rolled back
// and the previous selection restored.
func (s *Store) Create(ctx context.Context) (model.Session, error) {
	s.mu.Lock()
	optimistic := model.NewSession(s.defaultTitle, s.defaultModel, s.tick())
	prevActive := s.activeID
	s.sessions = append([]model.Session{optimistic}, s.sessions...)
	s.messages[optimistic.ID] = []model.Message{}
	s.activeID = optimistic.ID
	rev := s.bump(optimistic.ID)
	s.mu.Unlock()

	rec, err := s.gw.CreateSession(ctx, optimistic)
	if err != nil {
		s.mu.Lock()
		s.drop(optimistic.ID)
		if s.activeID == optimistic.ID {
			s.activeID = ""
			if s.indexOf(prevActive) >= 0 {
				s.activeID = prevActive
			} else if len(s.sessions) > 0 {
				s.activeID = s.sessions[0].ID
			}
		}
		s.mu.Unlock()
		s.logger.Warn("Session create rolled back", zap.String("session_id", optimistic.ID), zap.Error(err))
		return model.Session{}, errors.Wrap(err, "failed to create session")
	}

	s.mu.Lock()
	idx := s.indexOf(optimistic.ID)
	if idx < 0 {
		s.mu.Unlock()
		return rec.Header(), nil
	}
	if rec.ID == "" {
		rec.ID = optimistic.ID
	}
	if rec.ID != optimistic.ID {
		s.messages[rec.ID] = s.messages[optimistic.ID]
		delete(s.messages, optimistic.ID)
		s.revisions[rec.ID] = s.revisions[optimistic.ID]
		delete(s.revisions, optimistic.ID)
		if s.activeID == optimistic.ID {
			s.activeID = rec.ID
		}
	}
	if s.revisions[rec.ID] == rev {
		s.sessions[idx] = s.merge(s.sessions[idx], rec)
	} else {
		s.sessions[idx].ID = rec.ID
	}
	model.SortByRecent(s.sessions)
	out := s.sessions[s.indexOf(rec.ID)]
	active := s.activeID
	s.mu.Unlock()

	s.remember(ctx, active)
	return out, nil
}

// Select switches the active session and reloads its messages. It never
// changes UpdatedAt.
func (s *Store) Select(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.indexOf(id) < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.activeID = id
	s.mu.Unlock()

	s.remember(ctx, id)

	msgs, err := s.gw.ListMessages(ctx, id)
	if err != nil {
		return errors.Wrap(err, "failed to load messages")
	}

	s.mu.Lock()
	if s.indexOf(id) >= 0 {
		s.messages[id] = msgs
	}
	s.mu.Unlock()
	return nil
}

// Update merges p into the session, refreshes UpdatedAt and moves it to the
// front, then confirms with the gateway. The gateway's record is adopted only
// when no newer local edit happened meanwhile. A failed confirmation keeps
// the local edit and returns a *gateway.ReconcileError, which is also passed
// to the notifier.
func (s *Store) Update(ctx context.Context, id string, p model.Patch) (model.Session, error) {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return model.Session{}, ErrNotFound
	}
	s.sessions[idx].Apply(p, s.tick())
	rev := s.bump(id)
	model.SortByRecent(s.sessions)
	local := s.sessions[s.indexOf(id)]
	s.mu.Unlock()

	rec, err := s.gw.UpdateSession(ctx, id, p)
	if err != nil {
		rerr := &gateway.ReconcileError{Op: "update", SessionID: id, Err: err}
		s.report(rerr)
		return local, rerr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx = s.indexOf(id)
	if idx < 0 {
		return local, nil
	}
	if s.revisions[id] == rev {
		rec.ID = id
		s.sessions[idx] = s.merge(s.sessions[idx], rec)
		model.SortByRecent(s.sessions)
	}
	return s.sessions[s.indexOf(id)], nil
}

// Rename sets the title of a session.
func (s *Store) Rename(ctx context.Context, id, title string) (model.Session, error) {
	return s.Update(ctx, id, model.TitlePatch(title))
}

// SetModel sets the reply model of a session.
func (s *Store) SetModel(ctx context.Context, id, modelID string) (model.Session, error) {
	return s.Update(ctx, id, model.ModelPatch(modelID))
}

// Remove deletes the session on the gateway, then locally. If it was active,
// the most recent remaining session is selected, or none.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.indexOf(id) < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.mu.Unlock()

	if err := s.gw.DeleteSession(ctx, id); err != nil {
		return errors.Wrap(err, "failed to delete session")
	}

	s.mu.Lock()
	s.drop(id)
	wasActive := s.activeID == id
	next := ""
	if wasActive {
		s.activeID = ""
		if len(s.sessions) > 0 {
			next = s.sessions[0].ID
		}
	}
	s.mu.Unlock()

	if !wasActive {
		return nil
	}
	if next == "" {
		s.remember(ctx, "")
		return nil
	}
	return s.Select(ctx, next)
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// AppendMessage adds msg to the session, refreshes UpdatedAt and reorders.
func (s *Store) AppendMessage(id string, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return ErrNotFound
	}
	msg.SessionID = id
	s.messages[id] = append(s.messages[id], msg)
	s.sessions[idx].Touch(s.tick())
	model.SortByRecent(s.sessions)
	return nil
}

// AppendDelta appends delta to the content of a message in place. The
// session order is not touched.
func (s *Store) AppendDelta(id, messageID, delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(id) < 0 {
		return ErrNotFound
	}
	msgs := s.messages[id]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID == messageID {
			msgs[i].Content += delta
			return nil
		}
	}
	return ErrMessageNotFound
}

// ReplaceMessages swaps the session's messages for msgs.
func (s *Store) ReplaceMessages(id string, msgs []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(id) < 0 {
		return ErrNotFound
	}
	s.messages[id] = model.CloneMessages(msgs)
	return nil
}

// Reconcile reloads a session's messages from the gateway. A failure keeps
// the local messages and returns a *gateway.ReconcileError, which is also
// passed to the notifier.
func (s *Store) Reconcile(ctx context.Context, id string) error {
	msgs, err := s.gw.ListMessages(ctx, id)
	if err != nil {
		rerr := &gateway.ReconcileError{Op: "reconcile", SessionID: id, Err: err}
		s.report(rerr)
		return rerr
	}
	return s.ReplaceMessages(id, msgs)
}

// =============================================================================
// QUERIES
// =============================================================================

// Sessions returns a copy of the collection, most recent first.
func (s *Store) Sessions() []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Active returns the active session.
func (s *Store) Active() (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(s.activeID)
	if idx < 0 {
		return model.Session{}, false
	}
	return s.sessions[idx], true
}

// ActiveID returns the id of the active session, or "".
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Get returns the session with the given id.
func (s *Store) Get(id string) (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return model.Session{}, false
	}
	return s.sessions[idx], true
}

// Messages returns a copy of the session's loaded messages.
func (s *Store) Messages(id string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneMessages(s.messages[id])
}

// Message returns one message of a session.
func (s *Store) Message(id, messageID string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages[id] {
		if m.ID == messageID {
			return m, true
		}
	}
	return model.Message{}, false
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// =============================================================================
// INTERNAL HELPERS (callers hold s.mu unless noted)
// =============================================================================

// tick returns a timestamp strictly after every timestamp seen so far.
func (s *Store) tick() time.Time {
	now := s.clock.Now()
	if floor := s.last.Add(time.Nanosecond); !now.After(s.last) {
		now = floor
	}
	s.last = now
	return now
}

// observe raises the tick floor to t.
func (s *Store) observe(t time.Time) {
	if t.After(s.last) {
		s.last = t
	}
}

func (s *Store) bump(id string) uint64 {
	s.revisions[id]++
	return s.revisions[id]
}

// merge adopts rec but never moves UpdatedAt backwards, so a server clock
// behind ours cannot reorder the list behind the user's back.
func (s *Store) merge(local, rec model.Session) model.Session {
	out := rec.Header()
	if local.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = local.UpdatedAt
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = local.CreatedAt
	}
	s.observe(out.UpdatedAt)
	return out
}

func (s *Store) drop(id string) {
	if idx := s.indexOf(id); idx >= 0 {
		s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	}
	delete(s.messages, id)
	delete(s.revisions, id)
}

func (s *Store) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// remember forwards the active id to gateways that track it. Called without
// the lock.
func (s *Store) remember(ctx context.Context, id string) {
	tracker, ok := s.gw.(gateway.ActiveTracker)
	if !ok {
		return
	}
	if err := tracker.SetActiveSession(ctx, id); err != nil {
		s.logger.Warn("Failed to remember active session", zap.String("session_id", id), zap.Error(err))
	}
}

// report logs and forwards a reconciliation error. Called without the lock.
func (s *Store) report(err *gateway.ReconcileError) {
	s.logger.Warn("Change not confirmed",
		zap.String("op", err.Op),
		zap.String("session_id", err.SessionID),
		zap.Error(err.Err))
	s.notify(err)
}
