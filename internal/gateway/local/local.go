// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package local

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/gateway"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/storage"
)

// Storage keys. They match the keys the browser build used so exported data
// stays readable.
const (
	SessionsKey = "chat_sessions_v1"
	ActiveKey   = "chat_active_session_id_v1"
)

// =============================================================================
// GATEWAY
// =============================================================================

// Gateway is the standalone gateway. It is safe for concurrent use.
type Gateway struct {
	kv     storage.KV
	logger *zap.Logger
	now    func() time.Time
	pacing Pacing

	// mu serializes read-modify-write cycles on SessionsKey.
	mu sync.Mutex

	rndMu sync.Mutex
	rnd   *rand.Rand
}

var (
	_ gateway.Gateway       = (*Gateway)(nil)
	_ gateway.ActiveTracker = (*Gateway)(nil)
)

// Option configures a Gateway.
type Option func(*Gateway)

// WithPacing sets the delay range between reply deltas.
func WithPacing(p Pacing) Option {
	return func(g *Gateway) {
		g.pacing = p
	}
}

// WithRand sets the random source used for reply selection and pacing.
func WithRand(r *rand.Rand) Option {
	return func(g *Gateway) {
		g.rnd = r
	}
}

// WithClock sets the time source used for persisted timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// New creates a gateway persisting to kv. The caller keeps ownership of kv.
func New(kv storage.KV, opts ...Option) *Gateway {
	g := &Gateway{
		kv:     kv,
		logger: zap.NewNop(),
		now:    time.Now,
		pacing: DefaultPacing(),
		rnd:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// =============================================================================
// SESSIONS
// =============================================================================

// ListSessions returns every session without messages, most recent first.
func (g *Gateway) ListSessions(ctx context.Context) ([]model.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	all, err := g.load(ctx)
	if err != nil {
		return nil, err
	}
	model.SortByRecent(all)
	out := make([]model.Session, len(all))
	for i, s := range all {
		out[i] = s.Header()
	}
	return out, nil
}

// CreateSession stores s at the front. Missing fields are filled in.
func (g *Gateway) CreateSession(ctx context.Context, s model.Session) (model.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	all, err := g.load(ctx)
	if err != nil {
		return model.Session{}, err
	}

	now := g.now()
	rec := s.Header()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Title == "" {
		rec.Title = model.DefaultTitle
	}
	if rec.Model == "" {
		rec.Model = model.DefaultModel
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if indexOf(all, rec.ID) >= 0 {
		return model.Session{}, &gateway.APIError{Status: 409, Message: "session already exists"}
	}

	rec.Messages = []model.Message{}
	all = append([]model.Session{rec}, all...)
	if err := g.save(ctx, all); err != nil {
		return model.Session{}, err
	}
	return rec.Header(), nil
}

// UpdateSession applies p and returns the updated record.
func (g *Gateway) UpdateSession(ctx context.Context, id string, p model.Patch) (model.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	all, err := g.load(ctx)
	if err != nil {
		return model.Session{}, err
	}
	idx := indexOf(all, id)
	if idx < 0 {
		return model.Session{}, gateway.ErrNotFound
	}

	all[idx].Apply(p, g.now())
	if err := g.save(ctx, all); err != nil {
		return model.Session{}, err
	}
	return all[idx].Header(), nil
}

// DeleteSession removes the session and its messages. The remembered active
// id is cleared when it pointed at the removed session.
func (g *Gateway) DeleteSession(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	all, err := g.load(ctx)
	if err != nil {
		return err
	}
	idx := indexOf(all, id)
	if idx < 0 {
		return gateway.ErrNotFound
	}

	all = append(all[:idx], all[idx+1:]...)
	if err := g.save(ctx, all); err != nil {
		return err
	}

	active, err := g.ActiveSession(ctx)
	if err == nil && active == id {
		if err := g.kv.Delete(ctx, ActiveKey); err != nil {
			g.logger.Warn("Failed to clear active session", zap.String("session_id", id), zap.Error(err))
		}
	}
	return nil
}

// ListMessages returns the messages of a session in insertion order.
func (g *Gateway) ListMessages(ctx context.Context, id string) ([]model.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	all, err := g.load(ctx)
	if err != nil {
		return nil, err
	}
	idx := indexOf(all, id)
	if idx < 0 {
		return nil, gateway.ErrNotFound
	}
	return model.CloneMessages(all[idx].Messages), nil
}

// =============================================================================
// ACTIVE SESSION
// =============================================================================

// ActiveSession returns the remembered active session id, or "" if none.
func (g *Gateway) ActiveSession(ctx context.Context) (string, error) {
	raw, err := g.kv.Get(ctx, ActiveKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to read active session")
	}
	return string(raw), nil
}

// SetActiveSession remembers id. An empty id forgets the selection.
func (g *Gateway) SetActiveSession(ctx context.Context, id string) error {
	if id == "" {
		return errors.Wrap(g.kv.Delete(ctx, ActiveKey), "failed to clear active session")
	}
	return errors.Wrap(g.kv.Set(ctx, ActiveKey, []byte(id)), "failed to save active session")
}

// =============================================================================
// STREAM
// =============================================================================

// Stream synthesizes a reply to the last user message of req.
func (g *Gateway) Stream(ctx context.Context, req gateway.ChatRequest) (gateway.EventSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prompt := req.Prompt()
	if prompt == "" {
		return nil, &gateway.APIError{Status: 400, Message: "no user message"}
	}

	g.mu.Lock()
	all, err := g.load(ctx)
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if indexOf(all, req.SessionID) < 0 {
		return nil, gateway.ErrNotFound
	}

	g.rndMu.Lock()
	pick := g.rnd.IntN(len(CannedReplies))
	g.rndMu.Unlock()

	reply := Synthesize(prompt, pick)
	g.logger.Debug("Synthesizing reply",
		zap.String("session_id", req.SessionID),
		zap.String("model", req.Model),
		zap.Int("reply_len", len(reply)))

	return newReplyStream(g, req.SessionID, prompt, SplitDeltas(reply)), nil
}

// delay returns the pause before the next delta.
func (g *Gateway) delay() time.Duration {
	lo, hi := g.pacing.Min, g.pacing.Max
	if hi <= lo {
		return lo
	}
	g.rndMu.Lock()
	defer g.rndMu.Unlock()
	return lo + time.Duration(g.rnd.Int64N(int64(hi-lo)))
}

// persistExchange appends the user message and the reply to the session and
// refreshes its UpdatedAt. An empty reply stores only the user message.
func (g *Gateway) persistExchange(ctx context.Context, sessionID string, user, reply model.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	all, err := g.load(ctx)
	if err != nil {
		return err
	}
	idx := indexOf(all, sessionID)
	if idx < 0 {
		return gateway.ErrNotFound
	}

	all[idx].Messages = append(all[idx].Messages, user)
	if reply.Content != "" {
		all[idx].Messages = append(all[idx].Messages, reply)
	}
	all[idx].Touch(g.now())
	return g.save(ctx, all)
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func (g *Gateway) load(ctx context.Context) ([]model.Session, error) {
	raw, err := g.kv.Get(ctx, SessionsKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return []model.Session{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load sessions")
	}

	var all []model.Session
	if err := json.Unmarshal(raw, &all); err != nil {
		// Unreadable data starts an empty list; the next write replaces it.
		g.logger.Warn("Discarding unreadable session data", zap.Error(err))
		return []model.Session{}, nil
	}
	return all, nil
}

func (g *Gateway) save(ctx context.Context, all []model.Session) error {
	for i := range all {
		if all[i].Messages == nil {
			all[i].Messages = []model.Message{}
		}
	}
	data, err := json.Marshal(all)
	if err != nil {
		return errors.Wrap(err, "failed to encode sessions")
	}
	return errors.Wrap(g.kv.Set(ctx, SessionsKey, data), "failed to save sessions")
}

func indexOf(all []model.Session, id string) int {
	for i := range all {
		if all[i].ID == id {
			return i
		}
	}
	return -1
}
