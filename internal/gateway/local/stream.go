// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package local

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/sse"
)

// persistTimeout bounds the write of a partial reply on Close, which runs
// after the caller's context is usually already canceled.
const persistTimeout = 5 * time.Second

// replyStream hands out the deltas of one synthesized reply.
type replyStream struct {
	gw        *Gateway
	sessionID string
	user      model.Message
	replyID   string
	deltas    []string

	next      int
	sent      strings.Builder
	persisted bool
	done      bool
	err       error

	closeOnce sync.Once
	closeErr  error
}

func newReplyStream(gw *Gateway, sessionID, prompt string, deltas []string) *replyStream {
	return &replyStream{
		gw:        gw,
		sessionID: sessionID,
		user:      model.NewUserMessage(sessionID, prompt, gw.now()),
		replyID:   uuid.NewString(),
		deltas:    deltas,
	}
}

// Next returns the next delta after the pacing delay, then the end event once
// the exchange has been persisted.
func (s *replyStream) Next(ctx context.Context) (sse.Event, error) {
	if s.err != nil {
		return sse.Event{}, s.err
	}
	if s.done {
		return sse.Event{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return sse.Event{}, err
	}

	if s.next < len(s.deltas) {
		if d := s.gw.delay(); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return sse.Event{}, ctx.Err()
			case <-timer.C:
			}
		}
		delta := s.deltas[s.next]
		s.next++
		s.sent.WriteString(delta)
		return sse.Chunk(delta), nil
	}

	if err := s.persist(ctx); err != nil {
		s.err = err
		return sse.Event{}, err
	}
	s.done = true
	return sse.End(s.replyID), nil
}

// Close stores whatever was sent if the reply never reached its end.
func (s *replyStream) Close() error {
	s.closeOnce.Do(func() {
		if s.persisted {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.persist(ctx); err != nil {
			s.gw.logger.Warn("Failed to persist partial reply",
				zap.String("session_id", s.sessionID),
				zap.Error(err))
			s.closeErr = err
		}
	})
	return s.closeErr
}

func (s *replyStream) persist(ctx context.Context) error {
	if s.persisted {
		return nil
	}
	reply := model.Message{
		ID:        s.replyID,
		SessionID: s.sessionID,
		Role:      model.RoleAssistant,
		Content:   s.sent.String(),
		CreatedAt: s.gw.now(),
	}
	if err := s.gw.persistExchange(ctx, s.sessionID, s.user, reply); err != nil {
		return err
	}
	s.persisted = true
	return nil
}
