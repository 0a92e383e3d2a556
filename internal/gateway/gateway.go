// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway defines the contract between the session store and the
// authority it reconciles against.
//
// Two implementations exist: remote (an HTTP API with a streamed chat
// endpoint) and local (key-value persistence with a locally synthesized
// reply stream). Both deliver replies as the same chunk/end event sequence,
// so the orchestrator does not know which one it is talking to.
package gateway

import (
	"context"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/sse"
)

// =============================================================================
// INTERFACES
// =============================================================================

// Sessions is the authoritative store of sessions and their messages.
type Sessions interface {
	// ListSessions returns every session, most recent first.
	ListSessions(ctx context.Context) ([]model.Session, error)
	// CreateSession persists s and returns the authoritative record.
	CreateSession(ctx context.Context, s model.Session) (model.Session, error)
	// UpdateSession applies p and returns the full updated record.
	UpdateSession(ctx context.Context, id string, p model.Patch) (model.Session, error)
	// DeleteSession removes the session and its messages.
	DeleteSession(ctx context.Context, id string) error
	// ListMessages returns the messages of a session in insertion order.
	ListMessages(ctx context.Context, id string) ([]model.Message, error)
}

// Streamer opens a reply stream for one chat exchange.
type Streamer interface {
	Stream(ctx context.Context, req ChatRequest) (EventSource, error)
}

// Gateway is everything the session store and orchestrator need.
type Gateway interface {
	Sessions
	Streamer
}

// EventSource yields reply events in arrival order. Next returns io.EOF after
// the last event and ctx.Err() once ctx is done. Close must always be called.
type EventSource interface {
	Next(ctx context.Context) (sse.Event, error)
	Close() error
}

// ActiveTracker is implemented by gateways that remember which session was
// selected last.
type ActiveTracker interface {
	ActiveSession(ctx context.Context) (string, error)
	SetActiveSession(ctx context.Context, id string) error
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ChatRequest is the body of a chat exchange.
type ChatRequest struct {
	SessionID string              `json:"sessionId" validate:"required"`
	Model     string              `json:"model" validate:"required"`
	Messages  []model.ChatMessage `json:"messages" validate:"required,min=1,dive"`
}

// Prompt returns the content of the last user message in the request.
func (r ChatRequest) Prompt() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == model.RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}
