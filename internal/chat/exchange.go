// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"strings"
	"sync"
)

// =============================================================================
// STATUS
// =============================================================================

// Status is the lifecycle state of an exchange.
type Status int

const (
	StatusStreaming Status = iota
	StatusCompleted
	StatusCanceled
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusStreaming:
		return "streaming"
	case StatusCompleted:
		return "completed"
	case StatusCanceled:
		return "canceled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the exchange has finished.
func (s Status) Terminal() bool {
	return s != StatusStreaming
}

// =============================================================================
// EXCHANGE
// =============================================================================

// Exchange is one prompt and its streamed reply.
type Exchange struct {
	id        string
	sessionID string
	messageID string
	prompt    string

	cancelFn context.CancelFunc
	done     chan struct{}

	mu           sync.Mutex
	status       Status
	content      strings.Builder
	err          error
	reconcileErr error
	replyID      string
}

// ID returns the exchange id.
func (e *Exchange) ID() string { return e.id }

// SessionID returns the session the exchange belongs to.
func (e *Exchange) SessionID() string { return e.sessionID }

// MessageID returns the id of the assistant placeholder receiving the reply.
func (e *Exchange) MessageID() string { return e.messageID }

// Prompt returns the user text that started the exchange.
func (e *Exchange) Prompt() string { return e.prompt }

// Cancel stops the exchange at its next read. Content received so far is
// kept. Calling Cancel after the exchange finished does nothing.
func (e *Exchange) Cancel() {
	e.cancelFn()
}

// Done is closed when the exchange reaches a terminal status.
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the exchange finishes. It returns the failure of a failed
// exchange and nil otherwise.
func (e *Exchange) Wait() error {
	<-e.done
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Status returns the current status.
func (e *Exchange) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Content returns the reply text received so far.
func (e *Exchange) Content() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.content.String()
}

// ReplyID returns the id the authority assigned to the reply, known once the
// exchange completed.
func (e *Exchange) ReplyID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replyID
}

// ReconcileErr returns the error of the reload that follows a completed
// exchange, if it failed.
func (e *Exchange) ReconcileErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconcileErr
}

func (e *Exchange) appendDelta(delta string) {
	e.mu.Lock()
	e.content.WriteString(delta)
	e.mu.Unlock()
}
