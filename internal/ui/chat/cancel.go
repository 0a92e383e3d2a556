// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync"
)

// =============================================================================
// OPERATION CONTEXT (THREAD-SAFE)
// =============================================================================

// cancelManager owns the context that session operations and exchanges run
// under. Quitting cancels it, which stops a streaming reply and any gateway
// call still in flight.
// IMPORTANT: used as a pointer so model copies made by Update share it.
type cancelManager struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func newCancelManager(parent context.Context) *cancelManager {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &cancelManager{ctx: ctx, cancel: cancel}
}

// context returns the operation context.
func (cm *cancelManager) context() context.Context {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.ctx
}

// stop cancels the operation context. Safe to call more than once.
func (cm *cancelManager) stop() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.cancel()
}
