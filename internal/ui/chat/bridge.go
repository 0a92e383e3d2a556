// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	core "github.com/jeranaias/streamchat/internal/chat"
	"github.com/jeranaias/streamchat/internal/model"
)

// bridgeBuffer is the number of pending delta updates kept for the program.
const bridgeBuffer = 256

// =============================================================================
// MESSAGES
// =============================================================================

// ExchangeMsg carries one orchestrator update into the program.
type ExchangeMsg core.Update

// NoticeMsg carries an error that should be shown once, such as a mutation
// the backend did not confirm.
type NoticeMsg struct {
	Err error
}

// CatalogMsg replaces the selectable model list, after a config reload.
type CatalogMsg struct {
	Models []model.ModelOption
}

// =============================================================================
// BRIDGE
// =============================================================================

// Bridge moves orchestrator and store callbacks, which run on their own
// goroutines, into the bubbletea loop. Deltas may be dropped when the program
// falls behind because the view re-reads content from the store; terminal
// updates and notices are never dropped while the bridge is open.
type Bridge struct {
	updates   chan core.Update
	notices   chan error
	done      chan struct{}
	closeOnce sync.Once
}

// NewBridge creates an open bridge.
func NewBridge() *Bridge {
	return &Bridge{
		updates: make(chan core.Update, bridgeBuffer),
		notices: make(chan error, 16),
		done:    make(chan struct{}),
	}
}

// Observe is the orchestrator observer.
func (b *Bridge) Observe(u core.Update) {
	if !u.Status.Terminal() {
		select {
		case b.updates <- u:
		default:
		}
		return
	}
	select {
	case b.updates <- u:
	case <-b.done:
	}
}

// Notify is the session store notifier.
func (b *Bridge) Notify(err error) {
	select {
	case b.notices <- err:
	case <-b.done:
	}
}

// Close releases senders blocked on a program that has exited.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// Listen returns a command that waits for the next update or notice.
func (b *Bridge) Listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case u := <-b.updates:
			return ExchangeMsg(u)
		case err := <-b.notices:
			return NoticeMsg{Err: err}
		case <-b.done:
			return nil
		}
	}
}
