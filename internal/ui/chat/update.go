// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	core "github.com/jeranaias/streamchat/internal/chat"
	"github.com/jeranaias/streamchat/internal/gateway"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/util"
)

// =============================================================================
// INTERNAL MESSAGES
// =============================================================================

type frameMsg time.Time

type opDoneMsg struct {
	op  string
	err error
}

type copiedMsg struct {
	chars int
	err   error
}

type clearNoticeMsg struct {
	seq int
}

// =============================================================================
// UPDATE
// =============================================================================

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.layout()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case ExchangeMsg:
		return m.handleExchange(core.Update(msg))

	case NoticeMsg:
		cmd := m.setNotice(describeError(msg.Err), true)
		return m, tea.Batch(cmd, m.bridge.Listen())

	case CatalogMsg:
		if len(msg.Models) > 0 {
			m.catalog = msg.Models
			m.logger.Debug("Model catalog reloaded", zap.Int("models", len(msg.Models)))
		}
		return m, nil

	case frameMsg:
		m.refresh()
		if m.streaming {
			return m, frame()
		}
		m.ticking = false
		return m, nil

	case opDoneMsg:
		if m.pending > 0 {
			m.pending--
		}
		m.refresh()
		var rec *gateway.ReconcileError
		if msg.err != nil && !errors.As(msg.err, &rec) {
			// Reconcile errors already reached the status line through the
			// store notifier.
			m.logger.Warn("Session operation failed", zap.String("op", msg.op), zap.Error(msg.err))
			return m, m.setNotice(describeError(msg.err), true)
		}
		return m, nil

	case copiedMsg:
		if msg.err != nil {
			return m, m.setNotice("Copia non riuscita: "+msg.err.Error(), true)
		}
		return m, m.setNotice(fmt.Sprintf("Risposta copiata (%d caratteri)", msg.chars), false)

	case clearNoticeMsg:
		if msg.seq == m.noticeSeq {
			m.notice = ""
			m.noticeIsErr = false
		}
		return m, nil

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m.updateInput(msg)
}

// updateInput forwards msg to the focused input.
func (m Model) updateInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	if m.mode == modeTitle {
		m.title, cmd = m.title.Update(msg)
	} else {
		m.composer, cmd = m.composer.Update(msg)
	}
	return m, cmd
}

// =============================================================================
// KEYS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m.quit()
	}
	if m.mode == modeTitle {
		return m.handleTitleKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Stop):
		if ex := m.orch.Current(); ex != nil {
			ex.Cancel()
		}
		return m, nil

	case key.Matches(msg, m.keys.Send):
		return m.send()

	case key.Matches(msg, m.keys.NewChat):
		if cmd := m.blockWhileStreaming(); cmd != nil {
			return m, cmd
		}
		return m, m.runOp("create", func(ctx context.Context) error {
			_, err := m.store.Create(ctx)
			return err
		})

	case key.Matches(msg, m.keys.Delete):
		if cmd := m.blockWhileStreaming(); cmd != nil {
			return m, cmd
		}
		id := m.store.ActiveID()
		if id == "" {
			return m, nil
		}
		return m, m.runOp("delete", func(ctx context.Context) error {
			if err := m.store.Remove(ctx, id); err != nil {
				return err
			}
			if m.store.Len() == 0 {
				_, err := m.store.Create(ctx)
				return err
			}
			return nil
		})

	case key.Matches(msg, m.keys.PrevSession):
		return m.switchSession(-1)

	case key.Matches(msg, m.keys.NextSession):
		return m.switchSession(1)

	case key.Matches(msg, m.keys.Regenerate):
		if m.streaming {
			return m, nil
		}
		if _, err := m.orch.Regenerate(m.ops.context(), m.store.ActiveID()); err != nil {
			return m, m.setNotice(describeError(err), true)
		}
		return m.beginStreaming()

	case key.Matches(msg, m.keys.EditTitle):
		active, ok := m.store.Active()
		if !ok {
			return m, nil
		}
		m.mode = modeTitle
		m.composer.Blur()
		m.title.SetValue(active.Title)
		m.title.CursorEnd()
		return m, tea.Batch(m.title.Focus(), textinput.Blink)

	case key.Matches(msg, m.keys.CycleModel):
		active, ok := m.store.Active()
		if !ok {
			return m, nil
		}
		next := model.NextModel(m.catalog, active.Model)
		if next == active.Model {
			return m, nil
		}
		return m, m.runOp("model", func(ctx context.Context) error {
			_, err := m.store.SetModel(ctx, active.ID, next)
			return err
		})

	case key.Matches(msg, m.keys.Copy):
		return m.copyLastReply()

	case key.Matches(msg, m.keys.ScrollUp):
		m.viewport.HalfViewUp()
		m.follow = false
		return m, nil

	case key.Matches(msg, m.keys.ScrollDown):
		m.viewport.HalfViewDown()
		m.follow = m.viewport.AtBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

func (m Model) handleTitleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.exitTitleMode()
		return m, nil

	case tea.KeyEnter:
		title := strings.TrimSpace(m.title.Value())
		m.exitTitleMode()
		if title == "" {
			return m, m.setNotice("Il titolo non può essere vuoto", true)
		}
		id := m.store.ActiveID()
		return m, m.runOp("rename", func(ctx context.Context) error {
			_, err := m.store.Rename(ctx, id, title)
			return err
		})
	}

	var cmd tea.Cmd
	m.title, cmd = m.title.Update(msg)
	return m, cmd
}

func (m *Model) exitTitleMode() {
	m.mode = modeCompose
	m.title.Blur()
	m.title.Reset()
	m.composer.Focus()
}

// =============================================================================
// ACTIONS
// =============================================================================

// send begins an exchange with the composer content. It does nothing while a
// reply is streaming.
func (m Model) send() (tea.Model, tea.Cmd) {
	if m.streaming || m.orch.Active() {
		return m, nil
	}
	text := strings.TrimSpace(m.composer.Value())
	if text == "" {
		return m, nil
	}
	sessionID := m.store.ActiveID()
	if sessionID == "" {
		return m, m.setNotice("Nessuna chat attiva: premi ctrl+n", true)
	}

	if _, err := m.orch.Begin(m.ops.context(), core.Request{SessionID: sessionID, Prompt: text}); err != nil {
		return m, m.setNotice(describeError(err), true)
	}
	m.composer.Reset()
	return m.beginStreaming()
}

func (m Model) beginStreaming() (tea.Model, tea.Cmd) {
	m.streaming = true
	m.follow = true
	m.refresh()

	cmds := []tea.Cmd{m.spinner.Tick}
	if !m.ticking {
		m.ticking = true
		cmds = append(cmds, frame())
	}
	return m, tea.Batch(cmds...)
}

func (m Model) handleExchange(u core.Update) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{m.bridge.Listen()}
	if !u.Status.Terminal() {
		// Content is read from the store on the next frame.
		return m, tea.Batch(cmds...)
	}

	m.streaming = false
	switch u.Status {
	case core.StatusFailed:
		cmds = append(cmds, m.setNotice(describeError(u.Err), true))
	case core.StatusCanceled:
		cmds = append(cmds, m.setNotice("Generazione interrotta", false))
	}
	m.refresh()
	return m, tea.Batch(cmds...)
}

// switchSession selects the session delta places away in the sidebar.
func (m Model) switchSession(delta int) (tea.Model, tea.Cmd) {
	if cmd := m.blockWhileStreaming(); cmd != nil {
		return m, cmd
	}
	sessions := m.store.Sessions()
	if len(sessions) == 0 {
		return m, nil
	}
	idx := 0
	activeID := m.store.ActiveID()
	for i, s := range sessions {
		if s.ID == activeID {
			idx = i
			break
		}
	}
	next := idx + delta
	if next < 0 || next >= len(sessions) {
		return m, nil
	}
	id := sessions[next].ID
	m.follow = true
	return m, m.runOp("select", func(ctx context.Context) error {
		return m.store.Select(ctx, id)
	})
}

func (m Model) copyLastReply() (tea.Model, tea.Cmd) {
	last, ok := model.LastOfRole(m.store.Messages(m.store.ActiveID()), model.RoleAssistant)
	if !ok || strings.TrimSpace(last.Content) == "" {
		return m, m.setNotice("Nessuna risposta da copiare", true)
	}
	content := last.Content
	return m, func() tea.Msg {
		return copiedMsg{chars: utf8.RuneCountInString(content), err: clipboard.WriteAll(content)}
	}
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	if ex := m.orch.Current(); ex != nil {
		ex.Cancel()
	}
	m.ops.stop()
	return m, tea.Quit
}

// =============================================================================
// HELPERS
// =============================================================================

// blockWhileStreaming returns a notice command when a reply is streaming.
// Switching, creating or deleting sessions then would reload the message
// list under the placeholder.
func (m *Model) blockWhileStreaming() tea.Cmd {
	if !m.streaming && !m.orch.Active() {
		return nil
	}
	return m.setNotice("Attendi la fine della risposta (esc per interrompere)", true)
}

// runOp runs a session operation off the update loop.
func (m *Model) runOp(name string, fn func(ctx context.Context) error) tea.Cmd {
	m.pending++
	ctx := m.ops.context()
	return func() tea.Msg {
		return opDoneMsg{op: name, err: fn(ctx)}
	}
}

// setNotice shows text in the status line until it expires or is replaced.
func (m *Model) setNotice(text string, isErr bool) tea.Cmd {
	m.noticeSeq++
	m.notice = text
	m.noticeIsErr = isErr
	seq := m.noticeSeq
	return tea.Tick(noticeTTL, func(time.Time) tea.Msg {
		return clearNoticeMsg{seq: seq}
	})
}

func frame() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

// describeError turns an error into a one-line status text.
func describeError(err error) string {
	switch {
	case err == nil:
		return ""
	case gateway.IsUnauthorized(err):
		return "Accesso scaduto: aggiorna remote.token o accedi di nuovo"
	case errors.Is(err, gateway.ErrNotFound):
		return "Chat non trovata"
	case errors.Is(err, gateway.ErrRateLimited):
		return "Troppe richieste, riprova tra poco"
	case errors.Is(err, core.ErrExchangeActive):
		return "Risposta già in corso"
	case errors.Is(err, core.ErrNothingToRegenerate):
		return "Nessun messaggio da rigenerare"
	}
	return util.TruncateRunes(util.OneLine(err.Error()), 160)
}
