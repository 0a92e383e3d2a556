// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/streamchat/internal/model"
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the chat screen.
func (m Model) View() string {
	if !m.ready {
		return "Caricamento..."
	}

	main := lipgloss.JoinVertical(lipgloss.Left,
		m.viewHeader(),
		m.viewport.View(),
		m.viewInput(),
		m.viewStatus(),
	)
	if !m.showSidebar() {
		return main
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, m.viewSidebar(), main)
}

func (m Model) showSidebar() bool {
	return m.width >= 2*m.sidebarWidth
}

func (m Model) mainWidth() int {
	if m.showSidebar() {
		return m.width - m.sidebarWidth
	}
	return m.width
}

// =============================================================================
// SIDEBAR
// =============================================================================

func (m Model) viewSidebar() string {
	inner := m.sidebarWidth - m.theme.Sidebar.GetHorizontalFrameSize()
	if inner < 4 {
		inner = 4
	}

	streamingID := ""
	if ex := m.orch.Current(); ex != nil && m.streaming {
		streamingID = ex.SessionID()
	}
	activeID := m.store.ActiveID()

	lines := []string{m.theme.SidebarTitle.Render("Chat")}
	for _, s := range m.store.Sessions() {
		badge := ""
		width := inner
		if s.ID == streamingID {
			badge = " " + m.theme.StreamingBadge.Render("●")
			width -= 2
		}
		title := runewidth.Truncate(s.Title, width, "…")
		style := m.theme.SessionItem
		if s.ID == activeID {
			style = m.theme.SessionActive
		}
		lines = append(lines, style.Render(title)+badge)
		lines = append(lines, m.theme.SessionMeta.Render(runewidth.Truncate(model.LabelFor(m.catalog, s.Model), inner, "…")))
	}

	return m.theme.Sidebar.
		Width(inner).
		Height(max(m.height-m.theme.Sidebar.GetVerticalFrameSize(), 1)).
		Render(strings.Join(lines, "\n"))
}

// =============================================================================
// HEADER
// =============================================================================

func (m Model) viewHeader() string {
	active, ok := m.store.Active()
	if !ok {
		return m.theme.Header.Width(m.mainWidth()).Render(m.theme.HeaderTitle.Render("streamchat"))
	}
	label := m.theme.HeaderModel.Render(model.LabelFor(m.catalog, active.Model))
	room := m.mainWidth() - lipgloss.Width(label) - 3
	title := m.theme.HeaderTitle.Render(runewidth.Truncate(active.Title, max(room, 1), "…"))
	return m.theme.Header.Width(m.mainWidth()).Render(title + "  " + label)
}

// =============================================================================
// INPUT
// =============================================================================

func (m Model) viewInput() string {
	width := m.mainWidth() - m.theme.Composer.GetHorizontalFrameSize()
	if m.mode == modeTitle {
		return m.theme.TitleEditor.
			Width(width).
			Height(composerHeight).
			Render(m.title.View())
	}
	style := m.theme.Composer
	if m.streaming {
		style = m.theme.ComposerBlurred
	}
	return style.Width(width).Render(m.composer.View())
}

// =============================================================================
// STATUS LINE
// =============================================================================

func (m Model) viewStatus() string {
	width := m.mainWidth()
	switch {
	case m.notice != "":
		style := m.theme.StatusInfo
		if m.noticeIsErr {
			style = m.theme.StatusError
		}
		return m.theme.StatusBar.Width(width).Render(style.Render(runewidth.Truncate(m.notice, width, "…")))
	case m.streaming:
		return m.theme.StatusBar.Width(width).Render(m.spinner.View() + " " + m.theme.ShortcutDesc.Render("esc per interrompere"))
	}
	return m.theme.StatusBar.Width(width).Render(m.help.ShortHelpView(m.keys.ShortHelp()))
}

// =============================================================================
// LAYOUT
// =============================================================================

// layout sizes the widgets after a resize.
func (m *Model) layout() {
	width := m.mainWidth()
	inputWidth := width - m.theme.Composer.GetHorizontalFrameSize()
	m.composer.SetWidth(max(inputWidth, 10))
	m.title.Width = max(inputWidth-lipgloss.Width(m.title.Prompt)-1, 10)
	m.help.Width = width

	// header (2 lines), composer with its border, status line
	height := m.height - 2 - (composerHeight + 2) - 1
	m.viewport.Width = width
	m.viewport.Height = max(height, 1)
	m.render.setWidth(width - 2)
}

// refresh re-renders the active session into the viewport.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	msgs := m.store.Messages(m.store.ActiveID())
	streamingID := ""
	if ex := m.orch.Current(); ex != nil && m.streaming && ex.SessionID() == m.store.ActiveID() {
		streamingID = ex.MessageID()
	}
	m.render.forget(msgs)
	m.viewport.SetContent(m.render.Render(msgs, streamingID))
	if m.follow {
		m.viewport.GotoBottom()
	}
}
