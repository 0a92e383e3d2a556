// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components of the chat screen.
type Theme struct {
	// Terminal capabilities
	NoColor      bool
	IsDark       bool
	ColorProfile termenv.Profile

	// Sidebar
	Sidebar        lipgloss.Style
	SidebarTitle   lipgloss.Style
	SessionItem    lipgloss.Style
	SessionActive  lipgloss.Style
	SessionMeta    lipgloss.Style
	StreamingBadge lipgloss.Style

	// Header
	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	HeaderModel lipgloss.Style

	// Messages
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	MessageBody    lipgloss.Style
	Cursor         lipgloss.Style
	Empty          lipgloss.Style

	// Composer
	Composer        lipgloss.Style
	ComposerBlurred lipgloss.Style
	TitleEditor     lipgloss.Style

	// Status line
	StatusBar    lipgloss.Style
	StatusError  lipgloss.Style
	StatusInfo   lipgloss.Style
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style
}

// NewTheme creates a theme. With noColor the lipgloss renderer is switched to
// the ASCII profile, which also covers NO_COLOR set in the environment.
func NewTheme(noColor bool) *Theme {
	profile := termenv.ColorProfile()
	if noColor || termenv.EnvNoColor() {
		noColor = true
		profile = termenv.Ascii
	}
	lipgloss.SetColorProfile(profile)

	t := &Theme{
		NoColor:      noColor,
		IsDark:       termenv.HasDarkBackground(),
		ColorProfile: profile,
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.Sidebar = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderRight(true).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.SidebarTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan).
		MarginBottom(1)
	t.SessionItem = lipgloss.NewStyle().
		Foreground(TextSecondary)
	t.SessionActive = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan).
		Background(SurfaceBright)
	t.SessionMeta = lipgloss.NewStyle().
		Foreground(TextMuted)
	t.StreamingBadge = lipgloss.NewStyle().
		Foreground(Amber)

	t.Header = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(TextPrimary)
	t.HeaderModel = lipgloss.NewStyle().
		Foreground(Purple).
		Italic(true)

	t.UserLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)
	t.AssistantLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)
	t.MessageBody = lipgloss.NewStyle().
		Foreground(TextPrimary).
		PaddingLeft(2)
	t.Cursor = lipgloss.NewStyle().
		Foreground(Amber)
	t.Empty = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true).
		Padding(1, 2)

	t.Composer = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Purple)
	t.ComposerBlurred = t.Composer.
		BorderForeground(OverlayDim)
	t.TitleEditor = t.Composer.
		BorderForeground(Amber)

	t.StatusBar = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Background(SurfaceDim).
		Padding(0, 1)
	t.StatusError = t.StatusBar.
		Foreground(Rose).
		Bold(true)
	t.StatusInfo = t.StatusBar.
		Foreground(Emerald)
	t.ShortcutKey = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)
	t.ShortcutDesc = lipgloss.NewStyle().
		Foreground(TextMuted)
}

// MarkdownStyle returns the glamour standard style name matching the theme.
func (t *Theme) MarkdownStyle() string {
	switch {
	case t.NoColor:
		return "notty"
	case t.IsDark:
		return "dark"
	default:
		return "light"
	}
}
