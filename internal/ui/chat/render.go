// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/ui/styles"
)

// =============================================================================
// MESSAGE RENDERER
// =============================================================================

type cachedRender struct {
	content string
	out     string
}

// renderer turns a message list into the viewport content. Finished messages
// are rendered as markdown once and cached by id; the streaming message is
// drawn as plain text so partial markdown never flickers.
type renderer struct {
	theme    *styles.Theme
	markdown bool

	width int
	md    *glamour.TermRenderer
	cache map[string]cachedRender
}

func newRenderer(theme *styles.Theme, markdown bool) *renderer {
	return &renderer{
		theme:    theme,
		markdown: markdown,
		cache:    make(map[string]cachedRender),
	}
}

// setWidth rebuilds the markdown renderer when the wrap width changes.
func (r *renderer) setWidth(width int) {
	if width < 10 {
		width = 10
	}
	if width == r.width && (r.md != nil || !r.markdown) {
		return
	}
	r.width = width
	r.cache = make(map[string]cachedRender)
	r.md = nil
	if !r.markdown {
		return
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(r.theme.MarkdownStyle()),
		glamour.WithWordWrap(width),
	)
	if err == nil {
		r.md = md
	}
}

// Render draws msgs. streamingID names the message still receiving deltas,
// or is empty.
func (r *renderer) Render(msgs []model.Message, streamingID string) string {
	if len(msgs) == 0 {
		return r.theme.Empty.Render("Nessun messaggio. Scrivi qualcosa per iniziare.")
	}

	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		label := r.theme.UserLabel
		if msg.Role == model.RoleAssistant {
			label = r.theme.AssistantLabel
		}
		b.WriteString(label.Render(msg.Role.DisplayName()))
		b.WriteString("\n")

		if msg.ID == streamingID {
			b.WriteString(r.renderStreaming(msg.Content))
		} else {
			b.WriteString(r.renderFinished(msg))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (r *renderer) renderStreaming(content string) string {
	body := r.plain(content) + r.theme.Cursor.Render("▌")
	return r.theme.MessageBody.Render(body)
}

func (r *renderer) renderFinished(msg model.Message) string {
	if c, ok := r.cache[msg.ID]; ok && c.content == msg.Content {
		return c.out
	}

	out := ""
	if r.md != nil && msg.Role == model.RoleAssistant {
		if rendered, err := r.md.Render(msg.Content); err == nil {
			out = strings.Trim(rendered, "\n")
		}
	}
	if out == "" {
		out = r.theme.MessageBody.Render(r.plain(msg.Content))
	}
	r.cache[msg.ID] = cachedRender{content: msg.Content, out: out}
	return out
}

func (r *renderer) plain(content string) string {
	width := r.width - r.theme.MessageBody.GetHorizontalFrameSize()
	if width <= 0 {
		return content
	}
	return lipgloss.NewStyle().Width(width).Render(content)
}

// forget drops cached renders that are not in msgs.
func (r *renderer) forget(msgs []model.Message) {
	if len(r.cache) <= len(msgs) {
		return
	}
	keep := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		keep[m.ID] = struct{}{}
	}
	for id := range r.cache {
		if _, ok := keep[id]; !ok {
			delete(r.cache, id)
		}
	}
}
