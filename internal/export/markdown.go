// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/util"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter renders a transcript as Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// frontMatter is marshaled by yaml.v3 so titles with quotes, colons or
// newlines stay valid YAML.
type frontMatter struct {
	Title     string `yaml:"title"`
	Model     string `yaml:"model"`
	Date      string `yaml:"date"`
	Updated   string `yaml:"updated"`
	Messages  int    `yaml:"messages"`
	Exported  string `yaml:"exported"`
	Generator string `yaml:"generator"`
}

// Export renders t. Empty assistant placeholders are skipped.
func (e *MarkdownExporter) Export(t Transcript) ([]byte, error) {
	s := t.Session
	if s.CreatedAt.IsZero() {
		return nil, errors.New("session has no creation timestamp")
	}
	msgs := visible(t.Messages)
	if len(msgs) == 0 {
		return nil, errors.New("session has no messages")
	}

	var sb strings.Builder
	modelLabel := model.LabelFor(e.options.Catalog, s.Model)

	if e.options.IncludeMetadata {
		fm, err := yaml.Marshal(frontMatter{
			Title:     s.Title,
			Model:     s.Model,
			Date:      s.CreatedAt.Format(time.RFC3339),
			Updated:   s.UpdatedAt.Format(time.RFC3339),
			Messages:  len(msgs),
			Exported:  e.options.now().Format(time.RFC3339),
			Generator: "streamchat",
		})
		if err != nil {
			return nil, errors.Wrap(err, "front matter")
		}
		sb.WriteString("---\n")
		sb.Write(fm)
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(util.OneLine(s.Title)))

	if e.options.IncludeMetadata {
		fmt.Fprintf(&sb, "- **Modello**: %s\n", modelLabel)
		fmt.Fprintf(&sb, "- **Creata**: %s\n", formatTimestamp(s.CreatedAt))
		fmt.Fprintf(&sb, "- **Aggiornata**: %s\n", formatTimestamp(s.UpdatedAt))
		fmt.Fprintf(&sb, "- **Messaggi**: %d\n", len(msgs))
		sb.WriteString("\n---\n\n")
	}

	for i, msg := range msgs {
		heading := msg.Role.DisplayName()
		if e.options.IncludeTimestamps && !msg.CreatedAt.IsZero() {
			heading += " · " + formatTimestamp(msg.CreatedAt)
		}
		fmt.Fprintf(&sb, "### %s\n\n", heading)
		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n")
		if i < len(msgs)-1 {
			sb.WriteString("\n")
		}
	}
	return []byte(sb.String()), nil
}

// FileExtension returns ".md".
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// visible drops assistant messages that never received content.
func visible(msgs []model.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == model.RoleAssistant && strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	return strings.NewReplacer(
		"#", "\\#",
		"*", "\\*",
		"_", "\\_",
		"[", "\\[",
		"]", "\\]",
	).Replace(s)
}
