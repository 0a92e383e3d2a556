// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	core "github.com/jeranaias/streamchat/internal/chat"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/session"
	"github.com/jeranaias/streamchat/internal/ui/styles"
)

const (
	// frameInterval coalesces renders while a reply streams (about 30 fps).
	frameInterval = 33 * time.Millisecond

	// noticeTTL is how long a notice stays in the status line.
	noticeTTL = 6 * time.Second

	composerHeight = 3
	maxTitleLength = 200
	defaultSidebar = 28
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures the chat screen.
type Options struct {
	Store        *session.Store
	Orchestrator *core.Orchestrator
	Bridge       *Bridge
	Theme        *styles.Theme
	Logger       *zap.Logger

	// Context bounds every operation the screen starts.
	Context context.Context

	Models       []model.ModelOption
	SidebarWidth int
	Markdown     bool
}

// =============================================================================
// CHAT MODEL
// =============================================================================

type inputMode int

const (
	modeCompose inputMode = iota
	modeTitle
)

// Model is the bubbletea model of the chat screen.
type Model struct {
	store  *session.Store
	orch   *core.Orchestrator
	bridge *Bridge
	theme  *styles.Theme
	logger *zap.Logger
	keys   KeyMap
	ops    *cancelManager
	render *renderer

	catalog      []model.ModelOption
	sidebarWidth int

	composer textarea.Model
	title    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	help     help.Model

	mode   inputMode
	width  int
	height int
	ready  bool

	// streaming is true from Begin until the terminal update arrives
	streaming bool
	ticking   bool
	follow    bool

	// pending counts session operations still in flight
	pending int

	notice      string
	noticeIsErr bool
	noticeSeq   int
}

// New creates the chat screen.
func New(opts Options) Model {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Theme == nil {
		opts.Theme = styles.NewTheme(false)
	}
	if opts.Bridge == nil {
		opts.Bridge = NewBridge()
	}
	if opts.SidebarWidth <= 0 {
		opts.SidebarWidth = defaultSidebar
	}
	if len(opts.Models) == 0 {
		opts.Models = model.DefaultCatalog()
	}

	ta := textarea.New()
	ta.Placeholder = "Scrivi un messaggio..."
	ta.ShowLineNumbers = false
	ta.Prompt = ""
	ta.CharLimit = 32000
	ta.SetHeight(composerHeight)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter")
	ta.Focus()

	ti := textinput.New()
	ti.Prompt = "Titolo: "
	ti.CharLimit = maxTitleLength

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = opts.Theme.Cursor

	return Model{
		store:        opts.Store,
		orch:         opts.Orchestrator,
		bridge:       opts.Bridge,
		theme:        opts.Theme,
		logger:       opts.Logger,
		keys:         DefaultKeyMap(),
		ops:          newCancelManager(opts.Context),
		render:       newRenderer(opts.Theme, opts.Markdown),
		catalog:      opts.Models,
		sidebarWidth: opts.SidebarWidth,
		composer:     ta,
		title:        ti,
		viewport:     viewport.New(0, 0),
		spinner:      sp,
		help:         help.New(),
		follow:       true,
	}
}

// Init starts the cursor blink and the bridge listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.bridge.Listen())
}

// Streaming reports whether a reply is in progress.
func (m Model) Streaming() bool {
	return m.streaming
}

// Notice returns the text of the status line notice, if any.
func (m Model) Notice() string {
	return m.notice
}

// Catalog returns the selectable models.
func (m Model) Catalog() []model.ModelOption {
	return m.catalog
}
