// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/config"
	uichat "github.com/jeranaias/streamchat/internal/ui/chat"
	"github.com/jeranaias/streamchat/internal/ui/styles"
)

// exitGrace bounds how long the TUI waits for a canceled reply to settle
// before closing storage.
const exitGrace = 3 * time.Second

// runTUI starts the full-screen chat interface.
func runTUI(ctx context.Context, opts *globalOptions) error {
	if !IsStdoutTTY() {
		return &UsageError{Command: "tui", Reason: "stdout is not a terminal; use 'streamchat ask' instead"}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bridge := uichat.NewBridge()
	app, err := openApp(ctx, opts, appOptions{notify: bridge.Notify})
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Store.Load(ctx); err != nil {
		return errors.Wrap(err, "failed to load sessions")
	}
	orch := app.NewOrchestrator(bridge.Observe)

	cfg := app.Config
	m := uichat.New(uichat.Options{
		Store:        app.Store,
		Orchestrator: orch,
		Bridge:       bridge,
		Theme:        styles.NewTheme(cfg.UI.NoColor),
		Logger:       app.Logger,
		Context:      ctx,
		Models:       cfg.Models,
		SidebarWidth: cfg.UI.SidebarWidth,
		Markdown:     cfg.UI.Markdown,
	})

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	if path := opts.resolvedConfigPath(); path != "" {
		go func() {
			err := config.Watch(ctx, path, func(next *config.Config, err error) {
				if err != nil {
					app.Logger.Warn("Config reload failed", zap.Error(err))
					return
				}
				p.Send(uichat.CatalogMsg{Models: next.Models})
			})
			if err != nil {
				app.Logger.Warn("Config watcher stopped", zap.Error(err))
			}
		}()
	}

	_, runErr := p.Run()
	bridge.Close()

	if ex := orch.Current(); ex != nil {
		ex.Cancel()
		select {
		case <-ex.Done():
		case <-time.After(exitGrace):
			app.Logger.Warn("Reply did not stop before exit", zap.String("exchange_id", ex.ID()))
		}
	}

	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return errors.Wrap(runErr, "tui failed")
	}
	return nil
}
