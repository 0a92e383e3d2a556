// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/streamchat/internal/chat"
	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/util"
)

const replPrompt = "streamchat> "

func newChatCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Line-based chat with history and slash commands",
		Long: `Line-based chat with history and slash commands.

Type a message and press Enter. Ctrl-C while a reply streams stops it.
Commands: /new /sessions /use <n|id> /title <text> /model <id> /regen /delete /help /quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			app, err := openApp(ctx, opts, appOptions{
				notify: func(err error) { printNotice(out, err) },
			})
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Store.Load(ctx); err != nil {
				return errors.Wrap(err, "failed to load sessions")
			}

			interrupts := make(chan os.Signal, 1)
			signal.Notify(interrupts, os.Interrupt)
			defer signal.Stop(interrupts)

			r := newREPL(app, out, interrupts)
			return r.loop(ctx)
		},
	}
}

// =============================================================================
// REPL
// =============================================================================

// repl is the line front end. Command handling does not depend on liner so
// it can be driven directly.
type repl struct {
	app        *App
	orch       *chat.Orchestrator
	out        io.Writer
	interrupts <-chan os.Signal
}

func newREPL(app *App, out io.Writer, interrupts <-chan os.Signal) *repl {
	r := &repl{app: app, out: out, interrupts: interrupts}
	r.orch = app.NewOrchestrator(func(u chat.Update) {
		if u.Delta != "" {
			fmt.Fprint(r.out, u.Delta)
		}
	})
	return r
}

// loop reads lines until /quit, EOF or Ctrl-C at the prompt.
func (r *repl) loop(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyFile := historyPath()
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer saveHistory(line, historyFile)

	r.printActive()
	for {
		input, err := line.Prompt(replPrompt)
		if err != nil {
			// ErrPromptAborted (Ctrl-C) and io.EOF (Ctrl-D) both end the session.
			fmt.Fprintln(r.out)
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		quit, err := r.handle(ctx, input)
		if err != nil {
			fmt.Fprintln(r.out, ErrorStyle.Render("[Error]"), err)
		}
		if quit {
			return nil
		}
	}
}

// handle runs one input line. It reports whether the REPL should exit.
func (r *repl) handle(ctx context.Context, input string) (bool, error) {
	if !strings.HasPrefix(input, "/") {
		return false, r.send(ctx, input)
	}

	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	store := r.app.Store

	switch name {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help", "/?":
		r.printHelp()

	case "/new":
		if _, err := store.Create(ctx); err != nil {
			return false, err
		}
		r.printActive()

	case "/sessions", "/ls":
		r.printSessions()

	case "/use":
		id, err := r.resolveSession(arg)
		if err != nil {
			return false, err
		}
		if err := store.Select(ctx, id); err != nil {
			return false, err
		}
		r.printActive()
		r.printHistory(id)

	case "/title":
		if arg == "" {
			return false, &UsageError{Command: name, Reason: "title required"}
		}
		if _, err := store.Rename(ctx, store.ActiveID(), arg); err != nil {
			return false, err
		}
		r.printActive()

	case "/model":
		if arg == "" {
			for _, opt := range r.app.Config.Models {
				fmt.Fprintf(r.out, "  %-16s %s\n", opt.ID, DimStyle.Render(opt.Label))
			}
			return false, nil
		}
		if _, err := store.SetModel(ctx, store.ActiveID(), arg); err != nil {
			return false, err
		}
		r.printActive()

	case "/regen":
		ex, err := r.orch.Regenerate(ctx, store.ActiveID())
		if err != nil {
			return false, err
		}
		return false, r.wait(ex)

	case "/delete":
		if err := store.Remove(ctx, store.ActiveID()); err != nil {
			return false, err
		}
		if store.Len() == 0 {
			if _, err := store.Create(ctx); err != nil {
				return false, err
			}
		}
		r.printActive()

	default:
		return false, &UsageError{Command: name, Reason: "unknown command (try /help)"}
	}
	return false, nil
}

// send streams one exchange to out.
func (r *repl) send(ctx context.Context, prompt string) error {
	ex, err := r.orch.Begin(ctx, chat.Request{SessionID: r.app.Store.ActiveID(), Prompt: prompt})
	if err != nil {
		return err
	}
	return r.wait(ex)
}

// wait blocks until ex ends. An interrupt cancels it.
func (r *repl) wait(ex *chat.Exchange) error {
	select {
	case <-ex.Done():
	case <-r.interrupts:
		ex.Cancel()
		<-ex.Done()
	}
	fmt.Fprintln(r.out)

	if rerr := ex.ReconcileErr(); rerr != nil {
		printNotice(r.out, rerr)
	}
	if ex.Status() == chat.StatusCanceled {
		fmt.Fprintln(r.out, WarningStyle.Render("[Cancelled]"))
		return nil
	}
	return ex.Wait()
}

// resolveSession accepts a 1-based index into the session list or an id.
func (r *repl) resolveSession(arg string) (string, error) {
	if arg == "" {
		return "", &UsageError{Command: "/use", Reason: "session number or id required"}
	}
	sessions := r.app.Store.Sessions()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(sessions) {
			return "", &UsageError{Command: "/use", Reason: fmt.Sprintf("no session #%d", n)}
		}
		return sessions[n-1].ID, nil
	}
	return arg, nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func (r *repl) printActive() {
	s, ok := r.app.Store.Active()
	if !ok {
		fmt.Fprintln(r.out, DimStyle.Render("No active session"))
		return
	}
	fmt.Fprintf(r.out, "%s %s\n",
		TitleStyle.Render(s.Title),
		DimStyle.Render("("+model.LabelFor(r.app.Config.Models, s.Model)+")"))
}

func (r *repl) printSessions() {
	activeID := r.app.Store.ActiveID()
	for i, s := range r.app.Store.Sessions() {
		marker := "  "
		title := util.TruncateWidth(s.Title, 40)
		if s.ID == activeID {
			marker = HighlightStyle.Render("* ")
			title = HighlightStyle.Render(title)
		}
		fmt.Fprintf(r.out, "%s%2d. %s %s\n", marker, i+1, title,
			DimStyle.Render(s.UpdatedAt.Local().Format("2006-01-02 15:04")))
	}
}

func (r *repl) printHistory(id string) {
	for _, m := range r.app.Store.Messages(id) {
		fmt.Fprintf(r.out, "%s %s\n", LabelStyle.Render(m.Role.DisplayName()+":"), m.Content)
	}
}

func (r *repl) printHelp() {
	help := [][2]string{
		{"/new", "start a new session"},
		{"/sessions", "list sessions"},
		{"/use <n|id>", "switch session"},
		{"/title <text>", "rename the session"},
		{"/model [id]", "list models or set the session model"},
		{"/regen", "send the last prompt again"},
		{"/delete", "delete the session"},
		{"/quit", "exit"},
	}
	for _, h := range help {
		fmt.Fprintf(r.out, "  %s %s\n", RenderLabel(h[0]), DimStyle.Render(h[1]))
	}
}

// =============================================================================
// HISTORY
// =============================================================================

func historyPath() string {
	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "chat_history")
}

// saveHistory persists the line history with 0600 permissions.
func saveHistory(line *liner.State, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}
