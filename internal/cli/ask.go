// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/streamchat/internal/chat"
)

// maxPromptBytes caps a prompt read from stdin.
const maxPromptBytes = 1 << 20

type askOptions struct {
	sessionID string
	model     string
}

func newAskCommand(opts *globalOptions) *cobra.Command {
	var ao askOptions

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send one prompt and stream the reply to stdout",
		Long: `Send one prompt and stream the reply to stdout.

The prompt is taken from the arguments, or from stdin when it is piped.
A new session is created unless --session names an existing one or the
most recent session is still empty.
Ctrl-C stops the reply and keeps what was received.`,
		Example: `  streamchat ask "spiegami il protocollo SSE"
  echo "riassumi" | streamchat ask --session 3f2a...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stderr := cmd.ErrOrStderr()
			app, err := openApp(ctx, opts, appOptions{
				console: true,
				notify:  func(err error) { printNotice(stderr, err) },
			})
			if err != nil {
				return err
			}
			defer app.Close()

			return runAsk(ctx, app, prompt, ao, cmd.OutOrStdout(), stderr)
		},
	}

	cmd.Flags().StringVarP(&ao.sessionID, "session", "s", "", "send to this session instead of a new one")
	cmd.Flags().StringVarP(&ao.model, "model", "m", "", "reply model for the session")
	return cmd
}

// readPrompt joins args, or reads stdin when it is not a terminal.
func readPrompt(args []string, in io.Reader) (string, error) {
	if len(args) > 0 {
		if prompt := strings.TrimSpace(strings.Join(args, " ")); prompt != "" {
			return prompt, nil
		}
		return "", ErrNoPrompt
	}
	if in == nil || IsTerminal(in) {
		return "", ErrNoPrompt
	}
	data, err := io.ReadAll(io.LimitReader(in, maxPromptBytes))
	if err != nil {
		return "", errors.Wrap(err, "failed to read prompt from stdin")
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", ErrNoPrompt
	}
	return prompt, nil
}

// runAsk performs one exchange and streams the deltas to out.
func runAsk(ctx context.Context, app *App, prompt string, ao askOptions, out, errOut io.Writer) error {
	if err := app.Store.Load(ctx); err != nil {
		return errors.Wrap(err, "failed to load sessions")
	}

	sessionID := ao.sessionID
	if sessionID == "" && len(app.Store.Messages(app.Store.ActiveID())) == 0 {
		// An untouched session, such as the one Load creates on first run,
		// is used instead of leaving it behind empty.
		sessionID = app.Store.ActiveID()
	}
	if sessionID == "" {
		created, err := app.Store.Create(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to create session")
		}
		sessionID = created.ID
	} else if err := app.Store.Select(ctx, sessionID); err != nil {
		return errors.Wrapf(err, "session %s", sessionID)
	}

	if ao.model != "" {
		if _, err := app.Store.SetModel(ctx, sessionID, ao.model); err != nil {
			printNotice(errOut, err)
		}
	}

	orch := app.NewOrchestrator(func(u chat.Update) {
		if u.Delta != "" {
			fmt.Fprint(out, u.Delta)
		}
	})

	ex, err := orch.Begin(ctx, chat.Request{SessionID: sessionID, Prompt: prompt})
	if err != nil {
		return err
	}
	err = ex.Wait()
	fmt.Fprintln(out)

	if rerr := ex.ReconcileErr(); rerr != nil {
		printNotice(errOut, rerr)
	}
	switch ex.Status() {
	case chat.StatusCanceled:
		fmt.Fprintln(errOut, WarningStyle.Render("[Cancelled]"), DimStyle.Render("partial reply kept"))
		return nil
	case chat.StatusFailed:
		return err
	}
	return nil
}
