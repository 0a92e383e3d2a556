// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/streamchat/internal/export"
	"github.com/jeranaias/streamchat/internal/gateway"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/util"
)

// sessionsOutput is the JSON shape of "sessions show".
type sessionsOutput struct {
	Session  model.Session   `json:"session"`
	Messages []model.Message `json:"messages"`
}

func newSessionsCommand(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "List and manage sessions",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON")

	withApp := func(fn func(cmd *cobra.Command, app *App, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), opts, appOptions{console: true})
			if err != nil {
				return err
			}
			defer app.Close()
			return fn(cmd, app, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List sessions, most recent first",
			Args:    cobra.NoArgs,
			RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
				list, err := app.Gateway.ListSessions(cmd.Context())
				if err != nil {
					return err
				}
				model.SortByRecent(list)
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), list)
				}
				printSessionTable(cmd.OutOrStdout(), list, app.Config.Models)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print a session and its messages",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
				ctx := cmd.Context()
				s, err := lookupSession(cmd, app, args[0])
				if err != nil {
					return err
				}
				msgs, err := app.Gateway.ListMessages(ctx, s.ID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), sessionsOutput{Session: s, Messages: msgs})
				}
				printTranscript(cmd.OutOrStdout(), s, msgs, app.Config.Models)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "rename <id> <title>",
			Short: "Rename a session",
			Args:  cobra.MinimumNArgs(2),
			RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
				title := strings.TrimSpace(strings.Join(args[1:], " "))
				if title == "" {
					return &UsageError{Command: "sessions rename", Reason: "title cannot be empty"}
				}
				id, err := resolveID(cmd, app, args[0])
				if err != nil {
					return err
				}
				rec, err := app.Gateway.UpdateSession(cmd.Context(), id, model.TitlePatch(title))
				if err != nil {
					return err
				}
				return printUpdated(cmd.OutOrStdout(), rec, asJSON)
			}),
		},
		&cobra.Command{
			Use:   "model <id> <model>",
			Short: "Change the reply model of a session",
			Args:  cobra.ExactArgs(2),
			RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
				id, err := resolveID(cmd, app, args[0])
				if err != nil {
					return err
				}
				rec, err := app.Gateway.UpdateSession(cmd.Context(), id, model.ModelPatch(args[1]))
				if err != nil {
					return err
				}
				return printUpdated(cmd.OutOrStdout(), rec, asJSON)
			}),
		},
		newExportCommand(withApp),
		&cobra.Command{
			Use:     "delete <id>",
			Aliases: []string{"rm"},
			Short:   "Delete a session and its messages",
			Args:    cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
				id, err := resolveID(cmd, app, args[0])
				if err != nil {
					return err
				}
				if err := app.Gateway.DeleteSession(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
				return nil
			}),
		},
	)
	return cmd
}

// lookupSession finds the session named by id or a unique id prefix.
func lookupSession(cmd *cobra.Command, app *App, id string) (model.Session, error) {
	list, err := app.Gateway.ListSessions(cmd.Context())
	if err != nil {
		return model.Session{}, err
	}
	s, ok := findSession(list, id)
	if !ok {
		return model.Session{}, errors.Wrapf(gateway.ErrNotFound, "no single session matches %q", id)
	}
	return s, nil
}

func resolveID(cmd *cobra.Command, app *App, id string) (string, error) {
	s, err := lookupSession(cmd, app, id)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// findSession matches id exactly, or as a unique prefix.
func findSession(list []model.Session, id string) (model.Session, bool) {
	var match model.Session
	n := 0
	for _, s := range list {
		if s.ID == id {
			return s, true
		}
		if strings.HasPrefix(s.ID, id) {
			match = s
			n++
		}
	}
	return match, n == 1
}

func printSessionTable(w io.Writer, list []model.Session, catalog []model.ModelOption) {
	if len(list) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No sessions"))
		return
	}
	titleWidth := GetTerminalWidth() - 8 - 18 - 16 - 6
	if titleWidth < 12 {
		titleWidth = 12
	}
	for _, s := range list {
		fmt.Fprintf(w, "%s  %s  %s  %s\n",
			DimStyle.Render(shortID(s.ID)),
			util.PadWidth(util.OneLine(s.Title), titleWidth),
			util.PadWidth(model.LabelFor(catalog, s.Model), 16),
			DimStyle.Render(s.UpdatedAt.Local().Format("2006-01-02 15:04")))
	}
}

func printTranscript(w io.Writer, s model.Session, msgs []model.Message, catalog []model.ModelOption) {
	fmt.Fprintln(w, TitleStyle.Render(s.Title))
	fmt.Fprintf(w, "%s%s\n", RenderLabel("ID"), s.ID)
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Model"), model.LabelFor(catalog, s.Model))
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Updated"), s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintln(w, RenderSeparator(60))
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\n%s\n\n", LabelStyle.Render(m.Role.DisplayName()), m.Content)
	}
}

func printUpdated(w io.Writer, rec model.Session, asJSON bool) error {
	if asJSON {
		return writeJSON(w, rec)
	}
	fmt.Fprintf(w, "Updated %s: %s (%s)\n", shortID(rec.ID), rec.Title, rec.Model)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newExportCommand(withApp func(func(*cobra.Command, *App, []string) error) func(*cobra.Command, []string) error) *cobra.Command {
	var format, outDir string
	var noMeta bool

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a session transcript to a Markdown or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			s, err := lookupSession(cmd, app, args[0])
			if err != nil {
				return err
			}
			msgs, err := app.Gateway.ListMessages(cmd.Context(), s.ID)
			if err != nil {
				return err
			}

			opts := export.DefaultOptions()
			opts.OutputDir = outDir
			opts.Catalog = app.Config.Models
			opts.IncludeMetadata = !noMeta
			exporter, err := export.ForFormat(format, opts)
			if err != nil {
				return err
			}
			path, err := export.ToFile(export.Transcript{Session: s, Messages: msgs}, exporter, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&format, "format", "f", "md", "md or json")
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "output directory")
	cmd.Flags().BoolVar(&noMeta, "no-metadata", false, "omit the front matter and summary")
	return cmd
}
