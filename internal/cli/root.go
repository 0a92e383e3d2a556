// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/streamchat/internal/gateway"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	mode       string
	verbose    bool
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, ErrorStyle.Render("Error:"), err)
		if gateway.IsUnauthorized(err) {
			fmt.Fprintln(stderr, DimStyle.Render("Check remote.token or remote.cookie_value, or sign in again."))
		}
		return ExitCode(err)
	}
	return ExitSuccess
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "streamchat",
		Short:         "Streaming chat client",
		Long:          "streamchat talks to a chat backend over HTTP and SSE, or runs standalone with locally stored sessions.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ~/.streamchat/config.toml)")
	flags.StringVar(&opts.mode, "mode", "", "gateway mode: remote or standalone")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging (also to stderr outside the TUI)")

	root.AddCommand(
		newTUICommand(opts),
		newAskCommand(opts),
		newChatCommand(opts),
		newSessionsCommand(opts),
		newServeCommand(opts),
		newTokenCommand(opts),
		newConfigCommand(opts),
	)
	return root
}

func newTUICommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive chat interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), opts)
		},
	}
}
