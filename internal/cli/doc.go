// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the streamchat command line.
//
// Running streamchat with no subcommand opens the TUI. The other commands
// cover headless use (ask, chat), session maintenance (sessions), the
// reference backend (serve, token) and configuration (config).
//
// Every command builds the same application graph: config, logger, gateway,
// session store and orchestrator. Only the front end differs.
package cli
