// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the bubbletea chat screen.
//
// The screen has a session sidebar, a header with the session title and
// model, the message viewport and a composer. All state lives in the session
// store; the model only keeps view state and re-reads the store when it
// renders. While a reply streams, renders are coalesced on a 33ms frame tick.
//
// Orchestrator updates and store notices arrive through a Bridge, which the
// caller wires as the orchestrator observer and store notifier before the
// program starts.
package chat
