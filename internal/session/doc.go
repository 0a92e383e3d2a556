// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the client's working copy of the session collection.
//
// The Store applies every mutation locally first and then confirms it with
// the gateway. Sessions are always ordered by UpdatedAt, most recent first,
// and the timestamps come from a strictly monotonic clock so no two sessions
// ever tie.
//
// # Reconciliation
//
//   - Create: the authoritative record replaces the optimistic one. A failed
//     create is rolled back.
//   - Update: a failure is reported through the notifier and the local edit
//     stays visible. Nothing is rolled back.
//   - Remove: the gateway goes first. Nothing changes locally on failure.
//   - Reconcile: full replace of a session's messages.
//
// The Store never holds its lock across a gateway call, so it is safe to use
// from the UI goroutine and the exchange goroutine at the same time.
package session
