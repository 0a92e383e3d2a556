// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat drives one chat exchange at a time: it records the prompt,
// opens the reply stream and folds each delta into the assistant message as
// it arrives.
//
// # Key Types
//
//   - Orchestrator: owns the single-exchange guard and the observer hook
//   - Exchange: handle of one in-flight reply (Cancel, Wait, Status)
//   - Update: what observers receive after each delta and at termination
//
// # Usage
//
//	orch := chat.New(store, gw, chat.WithObserver(func(u chat.Update) { ... }))
//	ex, err := orch.Begin(ctx, chat.Request{SessionID: id, Prompt: "ciao"})
//	if err != nil {
//	    return err
//	}
//	err = ex.Wait()
//
// A canceled exchange keeps the content received so far and Wait returns
// nil. A failed exchange keeps its partial content too, and Wait returns the
// error. Nothing is retried.
package chat
