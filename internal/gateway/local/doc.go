// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package local implements the standalone gateway.
//
// Sessions and their messages are kept as one JSON document in a key-value
// store, next to the id of the last selected session. Replies are synthesized
// on the spot from a small set of canned answers and delivered word by word
// with a randomized delay, so the chat core sees the same chunk/end sequence
// it would receive from a real backend.
//
// # Usage
//
//	kv, _ := storage.Open(ctx, cfg.Storage)
//	gw := local.New(kv, local.WithPacing(local.Pacing{Min: 30 * time.Millisecond, Max: 100 * time.Millisecond}))
//	store := session.New(gw)
package local
