// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the key-value persistence used by the standalone
// gateway and the reference backend.
//
// # Backends
//
//   - FileKV: one file per key, written atomically
//   - SQLiteKV: a single kv table in a SQLite database (pure Go driver)
//   - RedisKV: keys under a prefix on a Redis server
//
// All backends satisfy KV and report a missing key as ErrKeyNotFound.
//
// # Usage
//
//	kv, err := storage.Open(ctx, cfg.Storage)
//	if err != nil {
//		return err
//	}
//	defer kv.Close()
//	err = kv.Set(ctx, "chat_sessions_v1", data)
package storage
