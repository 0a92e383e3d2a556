// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse decodes the chat stream wire format.
//
// The reply stream is a sequence of records separated by a blank line, each
// carrying one JSON payload behind a "data:" prefix:
//
//	data: {"type":"chunk","delta":"Hel"}
//
//	data: {"type":"chunk","delta":"lo"}
//
//	data: {"type":"end","messageId":"..."}
//
// # Key Types
//
//   - Decoder: push-style transducer, Feed bytes in and get events out
//   - Stream: pull-style iterator that drives a Decoder over an io.ReadCloser
//   - Event: one decoded record (chunk, end or error)
//
// Bytes may arrive split at any offset, including inside a multi-byte rune or
// inside the delimiter. Records whose payload does not parse are dropped and
// decoding continues with the next one.
package sse
