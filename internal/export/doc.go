// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes a session transcript to a file.
//
// Two formats exist: Markdown with a YAML front matter block, and JSON with
// the same shape "sessions show --json" prints.
package export
