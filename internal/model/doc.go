// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
//
// # Key Types
//
//   - Session: a conversation with a title, a reply model and timestamps
//   - Message: a single user or assistant message belonging to a session
//   - Patch: a partial update of a session's user-editable fields
//   - ModelOption: an entry of the selectable reply-model catalog
//
// # Usage
//
//	s := model.NewSession(model.DefaultTitle, model.DefaultModel, time.Now())
//	msg := model.NewUserMessage(s.ID, "Ciao!", time.Now())
//	title := "Appunti"
//	s.Apply(model.Patch{Title: &title}, time.Now())
package model
