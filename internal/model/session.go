// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// DefaultTitle is the title given to a freshly created session.
	DefaultTitle = "Nuova chat"
	// DefaultModel is the reply model given to a freshly created session.
	DefaultModel = "gpt-4o-mini"
)

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session is one conversation. Messages are owned by the session store and
// travel separately; the embedded slice is only used by persistence layers
// that store a session and its messages as one record.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Messages []Message `json:"messages,omitempty"`
}

// NewSession creates a session with a fresh id and both timestamps set to now.
func NewSession(title, modelID string, now time.Time) Session {
	if title == "" {
		title = DefaultTitle
	}
	if modelID == "" {
		modelID = DefaultModel
	}
	return Session{
		ID:        uuid.NewString(),
		Title:     title,
		Model:     modelID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Apply merges the set fields of p and refreshes UpdatedAt.
func (s *Session) Apply(p Patch, now time.Time) {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Model != nil {
		s.Model = *p.Model
	}
	s.UpdatedAt = now
}

// Touch refreshes UpdatedAt without changing any other field.
func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	out := s
	if s.Messages != nil {
		out.Messages = CloneMessages(s.Messages)
	}
	return out
}

// Header returns the session without its embedded messages.
func (s Session) Header() Session {
	s.Messages = nil
	return s
}

// SortByRecent orders sessions by UpdatedAt, most recent first. The sort is
// stable so equal timestamps keep their relative order.
func SortByRecent(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
}

// =============================================================================
// PATCH TYPE
// =============================================================================

// Patch is a partial update of a session. Nil fields are left unchanged.
type Patch struct {
	Title *string `json:"title,omitempty"`
	Model *string `json:"model,omitempty"`
}

// TitlePatch returns a patch that only sets the title.
func TitlePatch(title string) Patch {
	return Patch{Title: &title}
}

// ModelPatch returns a patch that only sets the model.
func ModelPatch(modelID string) Patch {
	return Patch{Model: &modelID}
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Model == nil
}
