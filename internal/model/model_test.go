// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewSession_Defaults(t *testing.T) {
	s := NewSession("", "", t0)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, DefaultTitle, s.Title)
	assert.Equal(t, DefaultModel, s.Model)
	assert.Equal(t, t0, s.CreatedAt)
	assert.Equal(t, t0, s.UpdatedAt)
}

func TestSession_Apply(t *testing.T) {
	s := NewSession("a", "gpt-4o", t0)
	later := t0.Add(time.Second)

	s.Apply(TitlePatch("b"), later)

	assert.Equal(t, "b", s.Title)
	assert.Equal(t, "gpt-4o", s.Model)
	assert.Equal(t, later, s.UpdatedAt)
	assert.Equal(t, t0, s.CreatedAt)
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := NewSession("a", "m", t0)
	s.Messages = []Message{NewUserMessage(s.ID, "hi", t0)}

	c := s.Clone()
	c.Messages[0].Content = "changed"

	assert.Equal(t, "hi", s.Messages[0].Content)
}

func TestSortByRecent(t *testing.T) {
	a := Session{ID: "a", UpdatedAt: t0}
	b := Session{ID: "b", UpdatedAt: t0.Add(2 * time.Second)}
	c := Session{ID: "c", UpdatedAt: t0.Add(time.Second)}
	list := []Session{a, b, c}

	SortByRecent(list)

	assert.Equal(t, []string{"b", "c", "a"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestSortByRecent_TiesKeepInputOrder(t *testing.T) {
	list := []Session{
		{ID: "z", UpdatedAt: t0},
		{ID: "new", UpdatedAt: t0.Add(time.Second)},
		{ID: "a", UpdatedAt: t0},
	}

	SortByRecent(list)

	assert.Equal(t, []string{"new", "z", "a"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestPatch_IsEmpty(t *testing.T) {
	assert.True(t, Patch{}.IsEmpty())
	assert.False(t, ModelPatch("o3-mini").IsEmpty())
}

func TestLastOfRole(t *testing.T) {
	msgs := []Message{
		{ID: "1", Role: RoleUser, Content: "first"},
		{ID: "2", Role: RoleAssistant},
		{ID: "3", Role: RoleUser, Content: "second"},
		{ID: "4", Role: RoleAssistant},
	}

	m, ok := LastOfRole(msgs, RoleUser)
	require.True(t, ok)
	assert.Equal(t, "second", m.Content)

	_, ok = LastOfRole(nil, RoleUser)
	assert.False(t, ok)
}

func TestToChat(t *testing.T) {
	msgs := []Message{NewUserMessage("s", "ciao", t0)}

	assert.Equal(t, []ChatMessage{{Role: RoleUser, Content: "ciao"}}, ToChat(msgs))
}

func TestNextModel(t *testing.T) {
	cat := DefaultCatalog()

	assert.Equal(t, "gpt-4o-mini", NextModel(cat, "gpt-4o"))
	assert.Equal(t, "gpt-4o", NextModel(cat, "o3-mini"))
	assert.Equal(t, "gpt-4o", NextModel(cat, "unknown"))
	assert.Equal(t, "x", NextModel(nil, "x"))
}

func TestLabelFor(t *testing.T) {
	cat := DefaultCatalog()

	assert.Equal(t, "GPT-4o mini", LabelFor(cat, "gpt-4o-mini"))
	assert.Equal(t, "custom", LabelFor(cat, "custom"))
}
