// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/streamchat/internal/gateway"
	"github.com/jeranaias/streamchat/internal/gateway/gatewaytest"
	"github.com/jeranaias/streamchat/internal/model"
)

var base = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// at returns the n-th reading of the test clock.
func at(n int) time.Time {
	return base.Add(time.Duration(n) * time.Second)
}

// newLoadedStore returns a store over an empty fake, loaded so that it holds
// one session created at t=1.
func newLoadedStore(t *testing.T, opts ...Option) (*Store, *gatewaytest.Fake) {
	t.Helper()
	fake := gatewaytest.New()
	opts = append([]Option{WithClock(NewFakeClock(at(1), time.Second))}, opts...)
	s := New(fake, opts...)
	require.NoError(t, s.Load(context.Background()))
	return s, fake
}

func ids(sessions []model.Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}

func assertOrdered(t *testing.T, s *Store) {
	t.Helper()
	list := s.Sessions()
	for i := 1; i < len(list); i++ {
		assert.True(t, list[i-1].UpdatedAt.After(list[i].UpdatedAt),
			"sessions %d and %d out of order", i-1, i)
	}
}

// =============================================================================
// CLOCK
// =============================================================================

func TestTick_StrictlyMonotonic(t *testing.T) {
	frozen := NewFakeClock(base, 0)
	s := New(gatewaytest.New(), WithClock(frozen))

	s.mu.Lock()
	first := s.tick()
	second := s.tick()
	s.mu.Unlock()

	assert.Equal(t, base, first)
	assert.Equal(t, base.Add(time.Nanosecond), second)
}

func TestTick_StaysAheadOfObservedTimestamps(t *testing.T) {
	s := New(gatewaytest.New(), WithClock(NewFakeClock(base, 0)))

	s.mu.Lock()
	s.observe(base.Add(time.Hour))
	got := s.tick()
	s.mu.Unlock()

	assert.True(t, got.After(base.Add(time.Hour)))
}

// =============================================================================
// LOAD
// =============================================================================

func TestLoad_EmptyCreatesSession(t *testing.T) {
	s, fake := newLoadedStore(t)

	require.Equal(t, 1, s.Len())
	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, model.DefaultTitle, active.Title)
	assert.Equal(t, model.DefaultModel, active.Model)
	assert.Equal(t, at(1), active.UpdatedAt)
	assert.Len(t, fake.ServerSessions(), 1)
}

func TestLoad_RestoresRememberedActive(t *testing.T) {
	fake := gatewaytest.New()
	older := model.NewSession("older", "", at(1))
	newer := model.NewSession("newer", "", at(2))
	msg := model.NewUserMessage(older.ID, "ciao", at(1))
	fake.Seed(older, msg)
	fake.Seed(newer)
	require.NoError(t, fake.SetActiveSession(context.Background(), older.ID))

	s := New(fake)
	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, []string{newer.ID, older.ID}, ids(s.Sessions()))
	assert.Equal(t, older.ID, s.ActiveID())
	assert.Equal(t, []model.Message{msg}, s.Messages(older.ID))
}

func TestLoad_FallsBackToFront(t *testing.T) {
	fake := gatewaytest.New()
	a := model.NewSession("a", "", at(1))
	b := model.NewSession("b", "", at(2))
	fake.Seed(a)
	fake.Seed(b)
	require.NoError(t, fake.SetActiveSession(context.Background(), "gone"))

	s := New(fake)
	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, b.ID, s.ActiveID())
}

func TestLoad_ListFailure(t *testing.T) {
	fake := gatewaytest.New()
	fake.ListErr = gateway.ErrUnauthorized

	err := New(fake).Load(context.Background())
	assert.True(t, gateway.IsUnauthorized(err))
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_FrontAndActive(t *testing.T) {
	s, _ := newLoadedStore(t)

	created, err := s.Create(context.Background())
	require.NoError(t, err)

	list := s.Sessions()
	require.Len(t, list, 2)
	assert.Equal(t, created.ID, list[0].ID)
	assert.Equal(t, created.ID, s.ActiveID())
	assert.Empty(t, s.Messages(created.ID))
	assertOrdered(t, s)
}

func TestCreate_AdoptsServerID(t *testing.T) {
	s, fake := newLoadedStore(t)
	fake.AssignID = func() string { return "server-id" }

	created, err := s.Create(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "server-id", created.ID)
	assert.Equal(t, "server-id", s.ActiveID())
	_, ok := s.Get("server-id")
	assert.True(t, ok)
	assert.NoError(t, s.AppendMessage("server-id", model.NewUserMessage("", "hi", at(9))))
}

func TestCreate_RollsBackOnFailure(t *testing.T) {
	s, fake := newLoadedStore(t)
	before := s.Sessions()
	prevActive := s.ActiveID()
	fake.CreateErr = errors.New("offline")

	_, err := s.Create(context.Background())
	require.Error(t, err)

	assert.Equal(t, before, s.Sessions())
	assert.Equal(t, prevActive, s.ActiveID())
}

// =============================================================================
// SELECT
// =============================================================================

func TestSelect_DoesNotTouchUpdatedAt(t *testing.T) {
	s, fake := newLoadedStore(t)
	first := s.ActiveID()
	_, err := s.Create(context.Background())
	require.NoError(t, err)
	msg := model.NewUserMessage(first, "dal server", at(0))
	fake.SetMessages(first, msg)
	before := s.Sessions()

	require.NoError(t, s.Select(context.Background(), first))

	assert.Equal(t, first, s.ActiveID())
	assert.Equal(t, before, s.Sessions())
	assert.Equal(t, []model.Message{msg}, s.Messages(first))
}

func TestSelect_Unknown(t *testing.T) {
	s, _ := newLoadedStore(t)
	assert.ErrorIs(t, s.Select(context.Background(), "nope"), ErrNotFound)
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdate_MovesToFront(t *testing.T) {
	s, _ := newLoadedStore(t)
	a := s.ActiveID()
	b, err := s.Create(context.Background())
	require.NoError(t, err)

	list := s.Sessions()
	require.Equal(t, []string{b.ID, a}, ids(list))
	assert.Equal(t, at(2), list[0].UpdatedAt)
	assert.Equal(t, at(1), list[1].UpdatedAt)

	updated, err := s.Rename(context.Background(), a, "Rinominata")
	require.NoError(t, err)
	assert.Equal(t, "Rinominata", updated.Title)

	list = s.Sessions()
	require.Equal(t, []string{a, b.ID}, ids(list))
	assert.Equal(t, at(3), list[0].UpdatedAt)
	assert.Equal(t, at(2), list[1].UpdatedAt)
}

func TestUpdate_FailureKeepsLocalAndNotifies(t *testing.T) {
	var mu sync.Mutex
	var notified []error
	s, fake := newLoadedStore(t, WithNotifier(func(err error) {
		mu.Lock()
		notified = append(notified, err)
		mu.Unlock()
	}))
	id := s.ActiveID()
	fake.UpdateErr = gateway.ErrUnauthorized

	got, err := s.SetModel(context.Background(), id, "o3-mini")

	var rerr *gateway.ReconcileError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "update", rerr.Op)
	assert.True(t, gateway.IsUnauthorized(err))
	assert.Equal(t, "o3-mini", got.Model)

	current, _ := s.Get(id)
	assert.Equal(t, "o3-mini", current.Model)
	require.Len(t, notified, 1)
	assert.Same(t, rerr, notified[0])
}

func TestUpdate_RevisionGuardKeepsNewerEdit(t *testing.T) {
	s, fake := newLoadedStore(t)
	id := s.ActiveID()

	// The first confirmation is still in flight when the second edit lands.
	nested := false
	fake.BeforeUpdate = func(string) {
		if nested {
			return
		}
		nested = true
		_, err := s.Rename(context.Background(), id, "second")
		assert.NoError(t, err)
	}

	_, err := s.Rename(context.Background(), id, "first")
	require.NoError(t, err)

	current, _ := s.Get(id)
	assert.Equal(t, "second", current.Title)
}

func TestUpdate_Unknown(t *testing.T) {
	s, _ := newLoadedStore(t)
	_, err := s.Rename(context.Background(), "nope", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// REMOVE
// =============================================================================

func TestRemove_ActiveSelectsNext(t *testing.T) {
	ctx := context.Background()
	s, _ := newLoadedStore(t)
	c := s.ActiveID()
	b, err := s.Create(ctx)
	require.NoError(t, err)
	a, err := s.Create(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{a.ID, b.ID, c}, ids(s.Sessions()))
	require.Equal(t, a.ID, s.ActiveID())

	require.NoError(t, s.Remove(ctx, a.ID))

	assert.Equal(t, []string{b.ID, c}, ids(s.Sessions()))
	assert.Equal(t, b.ID, s.ActiveID())
}

func TestRemove_SoleSessionLeavesNone(t *testing.T) {
	s, fake := newLoadedStore(t)

	require.NoError(t, s.Remove(context.Background(), s.ActiveID()))

	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.ActiveID())
	_, ok := s.Active()
	assert.False(t, ok)
	remembered, _ := fake.ActiveSession(context.Background())
	assert.Empty(t, remembered)
}

func TestRemove_InactiveKeepsSelection(t *testing.T) {
	ctx := context.Background()
	s, _ := newLoadedStore(t)
	old := s.ActiveID()
	current, err := s.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, old))
	assert.Equal(t, current.ID, s.ActiveID())
}

func TestRemove_FailureChangesNothing(t *testing.T) {
	s, fake := newLoadedStore(t)
	before := s.Sessions()
	fake.DeleteErr = errors.New("offline")

	require.Error(t, s.Remove(context.Background(), before[0].ID))
	assert.Equal(t, before, s.Sessions())
	assert.Equal(t, before[0].ID, s.ActiveID())
}

// =============================================================================
// MESSAGES
// =============================================================================

func TestAppendMessage_BumpsAndReorders(t *testing.T) {
	s, _ := newLoadedStore(t)
	a := s.ActiveID()
	b, err := s.Create(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.AppendMessage(a, model.NewUserMessage("", "ciao", at(0))))

	assert.Equal(t, []string{a, b.ID}, ids(s.Sessions()))
	msgs := s.Messages(a)
	require.Len(t, msgs, 1)
	assert.Equal(t, a, msgs[0].SessionID)
	assertOrdered(t, s)
}

func TestAppendDelta_DoesNotReorder(t *testing.T) {
	s, _ := newLoadedStore(t)
	a := s.ActiveID()
	placeholder := model.NewAssistantPlaceholder(a, at(0))
	require.NoError(t, s.AppendMessage(a, placeholder))
	b, err := s.Create(context.Background())
	require.NoError(t, err)
	before := s.Sessions()

	require.NoError(t, s.AppendDelta(a, placeholder.ID, "Hel"))
	require.NoError(t, s.AppendDelta(a, placeholder.ID, "lo"))

	assert.Equal(t, before, s.Sessions())
	assert.Equal(t, b.ID, s.Sessions()[0].ID)
	msg, ok := s.Message(a, placeholder.ID)
	require.True(t, ok)
	assert.Equal(t, "Hello", msg.Content)

	assert.ErrorIs(t, s.AppendDelta(a, "nope", "x"), ErrMessageNotFound)
	assert.ErrorIs(t, s.AppendDelta("nope", placeholder.ID, "x"), ErrNotFound)
}

func TestReconcile_ReplacesMessages(t *testing.T) {
	s, fake := newLoadedStore(t)
	id := s.ActiveID()
	require.NoError(t, s.AppendMessage(id, model.NewAssistantPlaceholder(id, at(0))))
	server := model.NewUserMessage(id, "persistito", at(0))
	fake.SetMessages(id, server)

	require.NoError(t, s.Reconcile(context.Background(), id))
	assert.Equal(t, []model.Message{server}, s.Messages(id))
}

func TestReconcile_FailureKeepsLocal(t *testing.T) {
	var notified int
	s, fake := newLoadedStore(t, WithNotifier(func(error) { notified++ }))
	id := s.ActiveID()
	local := model.NewUserMessage(id, "locale", at(0))
	require.NoError(t, s.AppendMessage(id, local))
	fake.MessagesErr = errors.New("offline")

	err := s.Reconcile(context.Background(), id)

	var rerr *gateway.ReconcileError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "reconcile", rerr.Op)
	assert.Equal(t, 1, notified)
	assert.Equal(t, []model.Message{local}, s.Messages(id))
}

func TestQueries_ReturnCopies(t *testing.T) {
	s, _ := newLoadedStore(t)
	id := s.ActiveID()
	require.NoError(t, s.AppendMessage(id, model.NewUserMessage(id, "x", at(0))))

	list := s.Sessions()
	list[0].Title = "mutated"
	msgs := s.Messages(id)
	msgs[0].Content = "mutated"

	current, _ := s.Get(id)
	assert.Equal(t, model.DefaultTitle, current.Title)
	assert.Equal(t, "x", s.Messages(id)[0].Content)
}

func TestConcurrentUse(t *testing.T) {
	s, _ := newLoadedStore(t, WithClock(SystemClock()))
	id := s.ActiveID()
	placeholder := model.NewAssistantPlaceholder(id, time.Now())
	require.NoError(t, s.AppendMessage(id, placeholder))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, s.AppendDelta(id, placeholder.ID, "x"))
			}
		}()
		go func() {
			defer wg.Done()
			_, err := s.Create(context.Background())
			assert.NoError(t, err)
			_ = s.Sessions()
		}()
	}
	wg.Wait()

	msg, _ := s.Message(id, placeholder.ID)
	assert.Len(t, msg.Content, 400)
	assertOrdered(t, s)
}
