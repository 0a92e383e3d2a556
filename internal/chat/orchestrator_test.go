// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

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
	"github.com/jeranaias/streamchat/internal/session"
	"github.com/jeranaias/streamchat/internal/sse"
)

const waitTimeout = 2 * time.Second

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	fake     *gatewaytest.Fake
	store    *session.Store
	orch     *Orchestrator
	sid      string
	notified []error

	mu      sync.Mutex
	updates []Update
	deltas  chan string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{fake: gatewaytest.New(), deltas: make(chan string, 64)}
	h.store = session.New(h.fake, session.WithNotifier(func(err error) {
		h.mu.Lock()
		h.notified = append(h.notified, err)
		h.mu.Unlock()
	}))
	require.NoError(t, h.store.Load(context.Background()))
	h.sid = h.store.ActiveID()
	h.orch = New(h.store, h.fake, WithObserver(func(u Update) {
		h.mu.Lock()
		h.updates = append(h.updates, u)
		h.mu.Unlock()
		if u.Delta != "" {
			h.deltas <- u.Delta
		}
	}))
	return h
}

func (h *harness) terminalUpdates() []Update {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Update
	for _, u := range h.updates {
		if u.Status.Terminal() {
			out = append(out, u)
		}
	}
	return out
}

func (h *harness) waitDeltas(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.deltas:
		case <-time.After(waitTimeout):
			t.Fatalf("timed out waiting for delta %d", i+1)
		}
	}
}

func wait(t *testing.T, ex *Exchange) error {
	t.Helper()
	select {
	case <-ex.Done():
		return ex.Wait()
	case <-time.After(waitTimeout):
		t.Fatal("exchange did not finish")
		return nil
	}
}

func (h *harness) placeholder(t *testing.T, ex *Exchange) model.Message {
	t.Helper()
	msg, ok := h.store.Message(h.sid, ex.MessageID())
	require.True(t, ok, "placeholder missing")
	return msg
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestCancel_KeepsPartialContent(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.fake.Enqueue(gatewaytest.NewScript(
		gatewaytest.Chunk("Hel"),
		gatewaytest.Chunk("lo"),
		gatewaytest.Wait(gate, sse.Chunk(" world")),
		gatewaytest.End("srv"),
	))

	ex, err := h.orch.Begin(context.Background(), Request{SessionID: h.sid, Prompt: "ciao"})
	require.NoError(t, err)
	h.waitDeltas(t, 2)

	ex.Cancel()
	require.NoError(t, wait(t, ex))

	assert.Equal(t, StatusCanceled, ex.Status())
	assert.Equal(t, "Hello", ex.Content())
	assert.Equal(t, "Hello", h.placeholder(t, ex).Content)
	assert.False(t, h.orch.Active())
	assert.Nil(t, h.orch.Current())
	assert.NotContains(t, h.fake.Calls(), "ListMessages", "a canceled exchange is not reconciled")

	ex.Cancel()
	assert.Equal(t, StatusCanceled, ex.Status())
}

func TestCancel_ParentContext(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.fake.Enqueue(gatewaytest.NewScript(gatewaytest.Wait(gate, sse.Chunk("x"))))

	ctx, cancel := context.WithCancel(context.Background())
	ex, err := h.orch.Begin(ctx, Request{SessionID: h.sid, Prompt: "ciao"})
	require.NoError(t, err)
	cancel()

	require.NoError(t, wait(t, ex))
	assert.Equal(t, StatusCanceled, ex.Status())
}

func TestCancel_AfterCompletionIsNoop(t *testing.T) {
	h := newHarness(t)
	h.fake.Enqueue(gatewaytest.NewScript(gatewaytest.Chunk("ok"), gatewaytest.End("srv")))

	ex, err := h.orch.Begin(context.Background(), Request{SessionID: h.sid, Prompt: "ciao"})
	require.NoError(t, err)
	require.NoError(t, wait(t, ex))

	ex.Cancel()
	assert.Equal(t, StatusCompleted, ex.Status())
	assert.NoError(t, ex.Wait())
}

// =============================================================================
// SINGLE EXCHANGE
// =============================================================================

func TestBegin_SecondRejectedWhileActive(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.fake.Enqueue(gatewaytest.NewScript(gatewaytest.Wait(gate, sse.End("srv"))))

	ex, err := h.orch.Begin(context.Background(), Request{SessionID: h.sid, Prompt: "uno"})
	require.NoError(t, err)
	assert.True(t, h.orch.Active())
	assert.Same(t, ex, h.orch.Current())
	require.Eventually(t, func() bool { return len(h.fake.Requests()) == 1 }, time.Second, 5*time.Millisecond)

	_, err = h.orch.Begin(context.Background(), Request{SessionID: h.sid, Prompt: "due"})
	assert.ErrorIs(t, err, ErrExchangeActive)

	close(gate)
	require.NoError(t, wait(t, ex))
	assert.Len(t, h.fake.Requests(), 1, "rejected exchange must not be queued")

	next, err := h.orch.Begin(context.Background(), Request{SessionID: h.sid, Prompt: "tre"})
	require.NoError(t, err)
	require.NoError(t, wait(t, next))
}

func TestEnd_StatusStaysStreamingDuringReload(t *testing.T) {
	h := newHarness(t)
	reloading := make(chan struct{})
	release := make(chan struct{})
	h.fake.BeforeListMessages = func(string) {
		close(reloading)
		<-release
	}
	h.fake.Enqueue(gatewaytest.NewScript(gatewaytest.Chunk("ok"), gatewaytest.End("srv")))

	ex, err := h.orch.Begin(context.Background(), Request{SessionID: h.sid, Prompt: "ciao"})
	require.NoError(t, err)

	select {
	case <-reloading:
	case <-time.After(waitTimeout):
		t.Fatal("reload never started")
	}
	assert.Equal(t, StatusStreaming, ex.Status())
	assert.True(t, h.orch.Active())
	select {
	case <-ex.Done():
		t.Fatal("done closed before reload finished")
	default:
	}

	close(release)
	require.NoError(t, wait(t, ex))
	assert.Equal(t, StatusCompleted, ex.Status())
	assert.False(t, h.orch.Active())
}

func TestBegin_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Begin(context.Background(), Request{SessionID: h.sid, Prompt: "   \n"})
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = h.orch.Begin(context.Background(), Request{SessionID: "nope", Prompt: "ciao"})
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.False(t, h.orch.Active())
}

// =============================================================================
// REQUEST
// =============================================================================

func TestBegin_RequestCarriesHistoryAndModel(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.SetModel(context.Background(), h.sid, "o3-mini")
	require.NoError(t, err)
	require.NoError(t, h.store.AppendMessage(h.sid, model.NewUserMessage(h.sid, "prima", time.Now())))
	require.NoError(t, h.store.AppendMessage(h.sid, model.NewAssistantPlaceholder(h.sid, time.Now())))

	_, err = h.store.Create(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, h.sid, h.store.Sessions()[0].ID)

	ex, err := h.orch.Begin(context.Background(), Request{SessionID: h.sid, Prompt: "  seconda  "})
	require.NoError(t, err)
	require.NoError(t, wait(t, ex))

	reqs := h.fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, h.sid, reqs[0].SessionID)
	assert.Equal(t, "o3-mini", reqs[0].Model)
	assert.Equal(t, []model.ChatMessage{
		{Role: model.RoleUser, Content: "prima"},
		{Role: model.RoleUser, Content: "seconda"},
	}, reqs[0].Messages)

	assert.Equal(t, h.sid, h.store.Sessions()[0].ID, "sending moves the session to the front")
}

// =============================================================================
// COMPLETION
// =============================================================================

func TestEnd_ReconcilesWithAuthority(t *testing.T) {
	h := newHarness(t)
	user := model.NewUserMessage(h.sid, "ciao", time.Now())
	reply := model.Message{ID: "srv", SessionID: h.sid, Role: model.RoleAssistant, Content: "Hello", CreatedAt: time.Now()}
	h.fake.SetMessages(h.sid, user, reply)
	h.fake.Enqueue(gatewaytest.NewScript(
		gatewaytest.Chunk("Hel"),
		gatewaytest.Chunk("lo"),
		gatewaytest.End("srv"),
	))

	ex, err := h.orch.Begin(context.Background(), Request{SessionID: h.sid, Prompt: "ciao"})
	require.NoError(t, err)
	require.NoError(t, wait(t, ex))

	assert.Equal(t, StatusCompleted, ex.Status())
	assert.Equal(t, "srv", ex.ReplyID())
	assert.Equal(t, "Hello", ex.Content())
	assert.Equal(t, []model.Message{user, reply}, h.store.Messages(h.sid))
	calls := h.fake.Calls()
	assert.Equal(t, "ListMessages", calls[len(calls)-1])
	assert.NoError(t, ex.ReconcileErr())
}

func TestEnd_ReconcileFailureIsNotExchangeFailure(t *testing.T) {
	h := newHarness(t)
	h.fake.MessagesErr = errors.New("offline")
	h.fake.Enqueue(gatewaytest.NewScript(gatewaytest.Chunk("Hi"), gatewaytest.End("srv")))

	ex, err := h.orch.Begin(context.Background(), Request{SessionID: h.sid, Prompt: "ciao"})
	require.NoError(t, err)
	require.NoError(t, wait(t, ex))

	assert.Equal(t, StatusCompleted, ex.Status())
	var rerr *gateway.ReconcileError
	assert.True(t, errors.As(ex.ReconcileErr(), &rerr))
	assert.Equal(t, "Hi", h.placeholder(t, ex).Content)
	h.mu.Lock()
	assert.Len(t, h.notified, 1)
	h.mu.Unlock()
}

func TestEOFWithoutEnd_KeepsContent(t *testing.T) {
	h := newHarness(t)
	h.fake.Enqueue(gatewaytest.NewScript(gatewaytest.Chunk("solo")))

	ex, err := h.orch.Begin(context.Background(), Request{SessionID: h.sid, Prompt: "ciao"})
	require.NoError(t, err)
	require.NoError(t, wait(t, ex))

	assert.Equal(t, StatusCompleted, ex.Status())
	assert.Equal(t, "solo", h.placeholder(t, ex).Content)
}

// =============================================================================
// FAILURE
// =============================================================================

func TestFailure_OpenReportedOnce(t *testing.T) {
	h := newHarness(t)
	h.fake.StreamErr = gateway.ErrUnauthorized

	ex, err := h.orch.Begin(context.Background(), Request{SessionID: h.sid, Prompt: "ciao"})
	require.NoError(t, err)
	err = wait(t, ex)

	require.Error(t, err)
	assert.True(t, gateway.IsUnauthorized(err))
	assert.Equal(t, StatusFailed, ex.Status())
	assert.Len(t, h.terminalUpdates(), 1)
	assert.Len(t, h.fake.Requests(), 1, "no retry")
	assert.Len(t, h.store.Messages(h.sid), 2, "prompt and placeholder are kept")
}

func TestFailure_TransportErrorKeepsPartial(t *testing.T) {
	h := newHarness(t)
	h.fake.Enqueue(gatewaytest.NewScript(
		gatewaytest.Chunk("Hel"),
		gatewaytest.Error(errors.New("connection reset")),
	))

	ex, err := h.orch.Begin(context.Background(), Request{SessionID: h.sid, Prompt: "ciao"})
	require.NoError(t, err)
	err = wait(t, ex)

	var serr *gateway.StreamError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "Hel", serr.Partial)
	assert.Equal(t, "Hel", h.placeholder(t, ex).Content)
	assert.Equal(t, StatusFailed, ex.Status())
	assert.False(t, h.orch.Active())
}

func TestFailure_ErrorEvent(t *testing.T) {
	h := newHarness(t)
	h.fake.Enqueue(gatewaytest.NewScript(gatewaytest.Chunk("Hi"), gatewaytest.Fail("quota exceeded")))

	ex, err := h.orch.Begin(context.Background(), Request{SessionID: h.sid, Prompt: "ciao"})
	require.NoError(t, err)
	err = wait(t, ex)

	var serr *gateway.StreamError
	require.True(t, errors.As(err, &serr))
	assert.Contains(t, err.Error(), "quota exceeded")
	terminal := h.terminalUpdates()
	require.Len(t, terminal, 1)
	assert.Equal(t, StatusFailed, terminal[0].Status)
	assert.Same(t, serr, terminal[0].Err)
}

func TestFailure_SessionRemovedMidStream(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.fake.Enqueue(gatewaytest.NewScript(gatewaytest.Wait(gate, sse.Chunk("x"))))

	ex, err := h.orch.Begin(context.Background(), Request{SessionID: h.sid, Prompt: "ciao"})
	require.NoError(t, err)
	require.NoError(t, h.store.Remove(context.Background(), h.sid))
	close(gate)

	err = wait(t, ex)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

// =============================================================================
// REGENERATE
// =============================================================================

func TestRegenerate(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Regenerate(context.Background(), h.sid)
	assert.ErrorIs(t, err, ErrNothingToRegenerate)
	_, err = h.orch.Regenerate(context.Background(), "nope")
	assert.ErrorIs(t, err, session.ErrNotFound)

	ex, err := h.orch.Begin(context.Background(), Request{SessionID: h.sid, Prompt: "di nuovo"})
	require.NoError(t, err)
	require.NoError(t, wait(t, ex))

	again, err := h.orch.Regenerate(context.Background(), h.sid)
	require.NoError(t, err)
	require.NoError(t, wait(t, again))

	reqs := h.fake.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "di nuovo", reqs[1].Prompt())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "streaming", StatusStreaming.String())
	assert.Equal(t, "canceled", StatusCanceled.String())
	assert.False(t, StatusStreaming.Terminal())
	assert.True(t, StatusFailed.Terminal())
}
