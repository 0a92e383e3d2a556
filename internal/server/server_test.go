// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/gateway"
	"github.com/jeranaias/streamchat/internal/gateway/gatewaytest"
	"github.com/jeranaias/streamchat/internal/gateway/local"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/sse"
	"github.com/jeranaias/streamchat/internal/storage"
)

// =============================================================================
// HELPERS
// =============================================================================

const testSecret = "test-secret-with-enough-entropy"

func newTestServer(t *testing.T, auth config.AuthConfig) *Server {
	t.Helper()
	kv, err := storage.NewFileKV(t.TempDir())
	require.NoError(t, err)
	gw := local.New(kv, local.WithPacing(local.NoPacing()))
	return New(gw, config.ServerConfig{Addr: "127.0.0.1:0"}, auth, nil)
}

func do(t *testing.T, s *Server, method, path, body, token string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func createSession(t *testing.T, s *Server, token string) model.Session {
	t.Helper()
	resp := do(t, s, http.MethodPost, "/api/sessions", `{"title":"Test","model":"gpt-4o-mini"}`, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var rec model.Session
	decode(t, resp, &rec)
	return rec
}

// =============================================================================
// HEALTH
// =============================================================================

func TestHealth(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{StaticToken: "tok"})

	resp := do(t, s, http.MethodGet, "/api/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	decode(t, resp, &body)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestSessions_CRUD(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{})

	rec := createSession(t, s, "")
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "Test", rec.Title)

	resp := do(t, s, http.MethodGet, "/api/sessions", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []model.Session
	decode(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)

	resp = do(t, s, http.MethodPut, "/api/sessions/"+rec.ID, `{"title":"Renamed"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated model.Session
	decode(t, resp, &updated)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, "gpt-4o-mini", updated.Model)

	resp = do(t, s, http.MethodGet, "/api/sessions/"+rec.ID+"/messages", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []model.Message
	decode(t, resp, &msgs)
	assert.Empty(t, msgs)

	resp = do(t, s, http.MethodDelete, "/api/sessions/"+rec.ID, "", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, s, http.MethodDelete, "/api/sessions/"+rec.ID, "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessions_EmptyListIsArray(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{})

	resp := do(t, s, http.MethodGet, "/api/sessions", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(body))
}

func TestSessions_CreateWithoutBodyUsesDefaults(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{})

	resp := do(t, s, http.MethodPost, "/api/sessions", "", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var rec model.Session
	decode(t, resp, &rec)
	assert.Equal(t, model.DefaultTitle, rec.Title)
	assert.Equal(t, model.DefaultModel, rec.Model)
}

func TestSessions_BadRequests(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{})
	rec := createSession(t, s, "")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"empty patch", http.MethodPut, "/api/sessions/" + rec.ID, `{}`, http.StatusBadRequest},
		{"blank title", http.MethodPut, "/api/sessions/" + rec.ID, `{"title":""}`, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/api/sessions", `{"title":`, http.StatusBadRequest},
		{"title too long", http.MethodPost, "/api/sessions", `{"title":"` + strings.Repeat("x", 201) + `"}`, http.StatusBadRequest},
		{"unknown session", http.MethodPut, "/api/sessions/missing", `{"title":"x"}`, http.StatusNotFound},
		{"unknown messages", http.MethodGet, "/api/sessions/missing/messages", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, s, tt.method, tt.path, tt.body, "")
			assert.Equal(t, tt.want, resp.StatusCode)

			var body errorResponse
			decode(t, resp, &body)
			assert.NotEmpty(t, body.Error)
		})
	}
}

// =============================================================================
// AUTH
// =============================================================================

func TestAuth_RejectsMissingToken(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{JWTSecret: testSecret})

	resp := do(t, s, http.MethodGet, "/api/sessions", "", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body errorResponse
	decode(t, resp, &body)
	assert.Equal(t, "unauthorized", body.Error)
}

func TestAuth_StaticToken(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{StaticToken: "letmein"})

	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/api/sessions", "", "wrong").StatusCode)

	resp := do(t, s, http.MethodGet, "/api/auth/me", "", "letmein")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me meResponse
	decode(t, resp, &me)
	assert.Equal(t, staticSubject, me.Subject)
}

func TestAuth_MintAndUseToken(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{JWTSecret: testSecret, AllowMint: true})

	resp := do(t, s, http.MethodPost, "/api/auth/token", `{"subject":"ada"}`, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	cookies := resp.Cookies()
	var minted mintResponse
	decode(t, resp, &minted)
	require.NotEmpty(t, minted.Token)
	assert.True(t, minted.ExpiresAt.After(time.Now()))

	resp = do(t, s, http.MethodGet, "/api/auth/me", "", minted.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me meResponse
	decode(t, resp, &me)
	assert.Equal(t, "ada", me.Subject)

	require.NotEmpty(t, cookies)
	assert.Equal(t, "session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: minted.Token})
	cookieResp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, cookieResp.StatusCode)
}

func TestAuth_MintRequiresSubject(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{JWTSecret: testSecret, AllowMint: true})

	resp := do(t, s, http.MethodPost, "/api/auth/token", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuth_MintDisabledByDefault(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{JWTSecret: testSecret})

	resp := do(t, s, http.MethodPost, "/api/auth/token", `{"subject":"ada"}`, "")
	assert.NotEqual(t, http.StatusCreated, resp.StatusCode)
}

func TestAuthenticator_Verify(t *testing.T) {
	a := NewAuthenticator(config.AuthConfig{JWTSecret: testSecret, TokenTTLHours: 1}, nil)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	token, expires, err := a.Mint("ada")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expires)

	subject, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "ada", subject)

	now = now.Add(2 * time.Hour)
	_, err = a.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	other := NewAuthenticator(config.AuthConfig{JWTSecret: "another-secret"}, nil)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateBearerToken(t *testing.T) {
	assert.True(t, ValidateBearerToken("abc", "abc"))
	assert.False(t, ValidateBearerToken("abc", "abd"))
	assert.False(t, ValidateBearerToken("", ""))
	assert.False(t, ValidateBearerToken("abc", ""))
}

// =============================================================================
// CHAT STREAM
// =============================================================================

func TestChatStream_SendsChunksThenEnd(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{})
	rec := createSession(t, s, "")

	body, err := json.Marshal(gateway.ChatRequest{
		SessionID: rec.ID,
		Model:     rec.Model,
		Messages:  []model.ChatMessage{{Role: model.RoleUser, Content: "ciao"}},
	})
	require.NoError(t, err)

	resp := do(t, s, http.MethodPost, "/api/chat/stream", string(body), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	dec := sse.NewDecoder()
	events := append(dec.Feed(raw), dec.Finish()...)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, sse.TypeEnd, last.Type)
	assert.NotEmpty(t, last.MessageID)

	var reply strings.Builder
	for _, ev := range events[:len(events)-1] {
		assert.Equal(t, sse.TypeChunk, ev.Type)
		reply.WriteString(ev.Delta)
	}
	assert.Contains(t, reply.String(), `Riferimento al tema: "ciao".`)

	msgResp := do(t, s, http.MethodGet, "/api/sessions/"+rec.ID+"/messages", "", "")
	var msgs []model.Message
	decode(t, msgResp, &msgs)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, last.MessageID, msgs[1].ID)
	assert.Equal(t, reply.String(), msgs[1].Content)
}

func TestChatStream_MidStreamFailureBecomesErrorEvent(t *testing.T) {
	fake := gatewaytest.New()
	fake.Seed(model.Session{ID: "s1", Title: "Test", Model: "gpt-4o-mini"})
	fake.Enqueue(gatewaytest.NewScript(
		gatewaytest.Chunk("Parz"),
		gatewaytest.Error(errors.New("disk full")),
	))
	s := New(fake, config.ServerConfig{Addr: "127.0.0.1:0"}, config.AuthConfig{}, nil)

	resp := do(t, s, http.MethodPost, "/api/chat/stream",
		`{"sessionId":"s1","model":"gpt-4o-mini","messages":[{"role":"user","content":"hi"}]}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	dec := sse.NewDecoder()
	events := append(dec.Feed(raw), dec.Finish()...)

	require.Len(t, events, 2)
	assert.Equal(t, sse.Chunk("Parz"), events[0])
	assert.Equal(t, sse.TypeError, events[1].Type)
	assert.Contains(t, events[1].Error, "disk full")
}

func TestChatStream_UnknownSessionIs404(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{})

	resp := do(t, s, http.MethodPost, "/api/chat/stream",
		`{"sessionId":"missing","model":"m","messages":[{"role":"user","content":"hi"}]}`, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatStream_ValidatesBody(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{})

	tests := []struct {
		name string
		body string
	}{
		{"no messages", `{"sessionId":"s","model":"m","messages":[]}`},
		{"no session", `{"model":"m","messages":[{"role":"user","content":"hi"}]}`},
		{"bad role", `{"sessionId":"s","model":"m","messages":[{"role":"system","content":"hi"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, s, http.MethodPost, "/api/chat/stream", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}
