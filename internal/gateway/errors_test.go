// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/jeranaias/streamchat/internal/model"
)

func TestReconcileError_Unwrap(t *testing.T) {
	err := errors.Wrap(&ReconcileError{Op: "update", SessionID: "s1", Err: ErrUnauthorized}, "store")

	assert.True(t, IsUnauthorized(err))
	var rec *ReconcileError
	assert.True(t, errors.As(err, &rec))
	assert.Equal(t, "update", rec.Op)
	assert.Contains(t, err.Error(), "update s1 not confirmed")
}

func TestStreamError_Message(t *testing.T) {
	err := &StreamError{Partial: "Hel", Err: errors.New("reset")}

	assert.Contains(t, err.Error(), "3 chars")
	assert.Contains(t, (&StreamError{Err: errors.New("reset")}).Error(), "stream error: reset")
}

func TestAPIError_Message(t *testing.T) {
	assert.Equal(t, "api error: status 500", (&APIError{Status: 500}).Error())
	assert.Equal(t, "api error: status 400: bad", (&APIError{Status: 400, Message: "bad"}).Error())
}

func TestChatRequest_Prompt(t *testing.T) {
	req := ChatRequest{Messages: []model.ChatMessage{
		{Role: model.RoleUser, Content: "first"},
		{Role: model.RoleAssistant, Content: "reply"},
		{Role: model.RoleUser, Content: "second"},
	}}

	assert.Equal(t, "second", req.Prompt())
	assert.Empty(t, ChatRequest{}.Prompt())
}
