// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package remote implements the gateway over the HTTP chat API.
//
// Every call goes to <base>/api. Session calls exchange JSON; the chat call
// answers with a text/event-stream body that is decoded incrementally by
// package sse. Requests carry a bearer token when one is configured and the
// session cookie otherwise.
//
// # Usage
//
//	client := remote.New("http://localhost:8001").
//	    WithBearerToken(token).
//	    WithRateLimit(10, 20)
//	store := session.New(client)
package remote
