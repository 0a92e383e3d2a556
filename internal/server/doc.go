// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server is the reference backend of the chat API.
//
// It serves the session and streamed chat endpoints the remote gateway talks
// to, on top of any gateway.Gateway (in practice the standalone one, so the
// data lives in the configured key-value store).
//
// # Routes
//
//	GET    /api/health
//	POST   /api/auth/token            (only with auth.allow_mint)
//	GET    /api/auth/me
//	GET    /api/sessions
//	POST   /api/sessions              201
//	PUT    /api/sessions/:id
//	DELETE /api/sessions/:id          204
//	GET    /api/sessions/:id/messages
//	POST   /api/chat/stream           text/event-stream
//
// # Authentication
//
// With a JWT secret configured every /api route except health and token
// minting requires an HS256 token, sent as a bearer token or in the session
// cookie. With only a static token configured the bearer token is compared
// in constant time. With neither, the API is open.
package server
