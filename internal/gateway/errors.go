// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors shared by every gateway implementation.
var (
	// ErrUnauthorized means the credentials were rejected. Callers outside the
	// chat core react by re-authenticating.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the session does not exist on the authority.
	ErrNotFound = errors.New("session not found")

	// ErrRateLimited means the authority asked the client to slow down.
	ErrRateLimited = errors.New("rate limited")
)

// =============================================================================
// API ERROR
// =============================================================================

// APIError is a non-success response that has no dedicated sentinel.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// =============================================================================
// STREAM ERROR
// =============================================================================

// StreamError reports a reply stream that terminated abnormally. Partial
// holds the content received before the failure.
type StreamError struct {
	Partial string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// RECONCILE ERROR
// =============================================================================

// ReconcileError reports a local mutation the authority did not confirm. The
// local state is kept; the error exists so it can be shown once.
type ReconcileError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("%s %s not confirmed: %v", e.Op, e.SessionID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports whether err is, or wraps, ErrUnauthorized.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
