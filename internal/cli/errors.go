// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"github.com/pkg/errors"

	"github.com/jeranaias/streamchat/internal/gateway"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates any failure without a dedicated code
	ExitGeneralError = 1
	// ExitUnauthorized indicates the backend rejected the credentials
	ExitUnauthorized = 2
)

// ErrNoPrompt is returned by ask when neither arguments nor stdin carry a
// prompt.
var ErrNoPrompt = errors.New("no prompt given (pass it as arguments or pipe it on stdin)")

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case gateway.IsUnauthorized(err):
		return ExitUnauthorized
	default:
		return ExitGeneralError
	}
}

// UsageError reports a command invoked with bad arguments.
type UsageError struct {
	Command string
	Reason  string
}

func (e *UsageError) Error() string {
	return e.Command + ": " + e.Reason
}
