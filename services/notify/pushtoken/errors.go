// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pushtoken

import "errors"

// Sentinel errors for the pushtoken package.
var (
	// ErrNotSupported indicates the configured secret uses an unknown
	// multibase prefix or multikey header.
	ErrNotSupported = errors.New("unsupported key encoding")

	// ErrData indicates the configured secret has the wrong length for
	// its multikey type. The message never includes the observed bytes.
	ErrData = errors.New("invalid key data")

	// ErrSyntax indicates a structurally malformed token.
	ErrSyntax = errors.New("malformed push token")

	// ErrConstraint indicates an expired token, an event mismatch, or a
	// signature mismatch.
	ErrConstraint = errors.New("push token constraint violated")

	// ErrDisabled indicates push notification is not configured.
	ErrDisabled = errors.New("push notification is disabled")
)

// InvalidTokenError is the opaque outer wrapper for every verification
// failure. External callers see only "invalid push token"; the cause is
// retained for logs via Unwrap.
type InvalidTokenError struct {
	cause error
}

// Error implements error. The message deliberately does not distinguish
// expiry from signature mismatch from malformed input.
func (e *InvalidTokenError) Error() string {
	return "invalid push token"
}

// Unwrap exposes the underlying cause for error inspection and logging.
func (e *InvalidTokenError) Unwrap() error {
	return e.cause
}

func invalidToken(cause error) error {
	return &InvalidTokenError{cause: cause}
}
