// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for the store package.
var (
	// ErrDuplicate indicates a Create with an id that already exists.
	ErrDuplicate = errors.New("watch already exists")

	// ErrNotFound indicates a Get for a missing record.
	ErrNotFound = errors.New("watch not found")

	// ErrInvalidState indicates a sequence CAS failure on Update.
	ErrInvalidState = errors.New("watch sequence conflict")

	// ErrConstraint indicates a record that violates a creation
	// constraint, currently only the one-hour TTL cap.
	ErrConstraint = errors.New("watch constraint violated")
)

// InvalidStateError reports a failed sequence compare-and-set.
type InvalidStateError struct {
	// ID is the record the update targeted.
	ID string

	// Expected is the stored sequence the update required, i.e. the
	// submitted sequence minus one.
	Expected uint64
}

// Error implements error.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("watch %q sequence conflict: expected stored sequence %d", e.ID, e.Expected)
}

// Is lets errors.Is(err, ErrInvalidState) match.
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}
