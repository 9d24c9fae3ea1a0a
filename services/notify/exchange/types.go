// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package exchange models externally hosted, state-bearing resources
// (verifiable-credential exchanges) and the capability-authorized HTTP
// client used to read and write them.
//
// An exchange lives on an origin server and evolves through a small state
// machine. This service never owns exchange state; it only observes
// snapshots of it. The client in this package is the single point where
// the notification substrate touches the network.
package exchange

import (
	"encoding/json"
	"time"
)

// State is the lifecycle state of an exchange as reported by the origin.
type State string

// Exchange lifecycle states. Pending and Active exchanges may still
// change; Complete and Invalid are terminal.
const (
	StatePending  State = "pending"
	StateActive   State = "active"
	StateComplete State = "complete"
	StateInvalid  State = "invalid"
)

// Terminal reports whether the state can no longer change.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateInvalid
}

// Exchange is a snapshot of a remote exchange document.
//
// # Fields
//
//   - ID: Exchange identifier (the path component of its URL).
//   - State: Current lifecycle state.
//   - Step: Name of the current protocol step, if any.
//   - Variables: Opaque exchange variables as returned by the origin.
//   - Updated: Server-side last-modified time, zero if not reported.
type Exchange struct {
	ID        string          `json:"id"`
	State     State           `json:"state"`
	Step      string          `json:"step,omitempty"`
	Variables json.RawMessage `json:"variables,omitempty"`
	Updated   time.Time       `json:"updated,omitempty"`
}

// Terminal reports whether the exchange has reached a terminal state.
func (e *Exchange) Terminal() bool {
	return e.State.Terminal()
}
