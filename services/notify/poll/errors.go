// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package poll

import "errors"

// Sentinel errors for the poll package.
var (
	// ErrQuotaExceeded indicates the in-flight fetch table is full and
	// the requested id is not already being fetched. Callers should
	// surface it as service overload (HTTP 503).
	ErrQuotaExceeded = errors.New("poll quota exceeded")

	// ErrNoPoller indicates a Request without a Poller.
	ErrNoPoller = errors.New("poll request has no poller")
)
