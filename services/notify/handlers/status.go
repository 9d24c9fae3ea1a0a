// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the notify service's HTTP surface:
// origin callbacks, coalesced exchange polls, durable watch CRUD, and
// the exchange-update websocket stream.
package handlers

import (
	"errors"
	"net/http"

	"github.com/AleutianAI/AleutianNotify/services/notify/exchange"
	"github.com/AleutianAI/AleutianNotify/services/notify/poll"
	"github.com/AleutianAI/AleutianNotify/services/notify/pushtoken"
	"github.com/AleutianAI/AleutianNotify/services/notify/store"
)

// statusFor maps domain errors onto HTTP status codes. Unknown errors
// are treated as internal failures.
func statusFor(err error) int {
	var invalidToken *pushtoken.InvalidTokenError
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, store.ErrConstraint),
		errors.Is(err, pushtoken.ErrConstraint),
		errors.Is(err, pushtoken.ErrSyntax),
		errors.Is(err, pushtoken.ErrNotSupported),
		errors.Is(err, pushtoken.ErrData),
		errors.As(err, &invalidToken):
		return http.StatusBadRequest
	case errors.Is(err, poll.ErrQuotaExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, exchange.ErrOperation):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
