// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianNotify/services/notify/poll"
)

// callbackBody is the event envelope the origin posts to the callback
// URL.
type callbackBody struct {
	Event struct {
		Data struct {
			ExchangeID string `json:"exchangeId" binding:"required"`
		} `json:"data"`
	} `json:"event"`
}

// HandleCallback processes an origin push notification.
//
// # Description
//
// The push-token gate has already verified the bearer token by the time
// this handler runs. The body names the exchange that changed; the
// handler forces a fresh coalesced poll (useCache=false) so the result
// cache reflects the origin's new state, then answers 204. Push is
// best-effort: a failed re-poll is reported to the origin but polling
// remains authoritative, so no retry bookkeeping happens here.
func HandleCallback(coalescer *poll.Coalescer, poller poll.Poller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body callbackBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing event.data.exchangeId"})
			return
		}

		id := body.Event.Data.ExchangeID
		result, err := coalescer.Poll(c.Request.Context(), poll.Request{
			ID:       id,
			Poller:   poller,
			UseCache: false,
		})
		if err != nil {
			slog.Error("callback re-poll failed", "exchange_id", id, "error", err)
			c.JSON(statusFor(err), gin.H{"error": "re-poll failed"})
			return
		}

		slog.Debug("callback re-poll completed",
			"exchange_id", id,
			"sequence", result.Sequence,
			"mutable", result.Mutable,
		)
		c.Status(http.StatusNoContent)
	}
}
