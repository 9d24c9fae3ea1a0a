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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianNotify/services/notify/poll"
)

// HandleGetExchange serves the latest observed snapshot of an exchange.
//
// Requests within a result's TTL share the cached snapshot; the rest
// coalesce onto a single origin fetch. "?fresh=true" bypasses the cache
// the way a push callback does.
func HandleGetExchange(coalescer *poll.Coalescer, poller poll.Poller) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("exchangeId")
		useCache := c.Query("fresh") != "true"

		result, err := coalescer.Poll(c.Request.Context(), poll.Request{
			ID:       id,
			Poller:   poller,
			UseCache: useCache,
		})
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": "exchange poll failed"})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}
