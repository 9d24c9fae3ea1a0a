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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianNotify/services/notify/poll"
)

// streamInterval is how often the stream re-polls while the exchange is
// still mutable. Cached results keep most iterations off the origin.
const streamInterval = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleExchangeStream pushes exchange snapshots over a websocket.
//
// # Description
//
// A thin transport adapter over the poll coalescer. The stream polls on
// an interval, forwards each result whose sequence advanced past the
// last one sent, and closes after forwarding a terminal result. Many
// streams for the same exchange collapse onto the coalescer's single
// in-flight fetch, so N open streams still cost one origin poll per
// TTL window.
func HandleExchangeStream(coalescer *poll.Coalescer, poller poll.Poller) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("exchangeId")

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "exchange_id", id, "error", err)
			return
		}
		defer ws.Close()

		// Surface client disconnects: the read pump fails when the peer
		// goes away, which cancels the write loop below.
		clientGone := make(chan struct{})
		go func() {
			defer close(clientGone)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ctx := c.Request.Context()
		ticker := time.NewTicker(streamInterval)
		defer ticker.Stop()

		var lastSequence uint64
		for {
			result, err := coalescer.Poll(ctx, poll.Request{
				ID:       id,
				Poller:   poller,
				UseCache: true,
			})
			if err != nil {
				if errors.Is(err, poll.ErrQuotaExceeded) {
					// Transient saturation; keep the stream open and
					// try again next tick.
					slog.Warn("stream poll deferred by quota", "exchange_id", id)
				} else {
					slog.Error("stream poll failed", "exchange_id", id, "error", err)
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "poll failed"),
						time.Now().Add(time.Second))
					return
				}
			} else if result.Sequence > lastSequence {
				if err := ws.WriteJSON(result); err != nil {
					slog.Warn("stream write failed", "exchange_id", id, "error", err)
					return
				}
				lastSequence = result.Sequence

				if !result.Mutable {
					// Terminal: nothing further can arrive.
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "exchange terminal"),
						time.Now().Add(time.Second))
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-clientGone:
				return
			case <-ticker.C:
			}
		}
	}
}

// HandleHealth reports liveness.
func HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
