// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianNotify/services/notify/handlers"
	"github.com/AleutianAI/AleutianNotify/services/notify/middleware"
	"github.com/AleutianAI/AleutianNotify/services/notify/poll"
	"github.com/AleutianAI/AleutianNotify/services/notify/pushtoken"
	"github.com/AleutianAI/AleutianNotify/services/notify/watch"
)

// ExchangeUpdatedEvent is the event name bound into callback push
// tokens.
const ExchangeUpdatedEvent = "exchangeUpdated"

// Deps carries the wired components the routes need.
type Deps struct {
	Coalescer *poll.Coalescer
	Poller    poll.Poller
	Watches   *watch.Service
	Tokens    *pushtoken.Tokens

	// CallbackRate bounds origin callbacks; zero disables limiting.
	CallbackRate  rate.Limit
	CallbackBurst int
}

// SetupRoutes registers the notify service's HTTP surface.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HandleHealth)

	v1 := router.Group("/v1")
	{
		exchanges := v1.Group("/exchanges")
		{
			exchanges.GET("/:exchangeId", handlers.HandleGetExchange(deps.Coalescer, deps.Poller))
			exchanges.GET("/:exchangeId/stream", handlers.HandleExchangeStream(deps.Coalescer, deps.Poller))

			callback := exchanges.Group("/:exchangeId/callbacks")
			if deps.CallbackRate > 0 {
				callback.Use(middleware.RateLimit(deps.CallbackRate, deps.CallbackBurst))
			}
			callback.Use(middleware.PushTokenGate(deps.Tokens, ExchangeUpdatedEvent))
			callback.POST("/:pushToken", handlers.HandleCallback(deps.Coalescer, deps.Poller))
		}

		watches := v1.Group("/watches")
		{
			watches.POST("", handlers.HandleCreateWatch(deps.Watches))
			watches.GET("/:watchId", handlers.HandleGetWatch(deps.Watches))
			watches.DELETE("/:watchId", handlers.HandleRemoveWatch(deps.Watches))
		}
	}
}
