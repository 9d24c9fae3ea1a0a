// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the notify service:
// the push-token gate in front of the callback endpoint and a rate
// limiter shielding the origin-facing surface.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianNotify/services/notify/pushtoken"
)

// claimsKey is the context key for verified push-token claims.
// Using a namespaced key prevents collisions with other context values.
const claimsKey = "notify_push_claims"

// SetClaims stores verified claims in the Gin context.
func SetClaims(c *gin.Context, claims pushtoken.Claims) {
	c.Set(claimsKey, claims)
}

// GetClaims retrieves verified claims from the Gin context. The second
// return is false when the gate did not run on this request.
func GetClaims(c *gin.Context) (pushtoken.Claims, bool) {
	if value, exists := c.Get(claimsKey); exists {
		if claims, ok := value.(pushtoken.Claims); ok {
			return claims, true
		}
	}
	return pushtoken.Claims{}, false
}

// PushTokenGate creates a middleware that verifies the pushToken path
// parameter before the callback handler runs.
//
// # Description
//
// The token is read from the ":pushToken" path parameter and verified
// against expectedEvent. On success the claims land in the context for
// downstream handlers; on any failure the request is aborted with HTTP
// 400 and the deliberately opaque message "invalid push token". The
// underlying cause is logged but never sent to the caller.
//
// When tokens is disabled (push not configured) every request is
// rejected with HTTP 400 and the message "push notification is
// disabled".
func PushTokenGate(tokens *pushtoken.Tokens, expectedEvent string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.Param("pushToken")

		claims, err := tokens.Verify(presented, expectedEvent)
		if err != nil {
			if errors.Is(err, pushtoken.ErrDisabled) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "push notification is disabled",
				})
				return
			}
			slog.Info("push token rejected",
				"path", c.FullPath(),
				"cause", errors.Unwrap(err),
			)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "invalid push token",
			})
			return
		}

		SetClaims(c, claims)
		c.Next()
	}
}
