// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianNotify/services/notify/pushtoken"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testTokens builds a Tokens instance with a throwaway key.
func testTokens(t *testing.T) *pushtoken.Tokens {
	t.Helper()
	raw := make([]byte, 34)
	raw[0], raw[1] = 0xA2, 0x01
	for i := 2; i < len(raw); i++ {
		raw[i] = byte(i)
	}
	key, err := pushtoken.DecodeKey("test", "u"+base64.RawURLEncoding.EncodeToString(raw))
	require.NoError(t, err)
	t.Cleanup(key.Destroy)
	return pushtoken.New(key)
}

// gatedRouter mounts the gate in front of a handler that records the
// verified claims.
func gatedRouter(tokens *pushtoken.Tokens, captured *pushtoken.Claims) *gin.Engine {
	router := gin.New()
	router.POST("/callbacks/:pushToken",
		PushTokenGate(tokens, "exchangeUpdated"),
		func(c *gin.Context) {
			if claims, ok := GetClaims(c); ok && captured != nil {
				*captured = claims
			}
			c.Status(http.StatusNoContent)
		})
	return router
}

func TestPushTokenGate_ValidToken(t *testing.T) {
	tokens := testTokens(t)
	tok, err := tokens.Create("exchangeUpdated", time.Time{})
	require.NoError(t, err)

	var claims pushtoken.Claims
	router := gatedRouter(tokens, &claims)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/callbacks/"+tok.Token, nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "exchangeUpdated", claims.Event)
}

func TestPushTokenGate_RejectsBadTokens(t *testing.T) {
	tokens := testTokens(t)

	cases := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong event", func() string {
			tok, _ := tokens.Create("somethingElse", time.Time{})
			return tok.Token
		}()},
		{"expired", func() string {
			tok, _ := tokens.Create("exchangeUpdated", time.Now().Add(-time.Hour))
			return tok.Token
		}()},
	}

	router := gatedRouter(tokens, nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodPost, "/callbacks/"+tc.token, nil)
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			// External message stays opaque for every failure mode.
			assert.Contains(t, w.Body.String(), "invalid push token")
		})
	}
}

func TestPushTokenGate_Disabled(t *testing.T) {
	router := gatedRouter(nil, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/callbacks/whatever", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "disabled")
}

func TestRateLimit(t *testing.T) {
	router := gin.New()
	router.GET("/", RateLimit(1, 2), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/", nil)
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	// Burst of 2 passes, the third request in the same instant is
	// rejected.
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
