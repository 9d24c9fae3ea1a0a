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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianNotify/services/notify/watch"
)

// createWatchRequest is the body of POST /watches.
type createWatchRequest struct {
	// ID is the exchange identifier to watch.
	ID string `json:"id" binding:"required"`

	// Watcher names the registered watcher function.
	Watcher string `json:"watcher" binding:"required"`

	// TTLSeconds is the watch lifetime, capped at one hour.
	TTLSeconds int `json:"ttl" binding:"required,gt=0"`
}

// HandleCreateWatch creates a durable watch.
func HandleCreateWatch(svc *watch.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createWatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id, watcher, and a positive ttl are required"})
			return
		}

		rec, err := svc.Watch(c.Request.Context(), req.ID, req.Watcher,
			time.Duration(req.TTLSeconds)*time.Second)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, rec)
	}
}

// HandleGetWatch returns a watch record.
func HandleGetWatch(svc *watch.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := svc.Get(c.Request.Context(), c.Param("watchId"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// HandleRemoveWatch deletes a watch record. Idempotent.
func HandleRemoveWatch(svc *watch.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Remove(c.Request.Context(), c.Param("watchId")); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
