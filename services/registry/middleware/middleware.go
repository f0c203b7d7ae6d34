// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the registry service.
//
// # Request ID Flow
//
// RequestID assigns every request a UUID (or adopts the client-supplied
// X-Request-ID), stores it in the Gin context and echoes it back on the
// response, so one id threads a request through access logs, handler
// logs, and client-side correlation.
//
//	Request
//	   │
//	   ▼
//	RequestID ── adopt or mint X-Request-ID
//	   │
//	   ▼
//	AccessLog ── one structured line per request on completion
//	   │
//	   ▼
//	Handler (retrieves via GetRequestID)
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/lineage/pkg/logging"
)

// requestIDKey is the gin context key for the request id. The lineage_
// prefix keeps it out of the way of keys set by other middleware.
const requestIDKey = "lineage_request_id"

// RequestIDHeader is the header carrying the request id in both
// directions.
const RequestIDHeader = "X-Request-ID"

// RequestID adopts the client-supplied X-Request-ID or mints a UUID,
// stores it in the context and sets it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID returns the request id set by RequestID, or "" when the
// middleware did not run.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// AccessLog emits one structured log line per completed request.
// Member contact fields never appear here; only method, path, status
// and timing.
func AccessLog(log *logging.Logger) gin.HandlerFunc {
	if log == nil {
		log = logging.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", GetRequestID(c),
		}
		if len(c.Errors) > 0 {
			log.Error("request failed", append(attrs, "errors", c.Errors.String())...)
			return
		}
		log.Info("request", attrs...)
	}
}
