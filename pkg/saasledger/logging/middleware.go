package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// HeaderRequestID carries the request id in both directions
	HeaderRequestID = "X-Request-Id"
	// ContextKeyRequestID is the key for the request id in gin context
	ContextKeyRequestID = "request_id"
)

// RequestID assigns every request an id, reusing the caller's when present
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// GetRequestID returns the request id from the gin context
func GetRequestID(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}

// AccessLog writes one line per request once the handler chain completes
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := Logger.WithFields(logrus.Fields{
			"request_id": GetRequestID(c),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		})

		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request failed")
		case c.Writer.Status() >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request handled")
		}
	}
}

// FromContext returns a log entry tagged with the request id
func FromContext(c *gin.Context) *logrus.Entry {
	return Logger.WithField("request_id", GetRequestID(c))
}
