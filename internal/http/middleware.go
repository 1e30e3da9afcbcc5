package http

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mtktsuda/kotori/internal/metrics"
)

const (
	sessionKey   = "session"
	requestIDKey = "X-Request-ID"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.InFlight.Inc()
		c.Next()
		metrics.InFlight.Dec()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.ReqDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// Auth resolves the Authorization header once per request. A missing header
// passes through as anonymous; a header that fails resolution is a 400 no
// matter which route is being hit.
func (h *Handler) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := h.Sessions.Resolve(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			fail(c, "Failed Auth")
			return
		}
		if sess != nil {
			c.Set(sessionKey, sess)
		}
		c.Next()
	}
}
