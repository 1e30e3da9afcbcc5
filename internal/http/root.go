package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
)

func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"root": true})
}

func (h *Handler) Ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

func (h *Handler) Echo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"param": c.Param("name")})
}

// DBStatus runs a server status command against mongo, OK/NG.
func (h *Handler) DBStatus(c *gin.Context) {
	status := "OK"
	if err := h.Store.DB.RunCommand(c.Request.Context(), bson.M{"serverStatus": 1}).Err(); err != nil {
		status = "NG"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (h *Handler) Healthz(c *gin.Context) {
	if err := h.Store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
