package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type RoomCounter interface {
	Len() int
}

// Health serves GET /api/health.
func Health(rooms RoomCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": rooms.Len()})
	}
}
