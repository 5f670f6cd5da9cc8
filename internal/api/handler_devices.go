package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"thermal-status-backend/internal/events"
	"thermal-status-backend/internal/store"
)

// GetDevices handles GET /api/devices: every device that can be placed on
// the map.
func GetDevices(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		devices, err := s.ListLocatedDevices(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve devices"})
			return
		}

		response := make([]events.DeviceView, 0, len(devices))
		for i := range devices {
			response = append(response, events.DeviceUpdate(&devices[i]))
		}
		c.JSON(http.StatusOK, response)
	}
}

// PollDevices queues a status request SMS to every registered device.
func (h *Handler) PollDevices(c *gin.Context) {
	if h.listener == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "SMS listener not initialized"})
		return
	}

	queued, err := h.listener.RefreshAllDevices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queued": queued})
}
