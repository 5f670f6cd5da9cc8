package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listenerStatus() gin.H {
	return gin.H{
		"running":      h.listener.Running(),
		"queue_length": h.listener.QueueLength(),
	}
}

// GetListenerStatus reports whether the modem worker is alive.
func (h *Handler) GetListenerStatus(c *gin.Context) {
	if h.listener == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "SMS listener not initialized"})
		return
	}
	c.JSON(http.StatusOK, h.listenerStatus())
}

// StartListener (re)starts the modem worker, e.g. after the serial link
// was lost.
func (h *Handler) StartListener(c *gin.Context) {
	if h.listener == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "SMS listener not initialized"})
		return
	}
	if err := h.listener.Start(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.listenerStatus())
}

// StopListener stops the modem worker.
func (h *Handler) StopListener(c *gin.Context) {
	if h.listener == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "SMS listener not initialized"})
		return
	}
	h.listener.Stop()
	c.JSON(http.StatusOK, h.listenerStatus())
}
