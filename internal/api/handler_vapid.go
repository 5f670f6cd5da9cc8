package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetVAPIDPublicKey returns the key browsers need to subscribe. Push is
// reported as disabled when no key pair is configured.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" || h.webpush.VAPIDPrivateKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push notifications are disabled", "enabled": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"public_key": h.webpush.VAPIDPublicKey, "enabled": true})
}
