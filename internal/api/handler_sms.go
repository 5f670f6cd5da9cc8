package api

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"thermal-status-backend/internal/parse"
)

type sendSMSRequest struct {
	Phone   string `form:"phone" json:"phone"`
	Message string `form:"message" json:"message"`
}

// SendSMS queues a free-form SMS. Parameters come from the query string,
// a form body or a JSON body.
func (h *Handler) SendSMS(c *gin.Context) {
	var req sendSMSRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	phone := strings.TrimSpace(req.Phone)
	message := strings.TrimSpace(req.Message)

	if phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone is required"})
		return
	}
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if h.listener == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "SMS listener not initialized"})
		return
	}

	normalized := parse.NormalizePhone(phone, h.modem.CountryCode, h.modem.TrunkPrefix)
	h.listener.Send(normalized, message)

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"phone":      normalized,
		"sms_length": utf8.RuneCountInString(message),
	})
}
