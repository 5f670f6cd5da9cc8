package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"thermal-status-backend/config"
	"thermal-status-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, serverCfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(serverCfg.RateLimitPerSec), serverCfg.RateLimitBurst)

	// Device list responses are cached until the TTL passes or a poll
	// changes request times.
	ttl := cacheTTLOrDefault(serverCfg.CacheTTL)
	responses := mw.NewResponseCache(ttl)
	caching := responses.Middleware()
	invalidate := responses.Invalidate()

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/devices", caching, GetDevices(h.store))
		api.POST("/devices/poll", invalidate, h.PollDevices)

		api.GET("/sms/send", h.SendSMS)
		api.POST("/sms/send", h.SendSMS)

		api.GET("/listener", h.GetListenerStatus)
		api.POST("/listener/start", h.StartListener)
		api.POST("/listener/stop", h.StopListener)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	r.GET("/ws/devices", h.StreamDevices)

	return r
}

// cacheTTLOrDefault keeps the router usable with a zero ServerConfig.
func cacheTTLOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
