package api

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"thermal-status-backend/internal/model"
	"thermal-status-backend/internal/store"
)

type putSubscriptionRequest struct {
	Endpoint          string  `json:"endpoint" binding:"required"`
	P256DH            string  `json:"p256dh" binding:"required"`
	Auth              string  `json:"auth" binding:"required"`
	SubscribedDevices []int64 `json:"subscribed_devices"`
}

// deviceSet drops duplicates and sorts ids. It fails on a non-positive id.
func deviceSet(ids []int64) ([]int64, bool) {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, false
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, true
}

// PutSubscription registers a browser for the overheat alerts of the listed
// devices, replacing whatever it followed before. An empty list keeps the
// subscription but silences it.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	devices, ok := deviceSet(req.SubscribedDevices)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device ids must be positive"})
		return
	}

	sub := &model.PushSubscription{
		Endpoint: req.Endpoint,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
	}
	err := h.store.SubscribeDevices(c.Request.Context(), sub, devices)

	var unknown *store.UnknownDevicesError
	switch {
	case errors.As(err, &unknown):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unknown devices", "unknown_devices": unknown.IDs})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"subscribed_devices": devices})
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription stops every alert for the endpoint.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.Unsubscribe(c.Request.Context(), req.Endpoint); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true // endpoint is matched undecoded
		}
	}
	return "", false
}

// GetSubscription lists the devices an endpoint follows.
func (h *Handler) GetSubscription(c *gin.Context) {
	endpoint, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}

	devices, err := h.store.SubscribedDevices(c.Request.Context(), endpoint)
	if errors.Is(err, store.ErrSubscriptionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscribed_devices": devices})
}
