package api

import (
	"context"

	"github.com/SherClockHolmes/webpush-go"

	"thermal-status-backend/config"
	"thermal-status-backend/internal/events"
	"thermal-status-backend/internal/store"
)

// Listener is the part of the SMS listener the HTTP surface drives.
type Listener interface {
	Start() error
	Stop()
	Send(phone, message string)
	RefreshAllDevices(ctx context.Context) (int, error)
	Running() bool
	QueueLength() int
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	listener Listener
	hub      *events.Hub
	modem    config.ModemConfig
	webpush  *webpush.Options
}

// NewHandler creates a new API handler. listener and hub may be nil.
func NewHandler(s store.Store, listener Listener, hub *events.Hub, modemCfg config.ModemConfig, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:    s,
		listener: listener,
		hub:      hub,
		modem:    modemCfg,
		webpush:  webpushOptions,
	}
}
