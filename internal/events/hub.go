package events

import (
	"encoding/json"
	"log"
	"sync"

	"thermal-status-backend/internal/model"
)

const defaultBuffer = 64

// Hub fans device updates out to live subscribers.
type Hub struct {
	pool map[chan []byte]struct{}
	sync.RWMutex
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{pool: make(map[chan []byte]struct{})}
}

// Broadcast delivers msg to every subscriber without blocking. A
// subscriber whose buffer is full misses the message.
func (h *Hub) Broadcast(msg []byte) {
	h.RLock()
	defer h.RUnlock()

	for ch := range h.pool {
		select {
		case ch <- msg:
		default:
		}
	}
}

// PublishDevice broadcasts the JSON form of d.
func (h *Hub) PublishDevice(d *model.Device) {
	b, err := json.Marshal(DeviceUpdate(d))
	if err != nil {
		log.Printf("[events] failed to encode device %d: %v", d.ID, err)
		return
	}
	h.Broadcast(b)
}

// Subscribe registers a new subscriber. The returned func unsubscribes and
// closes the channel; calling it twice is safe.
func (h *Hub) Subscribe(buffer int) (<-chan []byte, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan []byte, buffer)

	h.Lock()
	h.pool[ch] = struct{}{}
	h.Unlock()

	return ch, func() {
		h.Lock()
		defer h.Unlock()
		if _, ok := h.pool[ch]; ok {
			delete(h.pool, ch)
			close(ch)
		}
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.pool)
}

// DeviceView is the wire form of a device shared by the HTTP list and the
// live stream.
type DeviceView struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	PhoneNumber    *string  `json:"phone_number"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	Temperature1   *float64 `json:"temperature1"`
	Temperature2   *float64 `json:"temperature2"`
	Status         int      `json:"status"`
	StatusDisplay  string   `json:"status_display"`
	UpdateDatetime string   `json:"update_datetime"`
}

// DeviceUpdate converts d to its wire form.
func DeviceUpdate(d *model.Device) DeviceView {
	return DeviceView{
		ID:             d.ID,
		Name:           d.Name,
		PhoneNumber:    d.PhoneNumber,
		Latitude:       d.Latitude,
		Longitude:      d.Longitude,
		Temperature1:   d.Temperature1,
		Temperature2:   d.Temperature2,
		Status:         int(d.Status),
		StatusDisplay:  d.Status.String(),
		UpdateDatetime: d.UpdateDatetime.Format("2006-01-02 15:04"),
	}
}
