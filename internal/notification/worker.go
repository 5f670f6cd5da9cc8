package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"thermal-status-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Alert is the push payload for an overheat event.
type Alert struct {
	DeviceID     int64    `json:"device_id"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	Status       int      `json:"status"`
	Temperature1 *float64 `json:"temperature1,omitempty"`
	Temperature2 *float64 `json:"temperature2,omitempty"`
}

// WorkerPool sends overheat alerts to subscribed browsers.
type WorkerPool struct {
	size    int
	jobs    chan int64
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan int64, size*16),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case deviceID := <-wp.jobs:
			wp.sendAlertsForDevice(ctx, deviceID)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues an alert for deviceID. It never blocks the caller; when
// the queue is full the alert is dropped.
func (wp *WorkerPool) Dispatch(deviceID int64) {
	select {
	case wp.jobs <- deviceID:
	default:
		log.Printf("Notification queue full, dropping alert for device %d", deviceID)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan int64 {
	return wp.jobs
}

func (wp *WorkerPool) sendAlertsForDevice(ctx context.Context, deviceID int64) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_device_mapping sdm ON sdm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("sdm.device_id = ?", deviceID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("Error fetching subscriptions for device %d: %v", deviceID, err)
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	var device model.Device
	if err := wp.db.WithContext(ctx).First(&device, deviceID).Error; err != nil {
		log.Printf("Error fetching device %d: %v", deviceID, err)
		device = model.Device{ID: deviceID, Name: fmt.Sprintf("%d", deviceID), Status: model.StatusSensor1Overheat}
	}

	payload, err := json.Marshal(buildAlert(&device))
	if err != nil {
		log.Printf("Error encoding alert for device %d: %v", deviceID, err)
		return
	}

	log.Printf("Sending %d overheat alerts for device %d", len(subscriptions), deviceID)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func buildAlert(d *model.Device) Alert {
	alert := Alert{
		DeviceID: d.ID,
		Title:    "Overheat: " + d.Name,
		Status:   int(d.Status),
	}
	switch d.Status {
	case model.StatusSensor1Overheat:
		alert.Temperature1 = d.Temperature1
		alert.Body = "Sensor 1 reports overheating"
		if d.Temperature1 != nil {
			alert.Body = fmt.Sprintf("Sensor 1 reports %.1f°C", *d.Temperature1)
		}
	case model.StatusSensor2Overheat:
		alert.Temperature2 = d.Temperature2
		alert.Body = "Sensor 2 reports overheating"
		if d.Temperature2 != nil {
			alert.Body = fmt.Sprintf("Sensor 2 reports %.1f°C", *d.Temperature2)
		}
	default:
		alert.Body = "Status: " + d.Status.String()
	}
	return alert
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
