package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"thermal-status-backend/internal/model"
)

// ErrSubscriptionNotFound is returned when no subscription has the endpoint.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// UnknownDevicesError lists requested device IDs the registry does not hold.
type UnknownDevicesError struct {
	IDs []int64
}

func (e *UnknownDevicesError) Error() string {
	return fmt.Sprintf("unknown devices %v", e.IDs)
}

// SubscribeDevices upserts sub and replaces the devices it follows with
// deviceIDs. Nothing is written when any ID is unknown.
func (s *gormStore) SubscribeDevices(ctx context.Context, sub *model.PushSubscription, deviceIDs []int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var devices []*model.Device
		if len(deviceIDs) > 0 {
			if err := tx.Find(&devices, deviceIDs).Error; err != nil {
				return fmt.Errorf("failed to load devices: %w", err)
			}
		}
		if missing := missingIDs(deviceIDs, devices); len(missing) > 0 {
			return &UnknownDevicesError{IDs: missing}
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Create(sub).Error; err != nil {
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}

		if err := tx.Model(sub).Association("Devices").Replace(&devices); err != nil {
			return fmt.Errorf("failed to replace subscribed devices: %w", err)
		}
		return nil
	})
}

func missingIDs(want []int64, found []*model.Device) []int64 {
	have := make(map[int64]bool, len(found))
	for _, d := range found {
		have[d.ID] = true
	}
	var missing []int64
	for _, id := range want {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// SubscribedDevices returns the IDs of the devices endpoint follows, in
// ascending order.
func (s *gormStore) SubscribedDevices(ctx context.Context, endpoint string) ([]int64, error) {
	var sub model.PushSubscription
	err := s.db.WithContext(ctx).Preload("Devices").First(&sub, "endpoint = ?", endpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	ids := make([]int64, 0, len(sub.Devices))
	for _, d := range sub.Devices {
		ids = append(ids, d.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Unsubscribe removes the subscription and its device mappings. Removing an
// unknown endpoint is not an error.
func (s *gormStore) Unsubscribe(ctx context.Context, endpoint string) error {
	err := s.db.WithContext(ctx).Select("Devices").Delete(&model.PushSubscription{Endpoint: endpoint}).Error
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}
