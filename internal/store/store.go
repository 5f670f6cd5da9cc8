package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"thermal-status-backend/internal/model"
)

// ErrDeviceNotFound is returned when no device carries the given phone.
var ErrDeviceNotFound = errors.New("device not found")

// Registry is the narrow device lookup the SMS listener depends on.
type Registry interface {
	FindDeviceByPhone(ctx context.Context, phone string) (*model.Device, error)
	// Save persists status, temperatures and the update/request datetimes.
	Save(ctx context.Context, d *model.Device) error
	ListDevices(ctx context.Context) ([]model.Device, error)
}

// Store adds the queries the HTTP API needs on top of Registry.
type Store interface {
	Registry
	ListLocatedDevices(ctx context.Context) ([]model.Device, error)

	// Push subscriptions follow individual devices.
	SubscribeDevices(ctx context.Context, sub *model.PushSubscription, deviceIDs []int64) error
	SubscribedDevices(ctx context.Context, endpoint string) ([]int64, error)
	Unsubscribe(ctx context.Context, endpoint string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// FindDeviceByPhone looks a device up by its exact stored phone number.
func (s *gormStore) FindDeviceByPhone(ctx context.Context, phone string) (*model.Device, error) {
	var d model.Device
	err := s.db.WithContext(ctx).Where("phone_number = ?", phone).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find device by phone %s: %w", phone, err)
	}
	return &d, nil
}

// Save writes the SMS-driven fields of d. Name, phone and coordinates are
// owned by whoever manages the registry and are left alone.
func (s *gormStore) Save(ctx context.Context, d *model.Device) error {
	err := s.db.WithContext(ctx).Model(d).
		Select("status", "temperature1", "temperature2", "update_datetime", "request_datetime").
		Updates(d).Error
	if err != nil {
		return fmt.Errorf("failed to save device %d: %w", d.ID, err)
	}
	return nil
}

// ListDevices returns every registered device ordered by ID.
func (s *gormStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	var devices []model.Device
	if err := s.db.WithContext(ctx).Order("id").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

// ListLocatedDevices returns devices that can be placed on a map: both
// coordinates set and not both zero.
func (s *gormStore) ListLocatedDevices(ctx context.Context) ([]model.Device, error) {
	var devices []model.Device
	err := s.db.WithContext(ctx).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Where("NOT (latitude = 0 AND longitude = 0)").
		Order("id").
		Find(&devices).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list located devices: %w", err)
	}
	return devices, nil
}
