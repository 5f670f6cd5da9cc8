package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"thermal-status-backend/internal/db"
	"thermal-status-backend/internal/model"
)

func newSQLiteStore(t *testing.T) (Store, *gorm.DB) {
	gormDB, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))
	t.Cleanup(func() {
		sqlDB, _ := gormDB.DB()
		sqlDB.Close()
	})
	return NewGormStore(gormDB), gormDB
}

func TestSubscribeDevices(t *testing.T) {
	s, gormDB := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, gormDB.Create(&[]model.Device{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}, {ID: 3, Name: "c"}}).Error)

	sub := &model.PushSubscription{Endpoint: "https://push.example/1", P256DH: "k", Auth: "a"}
	require.NoError(t, s.SubscribeDevices(ctx, sub, []int64{3, 1}))

	ids, err := s.SubscribedDevices(ctx, "https://push.example/1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)

	again := &model.PushSubscription{Endpoint: "https://push.example/1", P256DH: "k2", Auth: "a2"}
	require.NoError(t, s.SubscribeDevices(ctx, again, []int64{2}))
	ids, err = s.SubscribedDevices(ctx, "https://push.example/1")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)

	var stored model.PushSubscription
	require.NoError(t, gormDB.First(&stored, "endpoint = ?", "https://push.example/1").Error)
	assert.Equal(t, "k2", stored.P256DH)
}

func TestSubscribeDevices_UnknownDevice(t *testing.T) {
	s, gormDB := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, gormDB.Create(&model.Device{ID: 1, Name: "a"}).Error)

	sub := &model.PushSubscription{Endpoint: "https://push.example/2", P256DH: "k", Auth: "a"}
	err := s.SubscribeDevices(ctx, sub, []int64{1, 5})

	var unknown *UnknownDevicesError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, []int64{5}, unknown.IDs)

	_, err = s.SubscribedDevices(ctx, "https://push.example/2")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestUnsubscribe(t *testing.T) {
	s, gormDB := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, gormDB.Create(&model.Device{ID: 1, Name: "a"}).Error)

	sub := &model.PushSubscription{Endpoint: "https://push.example/3", P256DH: "k", Auth: "a"}
	require.NoError(t, s.SubscribeDevices(ctx, sub, []int64{1}))
	require.NoError(t, s.Unsubscribe(ctx, "https://push.example/3"))

	_, err := s.SubscribedDevices(ctx, "https://push.example/3")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	var mappings int64
	require.NoError(t, gormDB.Table("subscription_device_mapping").Count(&mappings).Error)
	assert.Zero(t, mappings)

	assert.NoError(t, s.Unsubscribe(ctx, "https://push.example/missing"))
}
