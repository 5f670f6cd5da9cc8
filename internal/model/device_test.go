package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	for s := StatusPoweredOff; s <= StatusPoweredOn; s++ {
		assert.True(t, s.Valid(), "status %d should be valid", s)
	}
	assert.False(t, Status(5).Valid())
	assert.False(t, Status(-1).Valid())
	assert.Equal(t, "sensor 2 overheat", StatusSensor2Overheat.String())
	assert.Equal(t, "unknown (9)", Status(9).String())
	assert.True(t, StatusSensor1Overheat.Overheat())
	assert.False(t, StatusOK.Overheat())
}

func TestDevice_Coordinates(t *testing.T) {
	lat, lon, zero := 55.75, 37.62, 0.0

	d := Device{Name: "boiler-1"}
	assert.False(t, d.HasCoordinates())
	assert.Equal(t, "", d.Coordinates())
	assert.Equal(t, "", d.Phone())

	d.Latitude, d.Longitude = &lat, &lon
	assert.True(t, d.HasCoordinates())
	assert.Equal(t, "55.75,37.62", d.Coordinates())

	d.Latitude, d.Longitude = &zero, &zero
	assert.Equal(t, "", d.Coordinates())
}
