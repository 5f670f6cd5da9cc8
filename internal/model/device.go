package model

import (
	"fmt"
	"time"
)

// Status is the reported state of a thermal device.
type Status int

const (
	StatusPoweredOff      Status = 0
	StatusOK              Status = 1
	StatusSensor1Overheat Status = 2
	StatusSensor2Overheat Status = 3
	StatusPoweredOn       Status = 4
)

var statusNames = map[Status]string{
	StatusPoweredOff:      "powered off",
	StatusOK:              "ok",
	StatusSensor1Overheat: "sensor 1 overheat",
	StatusSensor2Overheat: "sensor 2 overheat",
	StatusPoweredOn:       "powered on",
}

// Valid reports whether s is one of the five defined codes.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// String returns the display text for the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown (%d)", int(s))
}

// Overheat reports whether s is one of the overheat states.
func (s Status) Overheat() bool {
	return s == StatusSensor1Overheat || s == StatusSensor2Overheat
}

// Device is a remote thermal sensor tracked by its SIM phone number.
type Device struct {
	ID              int64     `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"uniqueIndex;size:255;not null" json:"name"`
	PhoneNumber     *string   `gorm:"size:20;index" json:"phone_number"`
	Temperature1    *float64  `json:"temperature1"`
	Temperature2    *float64  `json:"temperature2"`
	Status          Status    `gorm:"not null;default:0;index" json:"status"`
	Latitude        *float64  `json:"latitude"`
	Longitude       *float64  `json:"longitude"`
	UpdateDatetime  time.Time `gorm:"not null;index" json:"update_datetime"`
	RequestDatetime time.Time `gorm:"not null" json:"request_datetime"`
}

// Phone returns the stored phone number or an empty string.
func (d *Device) Phone() string {
	if d.PhoneNumber == nil {
		return ""
	}
	return *d.PhoneNumber
}

// HasCoordinates reports whether both latitude and longitude are set.
func (d *Device) HasCoordinates() bool {
	return d.Latitude != nil && d.Longitude != nil
}

// Coordinates formats the position as "lat,lon", or "" when unknown.
func (d *Device) Coordinates() string {
	if !d.HasCoordinates() || (*d.Latitude == 0 && *d.Longitude == 0) {
		return ""
	}
	return fmt.Sprintf("%g,%g", *d.Latitude, *d.Longitude)
}

func (d *Device) String() string {
	return fmt.Sprintf("%s (status: %s)", d.Name, d.Status)
}
