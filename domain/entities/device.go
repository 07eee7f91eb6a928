package entities

import (
	"errors"
	"time"
)

// Device represents an audio device allowed to open recognition sessions
type Device struct {
	ID           string    `json:"id"`
	SerialNumber string    `json:"serial_number"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate validates the device data
func (d *Device) Validate() error {
	if d.SerialNumber == "" {
		return errors.New("serial number is required")
	}
	return nil
}
