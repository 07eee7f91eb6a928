package repositories

import (
	"context"

	"github.com/satriahrh/arunika/streamer/domain/entities"
)

// DeviceRepository defines data access methods for devices
type DeviceRepository interface {
	Create(ctx context.Context, device *entities.Device) error
	GetByID(ctx context.Context, id string) (*entities.Device, error)
	GetBySerialNumber(ctx context.Context, serialNumber string) (*entities.Device, error)
	// ValidateDevice validates device credentials for authentication
	ValidateDevice(serialNumber, secret string) (*entities.Device, error)
}

// TranscriptRepository stores final recognition results
type TranscriptRepository interface {
	Create(ctx context.Context, transcript *entities.Transcript) error
	ListBySession(ctx context.Context, sessionID string) ([]*entities.Transcript, error)
}
