package api

import (
	"time"

	"github.com/satriahrh/arunika/streamer/domain/entities"
)

// DeviceAuthRequest represents the request payload for device authentication
type DeviceAuthRequest struct {
	SerialNumber string `json:"serial_number" validate:"required"`
	SecretKey    string `json:"secret_key" validate:"required"`
}

// DeviceAuthResponse represents the response payload for device authentication
type DeviceAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	DeviceID  string    `json:"device_id"`
}

// HealthResponse is returned by the health check
type HealthResponse struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	ConnectedDevices int    `json:"connected_devices"`
}

// TranscriptResponse is one stored final recognition result
type TranscriptResponse struct {
	ID           string    `json:"id"`
	ResponseID   string    `json:"response_id,omitempty"`
	Text         string    `json:"text"`
	Confidence   float32   `json:"confidence"`
	LanguageCode string    `json:"language_code"`
	Intent       string    `json:"intent,omitempty"`
	Fulfillment  string    `json:"fulfillment,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// TranscriptsResponse lists the transcripts of one session
type TranscriptsResponse struct {
	SessionID   string               `json:"session_id"`
	Transcripts []TranscriptResponse `json:"transcripts"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func newTranscriptResponse(t *entities.Transcript) TranscriptResponse {
	return TranscriptResponse{
		ID:           t.ID,
		ResponseID:   t.ResponseID,
		Text:         t.Text,
		Confidence:   t.Confidence,
		LanguageCode: t.LanguageCode,
		Intent:       t.Intent,
		Fulfillment:  t.Fulfillment,
		DurationMs:   t.Duration().Milliseconds(),
		CreatedAt:    t.CreatedAt,
	}
}
