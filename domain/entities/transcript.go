package entities

import (
	"errors"
	"time"
)

// Transcript is a final recognition result produced by a streaming session
type Transcript struct {
	ID           string    `json:"id" bson:"_id,omitempty"`
	SessionID    string    `json:"session_id" bson:"session_id"`
	DeviceID     string    `json:"device_id" bson:"device_id"`
	ResponseID   string    `json:"response_id,omitempty" bson:"response_id,omitempty"`
	Text         string    `json:"text" bson:"text"`
	Confidence   float32   `json:"confidence" bson:"confidence"`
	LanguageCode string    `json:"language_code" bson:"language_code"`
	Intent       string    `json:"intent,omitempty" bson:"intent,omitempty"`
	Fulfillment  string    `json:"fulfillment,omitempty" bson:"fulfillment,omitempty"`
	StartedAt    time.Time `json:"started_at" bson:"started_at"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}

// NewTranscript creates a transcript for a session
func NewTranscript(sessionID, deviceID, text string) *Transcript {
	return &Transcript{
		SessionID: sessionID,
		DeviceID:  deviceID,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// Duration returns how long the utterance took from stream start to final result
func (t *Transcript) Duration() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	return t.CreatedAt.Sub(t.StartedAt)
}

// Validate validates the transcript data
func (t *Transcript) Validate() error {
	if t.SessionID == "" {
		return errors.New("session_id is required")
	}
	if t.DeviceID == "" {
		return errors.New("device_id is required")
	}
	return nil
}
