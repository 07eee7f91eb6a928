package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/satriahrh/arunika/streamer/domain/repositories"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	MessageTypeListeningStart MessageType = "listening_start"
	MessageTypeListeningEnd   MessageType = "listening_end"
	MessageTypeRecognition    MessageType = "recognition"
	MessageTypePing           MessageType = "ping"
	MessageTypePong           MessageType = "pong"
	MessageTypeError          MessageType = "error"
)

// Reasons a listening session ended
const (
	EndReasonRequested   = "requested"
	EndReasonFinalResult = "final_result"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type" validate:"required"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id,omitempty"`
}

// ListeningStartMessage asks the server to open a recognition stream.
// Zero values fall back to the server defaults.
type ListeningStartMessage struct {
	BaseMessage
	SessionID   string   `json:"session_id,omitempty"`
	SampleRate  int      `json:"sample_rate,omitempty" validate:"omitempty,min=8000,max=48000"`
	Encoding    string   `json:"encoding,omitempty"`
	Language    string   `json:"language,omitempty"`
	PhraseHints []string `json:"phrase_hints,omitempty"`
}

// ListeningEndMessage ends the current recognition stream
type ListeningEndMessage struct {
	BaseMessage
	SessionID string `json:"session_id,omitempty"`
}

// ListeningStartedMessage acknowledges a listening_start
type ListeningStartedMessage struct {
	BaseMessage
	SessionID string `json:"session_id"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ListeningEndedMessage reports that the recognition stream has been ended
type ListeningEndedMessage struct {
	BaseMessage
	SessionID  string `json:"session_id"`
	Reason     string `json:"reason"`
	ChunkCount int    `json:"chunk_count"`
	DurationMs int64  `json:"duration_ms"`
	Transcript string `json:"transcript,omitempty"`
}

// RecognitionMessage forwards one recognition event to the device
type RecognitionMessage struct {
	BaseMessage
	SessionID string                       `json:"session_id"`
	Event     *repositories.StreamResponse `json:"event"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage validates an incoming message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	// First parse as base message to get type
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeListeningStart:
		var msg ListeningStartMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid listening start message: %w", err)
		}
		if err := v.validateListeningStart(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeListeningEnd:
		var msg ListeningEndMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid listening end message: %w", err)
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	case "":
		return nil, fmt.Errorf("message missing type field")

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

// validateListeningStart validates listening start message fields
func (v *MessageValidator) validateListeningStart(msg *ListeningStartMessage) error {
	if msg.SampleRate != 0 && (msg.SampleRate < 8000 || msg.SampleRate > 48000) {
		return fmt.Errorf("sample_rate must be between 8000 and 48000")
	}

	if msg.Encoding != "" {
		validEncodings := map[string]bool{
			"LINEAR16": true, "PCM": true, "WAV": true, "FLAC": true,
			"MULAW": true, "AMR": true, "AMR_WB": true, "OGG_OPUS": true,
			"SPEEX_WITH_HEADER_BYTE": true, "WEBM_OPUS": true,
		}
		if !validEncodings[strings.ToUpper(msg.Encoding)] {
			return fmt.Errorf("unsupported encoding: %s", msg.Encoding)
		}
	}

	if len(msg.SessionID) > 128 {
		return fmt.Errorf("session_id must be at most 128 characters")
	}

	return nil
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{
		Type:      t,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: newBase(MessageTypePong),
		Data:        data,
	}
}

// CreateRecognitionMessage wraps a recognition event for the device
func CreateRecognitionMessage(sessionID string, event *repositories.StreamResponse) *RecognitionMessage {
	return &RecognitionMessage{
		BaseMessage: newBase(MessageTypeRecognition),
		SessionID:   sessionID,
		Event:       event,
	}
}
