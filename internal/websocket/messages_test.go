package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/satriahrh/arunika/streamer/domain/repositories"
)

func TestMessageValidator_ValidateListeningStart(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name    string
		message string
		wantErr bool
	}{
		{
			name: "valid listening start",
			message: `{
				"type": "listening_start",
				"session_id": "session-123",
				"sample_rate": 16000,
				"encoding": "linear16",
				"language": "id-ID"
			}`,
			wantErr: false,
		},
		{
			name:    "defaults only",
			message: `{"type": "listening_start"}`,
			wantErr: false,
		},
		{
			name: "invalid sample rate",
			message: `{
				"type": "listening_start",
				"sample_rate": 100000
			}`,
			wantErr: true,
		},
		{
			name: "invalid encoding",
			message: `{
				"type": "listening_start",
				"encoding": "invalid"
			}`,
			wantErr: true,
		},
		{
			name:    "wrong field type",
			message: `{"type": "listening_start", "sample_rate": "fast"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.ValidateMessage([]byte(tt.message))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageValidator_ValidateListeningEnd(t *testing.T) {
	validator := NewMessageValidator()

	result, err := validator.ValidateMessage([]byte(`{"type": "listening_end", "session_id": "session-123"}`))
	if err != nil {
		t.Fatalf("ValidateMessage() error = %v", err)
	}

	endMsg, ok := result.(*ListeningEndMessage)
	if !ok {
		t.Fatalf("Expected *ListeningEndMessage, got %T", result)
	}
	if endMsg.SessionID != "session-123" {
		t.Errorf("Expected session_id 'session-123', got '%s'", endMsg.SessionID)
	}
}

func TestMessageValidator_ValidatePing(t *testing.T) {
	validator := NewMessageValidator()

	message := `{
		"type": "ping",
		"data": "test-ping"
	}`

	result, err := validator.ValidateMessage([]byte(message))
	if err != nil {
		t.Fatalf("ValidateMessage() error = %v", err)
	}

	pingMsg, ok := result.(*PingMessage)
	if !ok {
		t.Fatalf("Expected *PingMessage, got %T", result)
	}

	if pingMsg.Data != "test-ping" {
		t.Errorf("Expected data 'test-ping', got '%s'", pingMsg.Data)
	}
}

func TestMessageValidator_InvalidMessages(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name    string
		message string
	}{
		{name: "invalid json", message: `{not json`},
		{name: "missing type", message: `{"data": "x"}`},
		{name: "unsupported type", message: `{"type": "audio_chunk"}`},
		{name: "server message type", message: `{"type": "recognition"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := validator.ValidateMessage([]byte(tt.message)); err == nil {
				t.Errorf("Expected error for %s", tt.message)
			}
		})
	}
}

func assertRecentTimestamp(t *testing.T, ts string) {
	t.Helper()

	timestamp, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t.Errorf("Invalid timestamp format: %v", err)
	}
	if time.Since(timestamp) > 2*time.Second {
		t.Errorf("Timestamp is not recent: %s", ts)
	}
}

func TestCreateErrorMessage(t *testing.T) {
	code := "TEST_ERROR"
	message := "Test error message"
	details := "Test error details"

	errorMsg := CreateErrorMessage(code, message, details)

	if errorMsg.Type != MessageTypeError {
		t.Errorf("Expected type %s, got %s", MessageTypeError, errorMsg.Type)
	}
	if errorMsg.Code != code {
		t.Errorf("Expected code %s, got %s", code, errorMsg.Code)
	}
	if errorMsg.Message != message {
		t.Errorf("Expected message %s, got %s", message, errorMsg.Message)
	}
	if errorMsg.Details != details {
		t.Errorf("Expected details %s, got %s", details, errorMsg.Details)
	}

	assertRecentTimestamp(t, errorMsg.Timestamp)
}

func TestCreatePongMessage(t *testing.T) {
	data := "test-pong-data"
	pongMsg := CreatePongMessage(data)

	if pongMsg.Type != MessageTypePong {
		t.Errorf("Expected type %s, got %s", MessageTypePong, pongMsg.Type)
	}
	if pongMsg.Data != data {
		t.Errorf("Expected data %s, got %s", data, pongMsg.Data)
	}

	assertRecentTimestamp(t, pongMsg.Timestamp)
}

func TestCreateRecognitionMessage(t *testing.T) {
	event := &repositories.StreamResponse{
		ResponseID: "resp-1",
		RecognitionResult: &repositories.RecognitionResult{
			MessageType: "TRANSCRIPT",
			Transcript:  "halo",
			IsFinal:     true,
		},
	}

	msg := CreateRecognitionMessage("session-1", event)
	assertRecentTimestamp(t, msg.Timestamp)

	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	if decoded["type"] != string(MessageTypeRecognition) {
		t.Errorf("Expected type %s, got %v", MessageTypeRecognition, decoded["type"])
	}
	if decoded["session_id"] != "session-1" {
		t.Errorf("Expected session_id session-1, got %v", decoded["session_id"])
	}

	eventJSON, ok := decoded["event"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected event object, got %T", decoded["event"])
	}
	if eventJSON["response_id"] != "resp-1" {
		t.Errorf("Expected response_id resp-1, got %v", eventJSON["response_id"])
	}
}
