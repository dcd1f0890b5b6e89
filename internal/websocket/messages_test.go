package websocket

import (
	"testing"

	"github.com/satriahrh/bmschat/usecase"
)

func TestMessageValidator_ValidateMessage(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name    string
		message string
		wantErr bool
	}{
		{name: "listening start", message: `{"type": "listening_start", "mode": "server", "sample_rate": 16000, "encoding": "LINEAR16"}`},
		{name: "listening start defaults", message: `{"type": "listening_start"}`},
		{name: "bad mode", message: `{"type": "listening_start", "mode": "telepathy"}`, wantErr: true},
		{name: "bad sample rate", message: `{"type": "listening_start", "sample_rate": 100000}`, wantErr: true},
		{name: "recognition result", message: `{"type": "recognition_result", "transcript": "show alarms", "is_final": true, "confidence": 0.92}`},
		{name: "bad confidence", message: `{"type": "recognition_result", "transcript": "x", "confidence": 3}`, wantErr: true},
		{name: "recognition error", message: `{"type": "recognition_error", "error": "no-speech"}`},
		{name: "recognition end", message: `{"type": "recognition_end"}`},
		{name: "listening stop", message: `{"type": "listening_stop"}`},
		{name: "select device", message: `{"type": "select_device", "device_id": " dev-1 "}`},
		{name: "unknown type", message: `{"type": "audio_chunk"}`, wantErr: true},
		{name: "invalid JSON", message: `{"type": `, wantErr: true},
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

func TestMessageValidator_ParsedFields(t *testing.T) {
	validator := NewMessageValidator()

	msg, err := validator.ValidateMessage([]byte(`{"type": "listening_start"}`))
	if err != nil {
		t.Fatalf("ValidateMessage failed: %v", err)
	}
	start, ok := msg.(*ListeningStartMessage)
	if !ok {
		t.Fatalf("Expected *ListeningStartMessage, got %T", msg)
	}
	if start.Options().Mode != usecase.ModeBrowser {
		t.Errorf("Expected browser mode by default, got %q", start.Mode)
	}

	msg, _ = validator.ValidateMessage([]byte(`{"type": "recognition_result", "transcript": "show alarms", "is_final": true, "alternatives": [{"transcript": "show a larms", "confidence": 0.4}]}`))
	result, ok := msg.(*RecognitionResultMessage)
	if !ok {
		t.Fatalf("Expected *RecognitionResultMessage, got %T", msg)
	}
	if result.Transcript != "show alarms" || !result.Final || len(result.Alternatives) != 1 {
		t.Errorf("Unexpected result %+v", result.Result)
	}

	msg, _ = validator.ValidateMessage([]byte(`{"type": "select_device", "device_id": " dev-1 "}`))
	if sel := msg.(*SelectDeviceMessage); sel.DeviceID != "dev-1" {
		t.Errorf("Expected trimmed device id, got %q", sel.DeviceID)
	}
}

func TestCreateErrorMessage(t *testing.T) {
	msg := CreateErrorMessage("not_listening", "No listening session")
	if msg.Type != MessageTypeError || msg.Code != "not_listening" || msg.Timestamp == "" {
		t.Errorf("Unexpected error message %+v", msg)
	}
}
