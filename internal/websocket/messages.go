package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/satriahrh/bmschat/internal/voice"
	"github.com/satriahrh/bmschat/usecase"
)

// MessageType defines the type of a client WebSocket message
type MessageType string

// Messages sent by the client
const (
	MessageTypeListeningStart    MessageType = "listening_start"
	MessageTypeRecognitionResult MessageType = "recognition_result"
	MessageTypeRecognitionError  MessageType = "recognition_error"
	MessageTypeRecognitionEnd    MessageType = "recognition_end"
	MessageTypeListeningStop     MessageType = "listening_stop"
	MessageTypeSelectDevice      MessageType = "select_device"
	MessageTypePing              MessageType = "ping"
)

// Messages sent by the gateway besides voice events
const (
	MessageTypeDeviceSelected MessageType = "device_selected"
	MessageTypePong           MessageType = "pong"
	MessageTypeError          MessageType = "error"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// ListeningStartMessage opens a listening session
type ListeningStartMessage struct {
	BaseMessage
	Mode       string `json:"mode"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
}

// Options converts the message to listening options
func (m *ListeningStartMessage) Options() usecase.ListenOptions {
	return usecase.ListenOptions{
		Mode:       m.Mode,
		Language:   m.Language,
		SampleRate: m.SampleRate,
		Encoding:   m.Encoding,
	}
}

// RecognitionResultMessage carries a browser recognition result
type RecognitionResultMessage struct {
	BaseMessage
	voice.Result
}

// RecognitionErrorMessage carries a browser recognition error name
type RecognitionErrorMessage struct {
	BaseMessage
	Error string `json:"error"`
}

// SelectDeviceMessage scopes later queries to a device
type SelectDeviceMessage struct {
	BaseMessage
	DeviceID string `json:"device_id"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// DeviceSelectedMessage confirms a device selection
type DeviceSelectedMessage struct {
	BaseMessage
	DeviceID string `json:"device_id"`
}

// MessageValidator parses and validates client messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses an incoming message into its typed form
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
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
		if msg.Mode == "" {
			msg.Mode = usecase.ModeBrowser
		}
		if msg.Mode != usecase.ModeBrowser && msg.Mode != usecase.ModeServer {
			return nil, fmt.Errorf("mode must be one of: browser, server")
		}
		if msg.SampleRate != 0 && (msg.SampleRate < 8000 || msg.SampleRate > 48000) {
			return nil, fmt.Errorf("sample_rate must be between 8000 and 48000")
		}
		return &msg, nil

	case MessageTypeRecognitionResult:
		var msg RecognitionResultMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid recognition result message: %w", err)
		}
		if msg.Confidence < 0 || msg.Confidence > 1 {
			return nil, fmt.Errorf("confidence must be between 0 and 1")
		}
		return &msg, nil

	case MessageTypeRecognitionError:
		var msg RecognitionErrorMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid recognition error message: %w", err)
		}
		return &msg, nil

	case MessageTypeSelectDevice:
		var msg SelectDeviceMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid select device message: %w", err)
		}
		msg.DeviceID = strings.TrimSpace(msg.DeviceID)
		return &msg, nil

	case MessageTypeRecognitionEnd, MessageTypeListeningStop, MessageTypePing:
		return &base, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().Format(time.RFC3339)}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{BaseMessage: newBase(MessageTypeError), Code: code, Message: message}
}
