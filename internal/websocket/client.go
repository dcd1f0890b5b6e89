package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/bmschat/usecase"
)

// WriteData is one outbound frame
type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the voice
// session of one login session.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	sessionID string
	voice     *usecase.VoiceSession
	validator *MessageValidator
	logger    *zap.Logger

	sendMu sync.Mutex
	closed bool
}

// Deliver implements usecase.VoiceSink
func (c *Client) Deliver(event usecase.VoiceEvent) {
	if event.Type == usecase.EventSpeakingAudio {
		c.enqueue(WriteData{Type: websocket.BinaryMessage, Payload: event.Audio})
		return
	}
	c.sendJSON(event)
}

func (c *Client) sendJSON(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
}

func (c *Client) sendError(code, message string) {
	c.sendJSON(CreateErrorMessage(code, message))
}

// enqueue drops the frame when the client is gone or too slow
func (c *Client) enqueue(data WriteData) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Send buffer full, dropping frame", zap.Int("type", data.Type))
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps messages from the websocket connection to the voice session.
func (c *Client) readPump() {
	defer func() {
		c.voice.Close()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processAudio(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the send channel to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage processes control messages from the client
func (c *Client) processMessage(message []byte) {
	msg, err := c.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Rejected client message", zap.Error(err))
		c.sendError("invalid_message", err.Error())
		return
	}

	switch m := msg.(type) {
	case *ListeningStartMessage:
		c.handleListeningStart(m)
	case *RecognitionResultMessage:
		c.voice.HandleResult(m.Result)
	case *RecognitionErrorMessage:
		c.voice.HandleError(m.Error)
	case *SelectDeviceMessage:
		c.handleSelectDevice(m)
	case *BaseMessage:
		switch m.Type {
		case MessageTypeRecognitionEnd:
			c.voice.HandleEnd()
		case MessageTypeListeningStop:
			c.voice.Stop()
		case MessageTypePing:
			c.sendJSON(newBase(MessageTypePong))
		}
	}
}

// processAudio forwards binary audio to the server-side recognizer
func (c *Client) processAudio(data []byte) {
	if err := c.voice.WriteAudio(data); err != nil {
		if errors.Is(err, usecase.ErrNotListening) {
			c.logger.Debug("Dropping audio outside a listening session", zap.Int("size", len(data)))
			c.sendError("not_listening", "Audio received outside a server-side listening session")
			return
		}
		c.logger.Error("Failed to stream audio data", zap.Error(err))
		c.sendError("recognition_failed", err.Error())
	}
}

func (c *Client) handleListeningStart(m *ListeningStartMessage) {
	err := c.voice.Start(m.Options())
	switch {
	case err == nil:
	case errors.Is(err, usecase.ErrRecognizerUnavailable):
		c.sendError("recognizer_unavailable", err.Error())
	default:
		c.logger.Error("Failed to start listening", zap.Error(err))
		c.sendError("recognition_failed", "Speech recognition could not be started")
	}
}

func (c *Client) handleSelectDevice(m *SelectDeviceMessage) {
	if err := c.voice.SelectDevice(m.DeviceID); err != nil {
		c.logger.Warn("Failed to select device", zap.String("deviceID", m.DeviceID), zap.Error(err))
		c.sendError("select_device_failed", err.Error())
		return
	}
	c.sendJSON(DeviceSelectedMessage{BaseMessage: newBase(MessageTypeDeviceSelected), DeviceID: m.DeviceID})
}
