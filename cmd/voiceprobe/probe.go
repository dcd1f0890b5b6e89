package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/bmschat/internal/api"
	"github.com/satriahrh/bmschat/internal/voice"
	ws "github.com/satriahrh/bmschat/internal/websocket"
	"github.com/satriahrh/bmschat/usecase"
)

// audioChunkSize is 100ms of 16kHz LINEAR16 audio
const audioChunkSize = 3200

// probe drives one listening session against a gateway
type probe struct {
	gatewayURL string
	email      string
	password   string
	transcript string
	mode       string
	audio      []byte
	timeout    time.Duration

	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *zap.Logger
}

func newProbe(gatewayURL string, logger *zap.Logger) *probe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &probe{
		gatewayURL: gatewayURL,
		mode:       usecase.ModeBrowser,
		timeout:    time.Minute,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer:     websocket.DefaultDialer,
		logger:     logger,
	}
}

// run logs in, streams the session and returns the chat reply
func (p *probe) run(ctx context.Context) (*usecase.Reply, error) {
	login, err := p.login(ctx)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Logged in", zap.String("user", login.User), zap.String("sessionID", login.SessionID))

	conn, err := p.dial(ctx, login.Token)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	replies := make(chan *usecase.Reply, 1)
	failures := make(chan error, 1)
	go p.readFrames(conn, replies, failures)

	if err := p.replay(conn); err != nil {
		return nil, err
	}

	select {
	case reply := <-replies:
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return reply, nil
	case err := <-failures:
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("no reply received: %w", ctx.Err())
	}
}

func (p *probe) login(ctx context.Context) (*api.LoginResponse, error) {
	body, err := json.Marshal(api.LoginRequest{Email: p.email, Password: p.password})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.gatewayURL, "/")+"/api/v1/login", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to log in: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("login failed with status %d: %s", resp.StatusCode, apiErr.Message)
	}

	var login api.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}
	return &login, nil
}

func (p *probe) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	u, err := url.Parse(p.gatewayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()

	conn, resp, err := p.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connection failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connection failed: %w", err)
	}
	return conn, nil
}

// replay sends the listening session: recognition results word by word in
// browser mode, raw audio in server mode
func (p *probe) replay(conn *websocket.Conn) error {
	start := ws.ListeningStartMessage{
		BaseMessage: ws.BaseMessage{Type: ws.MessageTypeListeningStart},
		Mode:        p.mode,
	}
	if p.mode == usecase.ModeServer {
		start.SampleRate = 16000
		start.Encoding = "LINEAR16"
	}
	if err := conn.WriteJSON(start); err != nil {
		return fmt.Errorf("failed to start listening: %w", err)
	}

	if p.mode == usecase.ModeServer {
		audio := p.audio
		if len(audio) == 0 {
			audio = make([]byte, 10*audioChunkSize)
		}
		for off := 0; off < len(audio); off += audioChunkSize {
			end := off + audioChunkSize
			if end > len(audio) {
				end = len(audio)
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, audio[off:end]); err != nil {
				return fmt.Errorf("failed to send audio: %w", err)
			}
		}
	} else {
		words := strings.Fields(p.transcript)
		if len(words) == 0 {
			return errors.New("transcript is empty")
		}
		for i := 1; i < len(words); i++ {
			if err := p.sendResult(conn, voice.Result{Transcript: strings.Join(words[:i], " "), Confidence: 0.5}); err != nil {
				return err
			}
		}
		if err := p.sendResult(conn, voice.Result{Transcript: strings.Join(words, " "), Final: true, Confidence: 0.9}); err != nil {
			return err
		}
	}

	stop := ws.BaseMessage{Type: ws.MessageTypeListeningStop}
	if err := conn.WriteJSON(stop); err != nil {
		return fmt.Errorf("failed to stop listening: %w", err)
	}
	return nil
}

func (p *probe) sendResult(conn *websocket.Conn, result voice.Result) error {
	msg := ws.RecognitionResultMessage{
		BaseMessage: ws.BaseMessage{Type: ws.MessageTypeRecognitionResult},
		Result:      result,
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send recognition result: %w", err)
	}
	return nil
}

func (p *probe) readFrames(conn *websocket.Conn, replies chan<- *usecase.Reply, failures chan<- error) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			failures <- fmt.Errorf("websocket closed: %w", err)
			return
		}
		if messageType == websocket.BinaryMessage {
			p.logger.Debug("Received speech audio", zap.Int("bytes", len(data)))
			continue
		}

		var event usecase.VoiceEvent
		if err := json.Unmarshal(data, &event); err != nil {
			p.logger.Warn("Ignoring unreadable frame", zap.Error(err))
			continue
		}

		switch event.Type {
		case usecase.EventTranscriptPreview:
			p.logger.Info("Preview", zap.String("text", event.Text))
		case usecase.EventTranscriptCommitted:
			p.logger.Info("Committed", zap.String("raw", event.Raw), zap.String("normalized", event.Normalized))
		case usecase.EventVoiceAdvisory:
			p.logger.Warn("Advisory", zap.String("kind", event.Kind), zap.String("message", event.Message))
			if event.Kind == "empty" {
				failures <- fmt.Errorf("nothing was committed: %s", event.Message)
				return
			}
		case usecase.EventChatResponse:
			if event.Reply != nil {
				replies <- event.Reply
				return
			}
		case usecase.EventError:
			failures <- fmt.Errorf("gateway error: %s", string(data))
			return
		default:
			p.logger.Debug("Frame", zap.String("type", string(event.Type)))
		}
	}
}
