package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/bmschat/domain"
	"github.com/satriahrh/bmschat/domain/entities"
	"github.com/satriahrh/bmschat/domain/repositories"
	"github.com/satriahrh/bmschat/internal/metrics"
	"github.com/satriahrh/bmschat/internal/render"
)

// Lines shown to the user
const (
	NoDataMessage             = "No data found or unable to answer your query."
	ErrorMessage              = "❌ Error processing request. Please try again."
	CancelledMessage          = "❌ Request cancelled by user."
	SessionExpiredMessage     = "Session expired. Please log in again."
	InvalidCredentialsMessage = "❌ Invalid credentials or server issue."
)

var (
	// ErrEmptyQuery is returned when there is nothing to send
	ErrEmptyQuery = errors.New("query is empty")
	// ErrRequestInFlight is returned when the conversation already waits for an answer
	ErrRequestInFlight = errors.New("a request is already in progress")
)

var deviceWordRe = regexp.MustCompile(`(?i)\b(device|tower|sensor|thermostat)\b`)

// Reply is an assistant line together with its display plan
type Reply struct {
	Message  entities.ChatMessage `json:"message"`
	Document render.Document      `json:"document"`
	HTML     string               `json:"html"`
}

type inflight struct {
	id        string
	cancel    context.CancelFunc
	cancelled bool
}

// ChatService runs the conversation of each login session against the chat
// backend
type ChatService struct {
	backend       repositories.ChatBackend
	conversations repositories.ConversationRepository
	renderer      *render.HTMLRenderer
	metrics       *metrics.Metrics
	sessionTTL    time.Duration
	logger        *zap.Logger

	mu       sync.Mutex
	inflight map[string]*inflight
	devices  map[string][]entities.Device
}

// ChatOption configures a ChatService
type ChatOption func(*ChatService)

// WithChatMetrics records query outcomes on m
func WithChatMetrics(m *metrics.Metrics) ChatOption {
	return func(s *ChatService) { s.metrics = m }
}

// WithSessionTTL sets how long an idle conversation stays usable
func WithSessionTTL(ttl time.Duration) ChatOption {
	return func(s *ChatService) { s.sessionTTL = ttl }
}

// NewChatService creates a new chat service
func NewChatService(
	backend repositories.ChatBackend,
	conversations repositories.ConversationRepository,
	logger *zap.Logger,
	opts ...ChatOption,
) *ChatService {
	s := &ChatService{
		backend:       backend,
		conversations: conversations,
		renderer:      render.NewHTMLRenderer(),
		metrics:       metrics.NewNop(),
		sessionTTL:    entities.DefaultSessionTTL,
		logger:        logger,
		inflight:      make(map[string]*inflight),
		devices:       make(map[string][]entities.Device),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login authenticates the user and opens a conversation for the new session
func (s *ChatService) Login(ctx context.Context, email, password string) (*entities.Conversation, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, repositories.ErrInvalidCredentials
	}

	sessionID := uuid.NewString()
	tokens, err := s.backend.Login(ctx, sessionID, email, password)
	if err != nil {
		return nil, err
	}

	conv := entities.NewConversation(sessionID, tokens.User, s.sessionTTL)
	if err := s.conversations.Create(ctx, conv); err != nil {
		_ = s.backend.Logout(ctx, sessionID)
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.logger.Info("Conversation opened",
		zap.String("sessionID", sessionID),
		zap.String("user", conv.User))
	return conv, nil
}

// Resume returns the conversation of a session whose tokens are already
// stored, creating an empty one when none exists
func (s *ChatService) Resume(ctx context.Context, sessionID, user string) (*entities.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, sessionID)
	if err == nil && !conv.IsExpired() {
		return conv, nil
	}
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}
	if conv != nil {
		if err := s.conversations.Delete(ctx, sessionID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return nil, err
		}
	}

	conv = entities.NewConversation(sessionID, user, s.sessionTTL)
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// Logout ends the session: pending requests are cancelled, tokens are
// forgotten and the conversation is terminated
func (s *ChatService) Logout(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if f, ok := s.inflight[sessionID]; ok {
		f.cancel()
		delete(s.inflight, sessionID)
	}
	delete(s.devices, sessionID)
	s.mu.Unlock()

	if err := s.backend.Logout(ctx, sessionID); err != nil {
		s.logger.Warn("Failed to clear backend tokens", zap.String("sessionID", sessionID), zap.Error(err))
	}

	conv, err := s.conversations.GetByID(ctx, sessionID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	conv.Terminate()
	if err := s.conversations.Update(ctx, conv); err != nil {
		return fmt.Errorf("failed to terminate conversation: %w", err)
	}

	s.logger.Info("Conversation closed", zap.String("sessionID", sessionID))
	return nil
}

// Conversation returns the active conversation of a session
func (s *ChatService) Conversation(ctx context.Context, sessionID string) (*entities.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, sessionID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, repositories.ErrSessionExpired
	}
	if err != nil {
		return nil, err
	}
	if conv.IsExpired() {
		return nil, repositories.ErrSessionExpired
	}
	return conv, nil
}

// Devices lists the session's devices and caches them for name lookups
func (s *ChatService) Devices(ctx context.Context, sessionID string) ([]entities.Device, error) {
	if _, err := s.Conversation(ctx, sessionID); err != nil {
		return nil, err
	}

	devices, err := s.backend.Devices(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrSessionExpired) {
			s.expire(sessionID)
		}
		return nil, err
	}

	s.mu.Lock()
	s.devices[sessionID] = devices
	s.mu.Unlock()
	return devices, nil
}

// SelectDevice scopes later queries to a device; "" clears the selection
func (s *ChatService) SelectDevice(ctx context.Context, sessionID, deviceID string) error {
	conv, err := s.Conversation(ctx, sessionID)
	if err != nil {
		return err
	}
	conv.SelectDevice(strings.TrimSpace(deviceID))
	return s.conversations.Update(ctx, conv)
}

// Send appends the query to the conversation, asks the backend and appends
// the answer. deviceID overrides the selected device when not empty.
//
// A backend failure is not an error: the reply carries an error line. Only
// an expired session, an empty query or a request already in flight are
// returned as errors.
func (s *ChatService) Send(ctx context.Context, sessionID, query, deviceID string) (*Reply, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	conv, err := s.Conversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if deviceID == "" {
		deviceID = conv.DeviceID
	}

	reqCtx, f, err := s.begin(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer s.finish(sessionID, f)

	if err := s.conversations.Append(ctx, sessionID, entities.NewUserMessage(conv.User, query, deviceID)); err != nil {
		return nil, fmt.Errorf("failed to append query: %w", err)
	}

	req := domain.ChatRequest{
		Query:  EnrichQuery(query, s.deviceName(ctx, sessionID, deviceID)),
		User:   conv.User,
		Device: deviceID,
	}
	s.logger.Debug("Sending query",
		zap.String("sessionID", sessionID),
		zap.String("query", req.Query),
		zap.String("device", deviceID))

	raw, err := s.backend.Chat(reqCtx, sessionID, req)

	s.mu.Lock()
	cancelled := f.cancelled
	s.mu.Unlock()

	switch {
	case cancelled:
		s.metrics.RecordChatQuery("cancelled")
		return s.reply(ctx, sessionID, entities.NewAssistantMessage(CancelledMessage, entities.MessageStatusCancelled))

	case err == nil:
		text, ok := NormalizeResponse(raw)
		if ok {
			s.metrics.RecordChatQuery("answered")
		} else {
			s.metrics.RecordChatQuery("no_data")
		}
		return s.reply(ctx, sessionID, entities.NewAssistantMessage(text, entities.MessageStatusDelivered))

	case errors.Is(err, repositories.ErrSessionExpired):
		s.metrics.RecordChatQuery("session_expired")
		s.logger.Info("Session expired during query", zap.String("sessionID", sessionID), zap.Error(err))
		s.expire(sessionID)
		return nil, err

	case ctx.Err() != nil:
		s.metrics.RecordChatQuery("abandoned")
		return nil, ctx.Err()

	default:
		s.metrics.RecordChatQuery("error")
		s.logger.Error("Chat query failed", zap.String("sessionID", sessionID), zap.Error(err))
		return s.reply(ctx, sessionID, entities.NewAssistantMessage(ErrorMessage, entities.MessageStatusError))
	}
}

// Cancel aborts the request the session is waiting on. It reports whether
// there was one.
func (s *ChatService) Cancel(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.inflight[sessionID]
	if !ok {
		return false
	}
	f.cancelled = true
	f.cancel()
	s.logger.Info("Request cancelled by user", zap.String("sessionID", sessionID))
	return true
}

// Render plans and renders a message text
func (s *ChatService) Render(text string) (render.Document, string) {
	doc := render.Plan(text)
	return doc, s.renderer.Render(doc)
}

func (s *ChatService) begin(ctx context.Context, sessionID string) (context.Context, *inflight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inflight[sessionID]; busy {
		return nil, nil, ErrRequestInFlight
	}
	reqCtx, cancel := context.WithCancel(ctx)
	f := &inflight{id: uuid.NewString(), cancel: cancel}
	s.inflight[sessionID] = f
	return reqCtx, f, nil
}

func (s *ChatService) finish(sessionID string, f *inflight) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f.cancel()
	if cur, ok := s.inflight[sessionID]; ok && cur.id == f.id {
		delete(s.inflight, sessionID)
	}
}

func (s *ChatService) reply(ctx context.Context, sessionID string, msg entities.ChatMessage) (*Reply, error) {
	if err := s.conversations.Append(ctx, sessionID, msg); err != nil {
		return nil, fmt.Errorf("failed to append reply: %w", err)
	}
	doc, html := s.Render(msg.Text)
	return &Reply{Message: msg, Document: doc, HTML: html}, nil
}

// expire logs the session out after the backend gave up on it
func (s *ChatService) expire(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Logout(ctx, sessionID); err != nil {
		s.logger.Error("Failed to log out expired session", zap.String("sessionID", sessionID), zap.Error(err))
	}
}

// deviceName resolves a device id to its display name, loading the device
// list once per session. Unknown ids are their own name.
func (s *ChatService) deviceName(ctx context.Context, sessionID, deviceID string) string {
	if deviceID == "" {
		return ""
	}

	s.mu.Lock()
	devices, cached := s.devices[sessionID]
	s.mu.Unlock()

	if !cached {
		var err error
		devices, err = s.backend.Devices(ctx, sessionID)
		if err != nil {
			s.logger.Warn("Failed to load devices for name lookup", zap.String("sessionID", sessionID), zap.Error(err))
			return deviceID
		}
		s.mu.Lock()
		s.devices[sessionID] = devices
		s.mu.Unlock()
	}

	if d, ok := entities.FindDevice(devices, deviceID); ok {
		return d.DisplayName()
	}
	return deviceID
}

// EnrichQuery scopes a query to a device by name. When the query already
// mentions a device, tower, sensor or thermostat those words are replaced by
// the name; otherwise " for <name>" is appended.
func EnrichQuery(query, deviceName string) string {
	if deviceName == "" {
		return query
	}
	if !deviceWordRe.MatchString(query) {
		return query + " for " + deviceName
	}
	return deviceWordRe.ReplaceAllLiteralString(query, deviceName)
}

// NormalizeResponse extracts the answer text from the backend's response
// field. A {"result": ...} wrapper is unwrapped. It returns the no-data line
// and false when there is no usable text.
func NormalizeResponse(raw json.RawMessage) (string, bool) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if strings.TrimSpace(text) == "" {
			return NoDataMessage, false
		}
		return text, true
	}

	var wrapped struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Result) > 0 {
		if err := json.Unmarshal(wrapped.Result, &text); err == nil && strings.TrimSpace(text) != "" {
			return text, true
		}
	}
	return NoDataMessage, false
}
