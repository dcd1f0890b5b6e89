package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/bmschat/domain"
	"github.com/satriahrh/bmschat/domain/entities"
	"github.com/satriahrh/bmschat/domain/repositories"
)

const (
	defaultModel     = "gemini-2.0-flash"
	defaultMaxTokens = 1024
	defaultTimeout   = 60 * time.Second
	maxAttempts      = 3
	// maxHistory bounds the turns replayed to the model per session
	maxHistory = 20
)

const systemPrompt = `You are the facility assistant of a building management system.
Answer questions about alarms, devices, telemetry, energy and comfort.
When an answer lists several records, reply with a markdown table whose first
column is Time when the records are timestamped, for example:
| Time | Device | Type | Severity | Status |
Severity values are CRITICAL, MAJOR, MINOR or WARNING. Status values include
ACTIVE and UNREACHABLE. Use "-" for unknown cells.
Prefix weather answers with 🌤 and risk or forecast answers with 🌦.
Keep answers short. If you cannot answer, say so in one sentence.`

// generator is the part of the genai client the backend uses
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures the Gemini assistant
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int
	Timeout         time.Duration
}

type geminiSession struct {
	user    string
	history []*genai.Content
}

// GeminiBackend implements repositories.ChatBackend by answering queries
// with Gemini directly. Any non-empty credentials are accepted, sessions
// live in memory and there are no devices.
type GeminiBackend struct {
	models  generator
	config  GeminiConfig
	logger  *zap.Logger
	backoff time.Duration

	mu       sync.Mutex
	sessions map[string]*geminiSession
}

// NewGeminiBackend creates a new Gemini assistant backend
func NewGeminiBackend(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiBackend, error) {
	if config.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return newGeminiBackend(client.Models, config, logger), nil
}

func newGeminiBackend(models generator, config GeminiConfig, logger *zap.Logger) *GeminiBackend {
	if config.Model == "" {
		config.Model = defaultModel
		logger.Info("Using default model", zap.String("model", config.Model))
	}
	if config.MaxOutputTokens == 0 {
		config.MaxOutputTokens = defaultMaxTokens
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &GeminiBackend{
		models:   models,
		config:   config,
		logger:   logger,
		backoff:  time.Second,
		sessions: make(map[string]*geminiSession),
	}
}

// Login implements repositories.ChatBackend
func (g *GeminiBackend) Login(ctx context.Context, sessionID, email, password string) (*entities.TokenSet, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, repositories.ErrInvalidCredentials
	}

	g.mu.Lock()
	g.sessions[sessionID] = &geminiSession{user: email}
	g.mu.Unlock()

	return &entities.TokenSet{
		SessionID: sessionID,
		User:      email,
		UpdatedAt: time.Now(),
	}, nil
}

// Logout implements repositories.ChatBackend
func (g *GeminiBackend) Logout(ctx context.Context, sessionID string) error {
	g.mu.Lock()
	delete(g.sessions, sessionID)
	g.mu.Unlock()
	return nil
}

// Chat implements repositories.ChatBackend. The answer is returned as a JSON
// string; an empty answer is returned as null.
func (g *GeminiBackend) Chat(ctx context.Context, sessionID string, req domain.ChatRequest) (json.RawMessage, error) {
	g.mu.Lock()
	session, ok := g.sessions[sessionID]
	var history []*genai.Content
	if ok {
		history = append(history, session.history...)
	}
	g.mu.Unlock()
	if !ok {
		return nil, repositories.ErrSessionExpired
	}

	prompt := req.Query
	if req.Device != "" {
		prompt = fmt.Sprintf("%s\n(Selected device: %s)", req.Query, req.Device)
	}
	userContent := genai.NewContentFromText(prompt, genai.RoleUser)
	contents := append(history, userContent)

	text, err := g.generate(ctx, contents)
	if err != nil {
		return nil, err
	}
	if text == "" {
		g.logger.Warn("Empty response from Gemini", zap.String("sessionID", sessionID))
		return json.RawMessage("null"), nil
	}

	g.mu.Lock()
	if session, ok := g.sessions[sessionID]; ok {
		session.history = append(session.history, userContent, genai.NewContentFromText(text, genai.RoleModel))
		if len(session.history) > maxHistory {
			session.history = session.history[len(session.history)-maxHistory:]
		}
	}
	g.mu.Unlock()

	return json.Marshal(text)
}

// Devices implements repositories.ChatBackend. The assistant has no device
// inventory.
func (g *GeminiBackend) Devices(ctx context.Context, sessionID string) ([]entities.Device, error) {
	g.mu.Lock()
	_, ok := g.sessions[sessionID]
	g.mu.Unlock()
	if !ok {
		return nil, repositories.ErrSessionExpired
	}
	return []entities.Device{}, nil
}

// Health implements repositories.ChatBackend
func (g *GeminiBackend) Health(ctx context.Context) error {
	return nil
}

func (g *GeminiBackend) generate(ctx context.Context, contents []*genai.Content) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		MaxOutputTokens:   int32(g.config.MaxOutputTokens),
	}
	if g.config.Temperature > 0 {
		config.Temperature = genai.Ptr(g.config.Temperature)
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		response, err = g.models.GenerateContent(ctx, g.config.Model, contents, config)
		if err == nil {
			break
		}

		g.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("failed to generate content: %w", ctx.Err())
			case <-time.After(time.Duration(attempt+1) * g.backoff):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return "", nil
	}

	var text strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			text.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(text.String()), nil
}
