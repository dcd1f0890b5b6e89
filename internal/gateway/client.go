// Package gateway talks to the remote chat and authentication backend.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/satriahrh/bmschat/domain"
	"github.com/satriahrh/bmschat/domain/entities"
	"github.com/satriahrh/bmschat/domain/repositories"
	"github.com/satriahrh/bmschat/internal/metrics"
	"github.com/satriahrh/bmschat/internal/tokenstore"
)

var (
	// ErrUnauthorized is returned when the backend rejects the session's tokens
	ErrUnauthorized = errors.New("backend rejected authorization")
	// ErrSessionExpired is returned when the tokens are gone or a refresh and retry did not help
	ErrSessionExpired = repositories.ErrSessionExpired
	// ErrInvalidCredentials is returned when login is refused
	ErrInvalidCredentials = repositories.ErrInvalidCredentials
)

const (
	defaultTimeout   = 90 * time.Second
	defaultUserAgent = "bmschat-gateway/1.0"

	loginPath        = "/login"
	refreshPath      = "/inferrix/refresh-token"
	chatPath         = "/chat/enhanced"
	devicesPath      = "/inferrix/devices"
	healthPath       = "/health"
	accessHeaderName = "X-Inferrix-Token"
)

// APIError is a non-2xx answer from the backend
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Is makes a 401 answer match ErrUnauthorized
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Config holds configuration for the backend client
type Config struct {
	BaseURL   string        // Required: backend base URL, e.g. http://localhost:8000
	Timeout   time.Duration // Optional: per-request timeout (default: 90s)
	UserAgent string        // Optional: User-Agent header
}

// Client implements repositories.ChatBackend over HTTP
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	tokens     *tokenstore.Store
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// Ensure Client implements the ChatBackend interface
var _ repositories.ChatBackend = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics records backend calls on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a backend client
func NewClient(config Config, tokens *tokenstore.Store, logger *zap.Logger, opts ...Option) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("backend base URL is required")
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
		logger.Info("Using default backend timeout", zap.Duration("timeout", timeout))
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	c := &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		metrics:    metrics.NewNop(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Login authenticates against the backend and stores the session's tokens
func (c *Client) Login(ctx context.Context, sessionID, email, password string) (*entities.TokenSet, error) {
	var resp domain.LoginResponse
	err := c.doJSON(ctx, http.MethodPost, loginPath, nil, domain.LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			c.logger.Info("Login refused", zap.String("email", email), zap.Int("statusCode", apiErr.StatusCode))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to login: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("failed to login: %w", errors.New("backend returned no session token"))
	}

	tokens := entities.TokenSet{
		SessionID:    sessionID,
		SessionToken: resp.AccessToken,
		AccessToken:  resp.InferrixToken,
		RefreshToken: resp.RefreshToken,
		User:         subjectOf(resp.AccessToken, email),
	}
	if err := c.tokens.Save(ctx, tokens); err != nil {
		return nil, err
	}

	c.logger.Info("User logged in",
		zap.String("sessionID", sessionID),
		zap.String("user", tokens.User),
		zap.Bool("hasRefreshToken", tokens.RefreshToken != ""))
	return &tokens, nil
}

// Logout forgets the session's tokens
func (c *Client) Logout(ctx context.Context, sessionID string) error {
	return c.tokens.Clear(ctx, sessionID)
}

// Chat sends a query and returns the raw response field
func (c *Client) Chat(ctx context.Context, sessionID string, req domain.ChatRequest) (json.RawMessage, error) {
	var resp domain.ChatResponse
	err := c.withSession(ctx, sessionID, func(ctx context.Context, tokens *entities.TokenSet) error {
		return c.doJSON(ctx, http.MethodPost, chatPath, tokens, req, &resp)
	})
	if err != nil {
		return nil, err
	}
	return resp.Response, nil
}

// Devices lists the devices visible to the session, in backend order
func (c *Client) Devices(ctx context.Context, sessionID string) ([]entities.Device, error) {
	var resp domain.DevicesResponse
	err := c.withSession(ctx, sessionID, func(ctx context.Context, tokens *entities.TokenSet) error {
		return c.doJSON(ctx, http.MethodGet, devicesPath, tokens, nil, &resp)
	})
	if err != nil {
		return nil, err
	}

	devices := make([]entities.Device, 0, len(resp.Devices))
	for _, d := range resp.Devices {
		if d.ID.ID == "" {
			continue
		}
		devices = append(devices, entities.Device{
			ID:    d.ID.ID,
			Name:  d.Name,
			Type:  d.Type,
			Label: d.Label,
		})
	}
	return devices, nil
}

// Health checks that the backend answers
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, healthPath, nil, nil, nil)
}

// withSession runs call with the session's tokens. When the backend answers
// 401 the access token is refreshed once and call is retried once; a second
// rejection, or a failed refresh, ends the session. An access token whose exp
// has passed is refreshed before the first call as well.
func (c *Client) withSession(ctx context.Context, sessionID string, call func(ctx context.Context, tokens *entities.TokenSet) error) error {
	tokens, err := c.tokens.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNoTokens) {
			return ErrSessionExpired
		}
		return err
	}

	// An access token already past its exp is refreshed before the call.
	// This does not use up the refresh allowed after a 401.
	if tokens.CanRefresh() && c.tokens.AccessExpired(tokens) {
		if next, err := c.refresh(ctx, sessionID); err == nil {
			tokens = next
		} else {
			c.logger.Warn("Proactive token refresh failed", zap.String("sessionID", sessionID), zap.Error(err))
		}
	}

	err = call(ctx, tokens)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	c.logger.Info("Backend rejected access token, refreshing", zap.String("sessionID", sessionID))
	next, rerr := c.refresh(ctx, sessionID)
	if rerr != nil {
		return fmt.Errorf("%w: %v", ErrSessionExpired, rerr)
	}

	err = call(ctx, next)
	if errors.Is(err, ErrUnauthorized) {
		c.logger.Warn("Retry after refresh was rejected", zap.String("sessionID", sessionID))
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	return err
}

func (c *Client) refresh(ctx context.Context, sessionID string) (*entities.TokenSet, error) {
	tokens, err := c.tokens.Refresh(ctx, sessionID, c.exchangeRefreshToken)
	if err != nil {
		c.metrics.RecordTokenRefresh("failed")
		return nil, err
	}
	c.metrics.RecordTokenRefresh("ok")
	return tokens, nil
}

func (c *Client) exchangeRefreshToken(ctx context.Context, refreshToken string) (string, string, error) {
	var resp domain.RefreshResponse
	if err := c.doJSON(ctx, http.MethodPost, refreshPath, nil, domain.RefreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return "", "", err
	}
	return resp.AccessToken, resp.RefreshToken, nil
}

// doJSON performs one request. tokens, when set, authorize it; out, when
// set, receives the decoded body.
func (c *Client) doJSON(ctx context.Context, method, path string, tokens *entities.TokenSet, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if tokens != nil {
		httpReq.Header.Set("Authorization", "Bearer "+tokens.SessionToken)
		if tokens.AccessToken != "" {
			httpReq.Header.Set(accessHeaderName, tokens.AccessToken)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.RecordBackendRequest(path, "transport_error", time.Since(start).Seconds())
		return fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()
	c.metrics.RecordBackendRequest(path, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Debug("Backend returned error",
			zap.String("endpoint", path),
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(errorBody)))
		return &APIError{Endpoint: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(errorBody))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// subjectOf reads the sub claim of the backend's session token without
// verifying it; the gateway only uses it as a display identity.
func subjectOf(token, fallback string) string {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil || claims.Subject == "" {
		return fallback
	}
	return claims.Subject
}
