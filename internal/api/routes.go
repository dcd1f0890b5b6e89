package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/bmschat/domain/entities"
	"github.com/satriahrh/bmschat/domain/repositories"
	"github.com/satriahrh/bmschat/internal/auth"
	"github.com/satriahrh/bmschat/internal/websocket"
	"github.com/satriahrh/bmschat/usecase"
)

const healthTimeout = 5 * time.Second

// Dependencies are the services behind the gateway routes
type Dependencies struct {
	Chat    *usecase.ChatService
	Hub     *websocket.Hub
	Issuer  *auth.Issuer
	Backend repositories.ChatBackend
	// Gatherer serves /metrics; nil disables the endpoint
	Gatherer prometheus.Gatherer
}

type handlers struct {
	Dependencies
	logger *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	h := &handlers{Dependencies: deps, logger: logger}

	e.GET("/health", h.health)
	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// API v1 routes
	v1 := e.Group("/api/v1")
	v1.POST("/login", h.login)

	session := v1.Group("", SessionAuth(deps.Issuer, logger))
	session.POST("/logout", h.logout)
	session.GET("/devices", h.devices)
	session.PUT("/device", h.selectDevice)
	session.POST("/chat", h.chat)
	session.POST("/chat/cancel", h.cancel)
	session.GET("/conversation", h.conversation)

	// WebSocket endpoint with session token validation
	e.GET("/ws", h.connect, SessionAuth(deps.Issuer, logger))
}

func (h *handlers) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Service: "bmschat-gateway", Backend: "ok"}
	if err := h.Backend.Health(ctx); err != nil {
		h.logger.Warn("Backend health check failed", zap.Error(err))
		resp.Status = "degraded"
		resp.Backend = "unreachable"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handlers) login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Error("Failed to bind login request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	conv, err := h.Chat.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Warn("Login failed", zap.String("email", req.Email), zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_credentials",
			Message: usecase.InvalidCredentialsMessage,
		})
	}

	token, expiresAt, err := h.Issuer.GenerateSessionToken(conv.ID, conv.User)
	if err != nil {
		h.logger.Error("Failed to generate session token", zap.String("sessionID", conv.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate session token",
		})
	}

	return c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		SessionID: conv.ID,
		User:      conv.User,
	})
}

func (h *handlers) logout(c echo.Context) error {
	sessionID := SessionID(c)
	if err := h.Chat.Logout(c.Request().Context(), sessionID); err != nil && !errors.Is(err, repositories.ErrSessionExpired) {
		h.logger.Error("Logout failed", zap.String("sessionID", sessionID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "logout_failed",
			Message: "Failed to log out",
		})
	}
	if h.Hub != nil {
		h.Hub.DisconnectSession(sessionID)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) devices(c echo.Context) error {
	sessionID := SessionID(c)
	devices, err := h.Chat.Devices(c.Request().Context(), sessionID)
	if err != nil {
		return h.fail(c, err)
	}
	if devices == nil {
		devices = []entities.Device{}
	}

	resp := DevicesResponse{Devices: devices}
	if conv, err := h.Chat.Conversation(c.Request().Context(), sessionID); err == nil {
		resp.Selected = conv.DeviceID
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handlers) selectDevice(c echo.Context) error {
	var req SelectDeviceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if err := h.Chat.SelectDevice(c.Request().Context(), SessionID(c), req.DeviceID); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *handlers) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	reply, err := h.Chat.Send(c.Request().Context(), SessionID(c), req.Query, req.DeviceID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, reply)
}

func (h *handlers) cancel(c echo.Context) error {
	return c.JSON(http.StatusOK, CancelResponse{Cancelled: h.Chat.Cancel(SessionID(c))})
}

func (h *handlers) conversation(c echo.Context) error {
	conv, err := h.Chat.Conversation(c.Request().Context(), SessionID(c))
	if err != nil {
		return h.fail(c, err)
	}

	resp := ConversationResponse{
		SessionID: conv.ID,
		User:      conv.User,
		DeviceID:  conv.DeviceID,
		Messages:  make([]MessageView, 0, len(conv.Messages)),
	}
	for _, msg := range conv.History() {
		view := MessageView{ChatMessage: msg}
		if msg.Role == entities.MessageRoleAssistant {
			_, view.HTML = h.Chat.Render(msg.Text)
		}
		resp.Messages = append(resp.Messages, view)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handlers) connect(c echo.Context) error {
	sessionID := SessionID(c)
	if _, err := h.Chat.Conversation(c.Request().Context(), sessionID); err != nil {
		return h.fail(c, err)
	}

	h.logger.Info("WebSocket connection authenticated", zap.String("sessionID", sessionID))
	return h.Hub.HandleWebSocket(c, sessionID)
}

// fail maps service errors onto HTTP responses
func (h *handlers) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repositories.ErrSessionExpired):
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "session_expired",
			Message: usecase.SessionExpiredMessage,
		})
	case errors.Is(err, usecase.ErrEmptyQuery):
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "empty_query",
			Message: "Query cannot be empty",
		})
	case errors.Is(err, usecase.ErrRequestInFlight):
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "busy",
			Message: "Please wait for the current answer",
		})
	case errors.Is(err, context.Canceled):
		// the client went away; nobody reads the response
		return c.NoContent(http.StatusRequestTimeout)
	default:
		h.logger.Error("Request failed",
			zap.String("path", c.Path()),
			zap.String("sessionID", SessionID(c)),
			zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "backend_error",
			Message: usecase.ErrorMessage,
		})
	}
}
