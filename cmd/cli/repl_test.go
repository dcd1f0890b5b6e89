package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/bmschat/adapters/memory"
	"github.com/satriahrh/bmschat/domain"
	"github.com/satriahrh/bmschat/domain/entities"
	"github.com/satriahrh/bmschat/domain/repositories"
	"github.com/satriahrh/bmschat/internal/render"
	"github.com/satriahrh/bmschat/usecase"
)

type fakeBackend struct {
	expired  bool
	lastChat domain.ChatRequest
}

func (f *fakeBackend) Login(ctx context.Context, sessionID, email, password string) (*entities.TokenSet, error) {
	if password != "secret" {
		return nil, repositories.ErrInvalidCredentials
	}
	return &entities.TokenSet{SessionID: sessionID, User: email}, nil
}

func (f *fakeBackend) Logout(ctx context.Context, sessionID string) error { return nil }

func (f *fakeBackend) Chat(ctx context.Context, sessionID string, req domain.ChatRequest) (json.RawMessage, error) {
	if f.expired {
		return nil, repositories.ErrSessionExpired
	}
	f.lastChat = req
	return json.RawMessage(`"All chillers are running."`), nil
}

func (f *fakeBackend) Devices(ctx context.Context, sessionID string) ([]entities.Device, error) {
	return []entities.Device{{ID: "dev-1", Name: "Chiller 1", Type: "chiller"}}, nil
}

func (f *fakeBackend) Health(ctx context.Context) error { return nil }

func newTestREPL(t *testing.T) (*repl, *fakeBackend, *bytes.Buffer) {
	t.Helper()
	backend := &fakeBackend{}
	chat := usecase.NewChatService(backend, memory.NewConversationRepository(), zaptest.NewLogger(t))
	renderer, err := render.NewTerminalRenderer(render.WithStyle("notty"))
	if err != nil {
		t.Fatalf("Failed to create renderer: %v", err)
	}
	out := &bytes.Buffer{}
	return newREPL(chat, renderer, out), backend, out
}

func TestREPLLoginAndQuery(t *testing.T) {
	r, backend, out := newTestREPL(t)
	ctx := context.Background()

	if err := r.login(ctx, "ops@example.com", "wrong"); !errors.Is(err, repositories.ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
	if r.loggedIn() {
		t.Fatal("Expected to stay logged out after failed login")
	}

	if err := r.login(ctx, "ops@example.com", "secret"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !r.loggedIn() {
		t.Fatal("Expected to be logged in")
	}

	if err := r.handle(ctx, "/devices"); err != nil {
		t.Fatalf("/devices failed: %v", err)
	}
	if !strings.Contains(out.String(), "Chiller 1") {
		t.Errorf("Expected device table in output, got %q", out.String())
	}

	if err := r.handle(ctx, "/device dev-1"); err != nil {
		t.Fatalf("/device failed: %v", err)
	}
	if !strings.Contains(r.prompt(), "dev-1") {
		t.Errorf("Expected prompt to show the device, got %q", r.prompt())
	}

	out.Reset()
	if err := r.handle(ctx, "show device status"); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if backend.lastChat.Device != "dev-1" {
		t.Errorf("Expected query scoped to dev-1, got %q", backend.lastChat.Device)
	}
	if !strings.Contains(out.String(), "All chillers are running.") {
		t.Errorf("Expected answer in output, got %q", out.String())
	}

	out.Reset()
	if err := r.handle(ctx, "/history"); err != nil {
		t.Fatalf("/history failed: %v", err)
	}
	if !strings.Contains(out.String(), "> show device status") {
		t.Errorf("Expected query in history, got %q", out.String())
	}
}

func TestREPLSessionExpiry(t *testing.T) {
	r, backend, out := newTestREPL(t)
	ctx := context.Background()

	if err := r.login(ctx, "ops@example.com", "secret"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	backend.expired = true
	if err := r.handle(ctx, "show alarms"); err != nil {
		t.Fatalf("Expected expiry to be handled, got %v", err)
	}
	if r.loggedIn() {
		t.Error("Expected to be logged out after session expiry")
	}
	if !strings.Contains(out.String(), usecase.SessionExpiredMessage) {
		t.Errorf("Expected expiry message, got %q", out.String())
	}
}

func TestREPLCommands(t *testing.T) {
	r, _, out := newTestREPL(t)
	ctx := context.Background()
	r.login(ctx, "ops@example.com", "secret")

	if err := r.handle(ctx, "   "); err != nil {
		t.Errorf("Expected blank input to be ignored, got %v", err)
	}
	if err := r.handle(ctx, "/bogus"); err == nil {
		t.Error("Expected error for unknown command")
	}
	if err := r.handle(ctx, "quit"); !errors.Is(err, errQuit) {
		t.Errorf("Expected errQuit, got %v", err)
	}

	if err := r.handle(ctx, "/logout"); err != nil {
		t.Fatalf("/logout failed: %v", err)
	}
	if r.loggedIn() {
		t.Error("Expected to be logged out")
	}
	if !strings.Contains(out.String(), "Logged out.") {
		t.Errorf("Expected logout confirmation, got %q", out.String())
	}
}
