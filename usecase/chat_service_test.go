package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/bmschat/adapters/memory"
	"github.com/satriahrh/bmschat/domain"
	"github.com/satriahrh/bmschat/domain/entities"
	"github.com/satriahrh/bmschat/domain/repositories"
	"github.com/satriahrh/bmschat/internal/render"
)

// fakeBackend is a scriptable repositories.ChatBackend
type fakeBackend struct {
	mu         sync.Mutex
	chat       func(ctx context.Context, req domain.ChatRequest) (json.RawMessage, error)
	devices    []entities.Device
	devicesErr error
	loginErr   error
	requests   []domain.ChatRequest
	loggedOut  []string
	deviceHits int
}

func (f *fakeBackend) Login(ctx context.Context, sessionID, email, password string) (*entities.TokenSet, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &entities.TokenSet{SessionID: sessionID, SessionToken: "s", AccessToken: "a", User: email}, nil
}

func (f *fakeBackend) Logout(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = append(f.loggedOut, sessionID)
	return nil
}

func (f *fakeBackend) Chat(ctx context.Context, sessionID string, req domain.ChatRequest) (json.RawMessage, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	chat := f.chat
	f.mu.Unlock()

	if chat == nil {
		return json.RawMessage(`"ok"`), nil
	}
	return chat(ctx, req)
}

func (f *fakeBackend) Devices(ctx context.Context, sessionID string) ([]entities.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceHits++
	return f.devices, f.devicesErr
}

func (f *fakeBackend) Health(ctx context.Context) error { return nil }

func newTestService(t *testing.T, backend *fakeBackend) (*ChatService, *entities.Conversation) {
	t.Helper()
	svc := NewChatService(backend, memory.NewConversationRepository(), zaptest.NewLogger(t), WithSessionTTL(time.Hour))
	conv, err := svc.Login(context.Background(), "ops@example.com", "secret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return svc, conv
}

func TestEnrichQuery(t *testing.T) {
	tests := []struct {
		query  string
		device string
		want   string
	}{
		{"show alarms", "", "show alarms"},
		{"show alarms", "AHU-1", "show alarms for AHU-1"},
		{"temperature of the Sensor", "AHU-1", "temperature of the AHU-1"},
		{"device and TOWER status", "Tower A", "Tower A and Tower A status"},
		{"list devices", "AHU-1", "list devices for AHU-1"},
		{"is the thermostat online?", "T-$1", "is the T-$1 online?"},
	}
	for _, tt := range tests {
		if got := EnrichQuery(tt.query, tt.device); got != tt.want {
			t.Errorf("EnrichQuery(%q, %q): expected %q, got %q", tt.query, tt.device, tt.want, got)
		}
	}
}

func TestNormalizeResponse(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{`"All devices online."`, "All devices online.", true},
		{`{"result": "Wrapped answer"}`, "Wrapped answer", true},
		{`"   "`, NoDataMessage, false},
		{`{"result": 5}`, NoDataMessage, false},
		{`{"result": ""}`, NoDataMessage, false},
		{`{"answer": "x"}`, NoDataMessage, false},
		{`[1, 2]`, NoDataMessage, false},
		{`null`, NoDataMessage, false},
		{``, NoDataMessage, false},
	}
	for _, tt := range tests {
		got, ok := NormalizeResponse(json.RawMessage(tt.raw))
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeResponse(%s): expected %q/%v, got %q/%v", tt.raw, tt.want, tt.ok, got, ok)
		}
	}
}

func TestSendAppendsQueryAndAnswer(t *testing.T) {
	backend := &fakeBackend{
		devices: []entities.Device{{ID: "dev-1", Name: "AHU-1"}},
		chat: func(ctx context.Context, req domain.ChatRequest) (json.RawMessage, error) {
			return json.RawMessage(`{"result": "| Time | Severity |\n| --- | --- |\n| 10:00 | CRITICAL |"}`), nil
		},
	}
	svc, conv := newTestService(t, backend)
	ctx := context.Background()

	reply, err := svc.Send(ctx, conv.ID, "  show alarms  ", "dev-1")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if reply.Message.Status != entities.MessageStatusDelivered || reply.Message.Sender != entities.AssistantSender {
		t.Errorf("Unexpected reply message %+v", reply.Message)
	}
	if !reply.Document.HasTable() {
		t.Error("Expected reply to be planned as a table")
	}
	if reply.HTML == "" {
		t.Error("Expected rendered HTML")
	}

	if len(backend.requests) != 1 {
		t.Fatalf("Expected 1 backend request, got %d", len(backend.requests))
	}
	req := backend.requests[0]
	if req.Query != "show alarms for AHU-1" || req.Device != "dev-1" || req.User != "ops@example.com" {
		t.Errorf("Unexpected backend request %+v", req)
	}

	got, err := svc.Conversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Conversation failed: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(got.Messages))
	}
	if got.Messages[0].Text != "show alarms" || got.Messages[0].DeviceID != "dev-1" || got.Messages[0].Role != entities.MessageRoleUser {
		t.Errorf("Expected original query to be logged, got %+v", got.Messages[0])
	}
	if got.Messages[1].ID != reply.Message.ID {
		t.Errorf("Expected reply to be logged second")
	}
}

func TestSendUsesSelectedDevice(t *testing.T) {
	backend := &fakeBackend{devices: []entities.Device{{ID: "dev-2"}}}
	svc, conv := newTestService(t, backend)
	ctx := context.Background()

	if err := svc.SelectDevice(ctx, conv.ID, "dev-2"); err != nil {
		t.Fatalf("SelectDevice failed: %v", err)
	}
	if _, err := svc.Send(ctx, conv.ID, "check the sensor", ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := svc.Send(ctx, conv.ID, "and humidity", ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got := backend.requests[0].Query; got != "check the dev-2" {
		t.Errorf("Expected unnamed device to fall back to its id, got %q", got)
	}
	if got := backend.requests[1].Query; got != "and humidity for dev-2" {
		t.Errorf("Expected %q, got %q", "and humidity for dev-2", got)
	}
	if backend.deviceHits != 1 {
		t.Errorf("Expected device list to be loaded once, got %d", backend.deviceHits)
	}
}

func TestSendEmptyQuery(t *testing.T) {
	svc, conv := newTestService(t, &fakeBackend{})

	if _, err := svc.Send(context.Background(), conv.ID, "   ", ""); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("Expected ErrEmptyQuery, got %v", err)
	}
}

func TestSendNoData(t *testing.T) {
	backend := &fakeBackend{chat: func(ctx context.Context, req domain.ChatRequest) (json.RawMessage, error) {
		return json.RawMessage(`{"result": null}`), nil
	}}
	svc, conv := newTestService(t, backend)

	reply, err := svc.Send(context.Background(), conv.ID, "show alarms", "")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if reply.Message.Text != NoDataMessage {
		t.Errorf("Expected %q, got %q", NoDataMessage, reply.Message.Text)
	}
}

func TestSendBackendFailure(t *testing.T) {
	backend := &fakeBackend{chat: func(ctx context.Context, req domain.ChatRequest) (json.RawMessage, error) {
		return nil, errors.New("connection refused")
	}}
	svc, conv := newTestService(t, backend)
	ctx := context.Background()

	reply, err := svc.Send(ctx, conv.ID, "show alarms", "")
	if err != nil {
		t.Fatalf("Expected failure to be reported in the reply, got %v", err)
	}
	if reply.Message.Text != ErrorMessage || reply.Message.Status != entities.MessageStatusError {
		t.Errorf("Unexpected reply %+v", reply.Message)
	}

	got, _ := svc.Conversation(ctx, conv.ID)
	if len(got.Messages) != 2 || got.Messages[1].Text != ErrorMessage {
		t.Errorf("Expected error line to be appended, got %+v", got.Messages)
	}
}

func TestSendSessionExpired(t *testing.T) {
	backend := &fakeBackend{chat: func(ctx context.Context, req domain.ChatRequest) (json.RawMessage, error) {
		return nil, repositories.ErrSessionExpired
	}}
	svc, conv := newTestService(t, backend)
	ctx := context.Background()

	if _, err := svc.Send(ctx, conv.ID, "show alarms", ""); !errors.Is(err, repositories.ErrSessionExpired) {
		t.Fatalf("Expected ErrSessionExpired, got %v", err)
	}
	if len(backend.loggedOut) != 1 || backend.loggedOut[0] != conv.ID {
		t.Errorf("Expected session to be logged out, got %v", backend.loggedOut)
	}
	if _, err := svc.Conversation(ctx, conv.ID); !errors.Is(err, repositories.ErrSessionExpired) {
		t.Errorf("Expected conversation to be closed, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	started := make(chan struct{})
	backend := &fakeBackend{chat: func(ctx context.Context, req domain.ChatRequest) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	svc, conv := newTestService(t, backend)

	if svc.Cancel(conv.ID) {
		t.Error("Expected nothing to cancel")
	}

	type result struct {
		reply *Reply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := svc.Send(context.Background(), conv.ID, "show alarms", "")
		done <- result{reply, err}
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for backend call")
	}

	if _, err := svc.Send(context.Background(), conv.ID, "second", ""); !errors.Is(err, ErrRequestInFlight) {
		t.Errorf("Expected ErrRequestInFlight, got %v", err)
	}
	if !svc.Cancel(conv.ID) {
		t.Error("Expected in-flight request to be cancelled")
	}

	var res result
	select {
	case res = <-done:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for Send to return")
	}
	if res.err != nil {
		t.Fatalf("Send failed: %v", res.err)
	}
	if res.reply.Message.Text != CancelledMessage || res.reply.Message.Status != entities.MessageStatusCancelled {
		t.Errorf("Unexpected reply %+v", res.reply.Message)
	}
	if res.reply.Document.Blocks[0].Kind != render.BlockMarkdown {
		t.Errorf("Expected markdown block, got %+v", res.reply.Document)
	}
}

func TestLoginRefused(t *testing.T) {
	backend := &fakeBackend{loginErr: repositories.ErrInvalidCredentials}
	svc := NewChatService(backend, memory.NewConversationRepository(), zaptest.NewLogger(t))

	if _, err := svc.Login(context.Background(), "ops@example.com", "wrong"); !errors.Is(err, repositories.ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "", ""); !errors.Is(err, repositories.ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials for blank credentials, got %v", err)
	}
}

func TestLogoutAndResume(t *testing.T) {
	backend := &fakeBackend{}
	svc, conv := newTestService(t, backend)
	ctx := context.Background()

	if err := svc.Logout(ctx, conv.ID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := svc.Send(ctx, conv.ID, "hello", ""); !errors.Is(err, repositories.ErrSessionExpired) {
		t.Errorf("Expected ErrSessionExpired after logout, got %v", err)
	}

	resumed, err := svc.Resume(ctx, conv.ID, "ops@example.com")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.IsExpired() || len(resumed.Messages) != 0 {
		t.Errorf("Expected a fresh conversation, got %+v", resumed)
	}
	again, err := svc.Resume(ctx, conv.ID, "ops@example.com")
	if err != nil || again.CreatedAt != resumed.CreatedAt {
		t.Errorf("Expected Resume to return the existing conversation, got %v, %v", again, err)
	}
}
