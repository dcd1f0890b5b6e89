package tokenstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/bmschat/adapters/memory"
	"github.com/satriahrh/bmschat/domain/entities"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte("upstream-secret"))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return s
}

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := New(memory.NewTokenRepository(), zaptest.NewLogger(t))

	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrNoTokens) {
		t.Errorf("Expected ErrNoTokens, got %v", err)
	}

	err := store.Save(ctx, entities.TokenSet{SessionID: "s1", SessionToken: "jwt", AccessToken: "a", RefreshToken: "r"})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SessionToken != "jwt" || got.AccessToken != "a" || got.RefreshToken != "r" {
		t.Errorf("Expected jwt/a/r, got %s/%s/%s", got.SessionToken, got.AccessToken, got.RefreshToken)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("Expected UpdatedAt to be stamped")
	}

	if err := store.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := store.Clear(ctx, "s1"); err != nil {
		t.Errorf("Clearing twice should not fail, got %v", err)
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrNoTokens) {
		t.Errorf("Expected ErrNoTokens after clear, got %v", err)
	}
}

func TestRefreshOverwritesBothTokens(t *testing.T) {
	ctx := context.Background()
	store := New(memory.NewTokenRepository(), zaptest.NewLogger(t))
	_ = store.Save(ctx, entities.TokenSet{SessionID: "s1", SessionToken: "jwt", AccessToken: "old", RefreshToken: "r1"})

	var gotRefresh string
	next, err := store.Refresh(ctx, "s1", func(ctx context.Context, refreshToken string) (string, string, error) {
		gotRefresh = refreshToken
		return "new", "r2", nil
	})
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if gotRefresh != "r1" {
		t.Errorf("Expected refresh with r1, got %s", gotRefresh)
	}
	if next.AccessToken != "new" || next.RefreshToken != "r2" || next.SessionToken != "jwt" {
		t.Errorf("Expected new/r2/jwt, got %s/%s/%s", next.AccessToken, next.RefreshToken, next.SessionToken)
	}

	stored, _ := store.Get(ctx, "s1")
	if stored.AccessToken != "new" || stored.RefreshToken != "r2" {
		t.Errorf("Expected stored new/r2, got %s/%s", stored.AccessToken, stored.RefreshToken)
	}
}

func TestRefreshKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	ctx := context.Background()
	store := New(memory.NewTokenRepository(), zaptest.NewLogger(t))
	_ = store.Save(ctx, entities.TokenSet{SessionID: "s1", AccessToken: "old", RefreshToken: "r1"})

	next, err := store.Refresh(ctx, "s1", func(ctx context.Context, refreshToken string) (string, string, error) {
		return "new", "", nil
	})
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if next.RefreshToken != "r1" {
		t.Errorf("Expected refresh token r1 to be kept, got %s", next.RefreshToken)
	}
}

func TestRefreshFailureLeavesTokensUntouched(t *testing.T) {
	ctx := context.Background()
	store := New(memory.NewTokenRepository(), zaptest.NewLogger(t))
	_ = store.Save(ctx, entities.TokenSet{SessionID: "s1", AccessToken: "old", RefreshToken: "r1"})

	_, err := store.Refresh(ctx, "s1", func(ctx context.Context, refreshToken string) (string, string, error) {
		return "", "", errors.New("upstream down")
	})
	if err == nil {
		t.Fatal("Expected refresh error")
	}

	stored, _ := store.Get(ctx, "s1")
	if stored.AccessToken != "old" || stored.RefreshToken != "r1" {
		t.Errorf("Expected old/r1 after failed refresh, got %s/%s", stored.AccessToken, stored.RefreshToken)
	}
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	ctx := context.Background()
	store := New(memory.NewTokenRepository(), zaptest.NewLogger(t))
	_ = store.Save(ctx, entities.TokenSet{SessionID: "s1", AccessToken: "old"})

	_, err := store.Refresh(ctx, "s1", func(ctx context.Context, refreshToken string) (string, string, error) {
		t.Error("Refresh function should not be called without a refresh token")
		return "", "", nil
	})
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Errorf("Expected ErrNoRefreshToken, got %v", err)
	}
}

func TestConcurrentRefreshIsCoalesced(t *testing.T) {
	ctx := context.Background()
	store := New(memory.NewTokenRepository(), zaptest.NewLogger(t))
	_ = store.Save(ctx, entities.TokenSet{SessionID: "s1", AccessToken: "old", RefreshToken: "r1"})

	var calls int32
	release := make(chan struct{})
	refresh := func(ctx context.Context, refreshToken string) (string, string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "new", "", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Refresh(ctx, "s1", refresh); err != nil {
				t.Errorf("Refresh failed: %v", err)
			}
		}()
	}

	// Give the goroutines time to join the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n < 1 || n > 5 {
		t.Errorf("Expected between 1 and 5 refresh calls, got %d", n)
	}
	stored, _ := store.Get(ctx, "s1")
	if stored.AccessToken != "new" {
		t.Errorf("Expected access token new, got %s", stored.AccessToken)
	}
}

func TestAccessExpired(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	store := New(memory.NewTokenRepository(), zaptest.NewLogger(t), WithClock(mock), WithRefreshSkew(30*time.Second))

	tests := []struct {
		name   string
		tokens *entities.TokenSet
		want   bool
	}{
		{name: "nil", tokens: nil, want: true},
		{name: "empty access token", tokens: &entities.TokenSet{}, want: true},
		{name: "opaque token", tokens: &entities.TokenSet{AccessToken: "opaque"}, want: false},
		{name: "valid jwt", tokens: &entities.TokenSet{AccessToken: signedToken(t, mock.Now().Add(time.Hour))}, want: false},
		{name: "expired jwt", tokens: &entities.TokenSet{AccessToken: signedToken(t, mock.Now().Add(-time.Minute))}, want: true},
		{name: "within skew", tokens: &entities.TokenSet{AccessToken: signedToken(t, mock.Now().Add(10*time.Second))}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := store.AccessExpired(tt.tokens); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	store := New(memory.NewTokenRepository(), zaptest.NewLogger(t), WithClock(mock))

	_ = store.Save(ctx, entities.TokenSet{SessionID: "old", AccessToken: "a"})
	mock.Add(3 * time.Hour)
	_ = store.Save(ctx, entities.TokenSet{SessionID: "new", AccessToken: "b"})

	n, err := store.Prune(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 pruned token set, got %d", n)
	}
	if _, err := store.Get(ctx, "new"); err != nil {
		t.Errorf("Expected new tokens to survive, got %v", err)
	}
}
