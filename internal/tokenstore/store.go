// Package tokenstore owns the session and access/refresh tokens of every
// login session. It is the only writer of token sets.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/satriahrh/bmschat/domain/entities"
	"github.com/satriahrh/bmschat/domain/repositories"
)

var (
	// ErrNoTokens is returned when the session has no stored tokens
	ErrNoTokens = errors.New("no tokens stored for session")
	// ErrNoRefreshToken is returned when a refresh is needed but impossible
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// RefreshFunc exchanges a refresh token for a new access token and,
// optionally, a rotated refresh token.
type RefreshFunc func(ctx context.Context, refreshToken string) (accessToken, newRefreshToken string, err error)

// Store reads and atomically overwrites token sets
type Store struct {
	repo   repositories.TokenRepository
	group  singleflight.Group
	clock  clock.Clock
	skew   time.Duration
	logger *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces the wall clock, used by tests
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithRefreshSkew treats access tokens as expired this long before their exp claim
func WithRefreshSkew(d time.Duration) Option {
	return func(s *Store) { s.skew = d }
}

// New creates a token store on top of a repository
func New(repo repositories.TokenRepository, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		clock:  clock.New(),
		skew:   30 * time.Second,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save overwrites the whole token set of a session
func (s *Store) Save(ctx context.Context, tokens entities.TokenSet) error {
	if tokens.SessionID == "" {
		return errors.New("session ID cannot be empty")
	}
	tokens.UpdatedAt = s.clock.Now()
	if err := s.repo.Save(ctx, tokens); err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

// Get returns the token set of a session
func (s *Store) Get(ctx context.Context, sessionID string) (*entities.TokenSet, error) {
	tokens, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNoTokens
		}
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	return tokens, nil
}

// Clear forgets every token of a session
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.repo.Delete(ctx, sessionID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}

// Refresh obtains a new access token for the session and stores it
// together with the (possibly rotated) refresh token. Concurrent calls for
// the same session share one exchange.
func (s *Store) Refresh(ctx context.Context, sessionID string, refresh RefreshFunc) (*entities.TokenSet, error) {
	v, err, shared := s.group.Do(sessionID, func() (interface{}, error) {
		current, err := s.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if !current.CanRefresh() {
			return nil, ErrNoRefreshToken
		}

		access, rotated, err := refresh(ctx, current.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh access token: %w", err)
		}
		if access == "" {
			return nil, errors.New("refresh returned an empty access token")
		}

		next := current.WithAccess(access, rotated, s.clock.Now())
		if err := s.Save(ctx, next); err != nil {
			return nil, err
		}

		s.logger.Info("Access token refreshed",
			zap.String("sessionID", sessionID),
			zap.Bool("rotated", rotated != ""))
		return &next, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("Joined in-flight token refresh", zap.String("sessionID", sessionID))
	}

	tokens := *(v.(*entities.TokenSet))
	return &tokens, nil
}

// AccessExpired reports whether the access token carries an exp claim that
// has passed (minus the skew). Opaque tokens never count as expired; the
// backend's 401 is authoritative for them.
func (s *Store) AccessExpired(tokens *entities.TokenSet) bool {
	if tokens == nil || tokens.AccessToken == "" {
		return true
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokens.AccessToken, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !s.clock.Now().Add(s.skew).Before(claims.ExpiresAt.Time)
}

// Prune deletes token sets untouched for longer than maxAge
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := s.repo.DeleteStale(ctx, s.clock.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to prune tokens: %w", err)
	}
	return n, nil
}
