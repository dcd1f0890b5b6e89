package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/bmschat/domain/repositories"
	"github.com/satriahrh/bmschat/internal/tokenstore"
)

const (
	defaultCleanupInterval = 30 * time.Minute
	defaultCleanupDelay    = time.Minute
	cleanupTimeout         = 5 * time.Minute
)

// SessionCleanupService drops idle conversations and stale token sets in the
// background
type SessionCleanupService struct {
	conversations repositories.ConversationRepository
	tokens        *tokenstore.Store
	maxIdle       time.Duration
	interval      time.Duration
	clock         clock.Clock
	logger        *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// CleanupOption configures a SessionCleanupService
type CleanupOption func(*SessionCleanupService)

// WithCleanupInterval sets how often cleanup runs
func WithCleanupInterval(d time.Duration) CleanupOption {
	return func(s *SessionCleanupService) { s.interval = d }
}

// WithCleanupClock replaces the wall clock, for tests
func WithCleanupClock(c clock.Clock) CleanupOption {
	return func(s *SessionCleanupService) { s.clock = c }
}

// NewSessionCleanupService creates a new session cleanup service
func NewSessionCleanupService(
	conversations repositories.ConversationRepository,
	tokens *tokenstore.Store,
	maxIdle time.Duration,
	logger *zap.Logger,
	opts ...CleanupOption,
) *SessionCleanupService {
	s := &SessionCleanupService{
		conversations: conversations,
		tokens:        tokens,
		maxIdle:       maxIdle,
		interval:      defaultCleanupInterval,
		clock:         clock.New(),
		logger:        logger,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started",
		zap.Duration("interval", s.interval),
		zap.Duration("maxIdle", s.maxIdle))
}

// Stop gracefully stops the cleanup service and waits for the loop to exit
func (s *SessionCleanupService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.done
	s.logger.Info("Session cleanup service stopped")
}

func (s *SessionCleanupService) cleanupLoop() {
	defer close(s.done)

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	// Run initial cleanup shortly after start
	initialTimer := s.clock.Timer(defaultCleanupDelay)
	defer initialTimer.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-initialTimer.C:
			s.RunOnce()
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce removes everything idle for longer than the configured maximum
func (s *SessionCleanupService) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	conversations, err := s.conversations.DeleteIdle(ctx, s.clock.Now().Add(-s.maxIdle))
	if err != nil {
		s.logger.Error("Failed to delete idle conversations", zap.Error(err))
	}

	tokens, err := s.tokens.Prune(ctx, s.maxIdle)
	if err != nil {
		s.logger.Error("Failed to prune token sets", zap.Error(err))
	}

	s.logger.Info("Session cleanup completed",
		zap.Int("conversations", conversations),
		zap.Int("tokenSets", tokens))
}
