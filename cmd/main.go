package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/satriahrh/bmschat/adapters/llm"
	"github.com/satriahrh/bmschat/adapters/memory"
	"github.com/satriahrh/bmschat/adapters/mongo"
	"github.com/satriahrh/bmschat/adapters/stt"
	"github.com/satriahrh/bmschat/adapters/tts"
	"github.com/satriahrh/bmschat/domain/repositories"
	"github.com/satriahrh/bmschat/internal/api"
	"github.com/satriahrh/bmschat/internal/auth"
	"github.com/satriahrh/bmschat/internal/config"
	"github.com/satriahrh/bmschat/internal/gateway"
	"github.com/satriahrh/bmschat/internal/metrics"
	"github.com/satriahrh/bmschat/internal/normalize"
	"github.com/satriahrh/bmschat/internal/tokenstore"
	"github.com/satriahrh/bmschat/internal/voice"
	"github.com/satriahrh/bmschat/internal/websocket"
	"github.com/satriahrh/bmschat/usecase"
)

func main() {
	cfg := config.MustLoad()

	// Initialize logger
	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		panic(err.Error())
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	// Initialize storage
	var (
		tokenRepo        repositories.TokenRepository
		conversationRepo repositories.ConversationRepository
	)
	switch cfg.Storage.Driver {
	case "mongo":
		store, err := mongo.Open(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDatabase, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer store.Close(context.Background())
		tokenRepo = store.Tokens()
		conversationRepo = store.Conversations(cfg.Auth.SessionTTL)
	default:
		tokenRepo = memory.NewTokenRepository()
		conversationRepo = memory.NewConversationRepository()
	}
	tokens := tokenstore.New(tokenRepo, logger, tokenstore.WithRefreshSkew(cfg.Auth.RefreshSkew))

	backend, err := newBackend(ctx, cfg, tokens, m, logger)
	if err != nil {
		logger.Fatal("Failed to initialize chat backend", zap.Error(err))
	}

	normalizer, err := newNormalizer(cfg.Voice)
	if err != nil {
		logger.Fatal("Failed to load correction tables", zap.Error(err))
	}

	// Initialize usecase services
	chatService := usecase.NewChatService(backend, conversationRepo, logger,
		usecase.WithChatMetrics(m),
		usecase.WithSessionTTL(cfg.Auth.SessionTTL))

	voiceOpts := []usecase.VoiceOption{
		usecase.WithVoiceMetrics(m),
		usecase.WithVoiceConfig(usecase.VoiceConfig{
			Accumulator: voice.Config{
				PauseWindow:   cfg.Voice.PauseWindow,
				MinConfidence: cfg.Voice.MinConfidence,
			},
			Language:      cfg.Voice.Language,
			SpokenReplies: cfg.Voice.SpokenReplies,
		}),
	}
	switch cfg.Speech.Recognizer {
	case "google":
		recognizer, err := stt.NewGoogleRecognizer(ctx, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Google speech recognizer", zap.Error(err))
		}
		defer recognizer.Close()
		voiceOpts = append(voiceOpts, usecase.WithRecognizer(recognizer))
	case "scripted":
		voiceOpts = append(voiceOpts, usecase.WithRecognizer(stt.NewScriptedRecognizer(cfg.Speech.ScriptedText, logger)))
	}
	if cfg.Speech.ElevenLabsAPIKey != "" {
		speaker, err := tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
			APIKey:  cfg.Speech.ElevenLabsAPIKey,
			VoiceID: cfg.Speech.ElevenLabsVoice,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize text-to-speech", zap.Error(err))
		}
		voiceOpts = append(voiceOpts, usecase.WithTextToSpeech(speaker))
	}
	voiceService := usecase.NewVoiceService(chatService, normalizer, logger, voiceOpts...)

	// Initialize WebSocket hub
	hub := websocket.NewHub(voiceService, logger,
		websocket.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		websocket.WithMetrics(m))
	go hub.Run(ctx)

	cleanup := usecase.NewSessionCleanupService(conversationRepo, tokens, cfg.Storage.IdleExpiry, logger)
	cleanup.Start()
	defer cleanup.Stop()

	issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	if err != nil {
		logger.Fatal("Failed to initialize session issuer", zap.Error(err))
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.Server.AllowedOrigins}))
	e.Use(api.Metrics(m))

	api.InitRoutes(e, api.Dependencies{
		Chat:     chatService,
		Hub:      hub,
		Issuer:   issuer,
		Backend:  backend,
		Gatherer: registry,
	}, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("port", cfg.Server.Port),
		zap.String("backend", cfg.Backend.Mode),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("recognizer", cfg.Speech.Recognizer))

	<-ctx.Done()
	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newBackend(ctx context.Context, cfg *config.Config, tokens *tokenstore.Store, m *metrics.Metrics, logger *zap.Logger) (repositories.ChatBackend, error) {
	if cfg.Backend.Mode == "gemini" {
		return llm.NewGeminiBackend(ctx, llm.GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Gemini.Model,
			Timeout: cfg.Backend.RequestTimeout,
		}, logger)
	}
	return gateway.NewClient(gateway.Config{
		BaseURL:   cfg.Backend.BaseURL,
		Timeout:   cfg.Backend.RequestTimeout,
		UserAgent: cfg.Backend.UserAgent,
	}, tokens, logger, gateway.WithMetrics(m))
}

// newNormalizer layers the localization and the site corrections file over
// the built-in table
func newNormalizer(cfg config.VoiceConfig) (*normalize.Normalizer, error) {
	table := normalize.DefaultTable()

	localization, err := normalize.Localization(cfg.Localization)
	if err != nil {
		return nil, err
	}
	table = table.Layer(localization)

	if cfg.CorrectionsFile != "" {
		site, err := normalize.LoadTable(cfg.CorrectionsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", cfg.CorrectionsFile, err)
		}
		table = table.Layer(site)
	}

	return normalize.New(table, normalize.WithFuzzyThreshold(cfg.FuzzyThreshold))
}
