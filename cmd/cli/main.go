package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/satriahrh/bmschat/adapters/file"
	"github.com/satriahrh/bmschat/adapters/llm"
	"github.com/satriahrh/bmschat/adapters/memory"
	"github.com/satriahrh/bmschat/domain/repositories"
	"github.com/satriahrh/bmschat/internal/config"
	"github.com/satriahrh/bmschat/internal/gateway"
	"github.com/satriahrh/bmschat/internal/render"
	"github.com/satriahrh/bmschat/internal/tokenstore"
	"github.com/satriahrh/bmschat/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	// The REPL owns the terminal; only warnings go to stderr
	if cfg.Logging.Level == "info" {
		cfg.Logging.Level = "warn"
	}
	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()

	tokenRepo, err := file.NewTokenRepository(cfg.TokenFile)
	if err != nil {
		return err
	}
	tokens := tokenstore.New(tokenRepo, logger, tokenstore.WithRefreshSkew(cfg.RefreshSkew))

	var backend repositories.ChatBackend
	if cfg.Backend.Mode == "gemini" {
		backend, err = llm.NewGeminiBackend(ctx, llm.GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Gemini.Model,
			Timeout: cfg.Backend.RequestTimeout,
		}, logger)
	} else {
		backend, err = gateway.NewClient(gateway.Config{
			BaseURL:   cfg.Backend.BaseURL,
			Timeout:   cfg.Backend.RequestTimeout,
			UserAgent: cfg.Backend.UserAgent,
		}, tokens, logger)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize chat backend: %w", err)
	}

	renderer, err := render.NewTerminalRenderer()
	if err != nil {
		return fmt.Errorf("failed to initialize renderer: %w", err)
	}

	chat := usecase.NewChatService(backend, memory.NewConversationRepository(), logger)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	loadHistory(line, cfg.HistoryFile)
	defer saveHistory(line, cfg.HistoryFile)

	r := newREPL(chat, renderer, os.Stdout)
	if last, err := tokenRepo.Latest(ctx); err == nil {
		if err := r.resume(ctx, last.SessionID, last.User); err != nil {
			logger.Warn("Failed to resume stored session", zap.Error(err))
		}
	}

	for {
		if !r.loggedIn() {
			if err := login(ctx, line, r); err != nil {
				if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) || errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintln(os.Stdout, usecase.InvalidCredentialsMessage)
				continue
			}
		}

		input, err := line.Prompt(r.prompt())
		if err != nil {
			// Ctrl+C or Ctrl+D
			fmt.Println()
			return nil
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}

		if err := r.handle(ctx, input); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintln(os.Stdout, errorStyle.Render("[Error] "+err.Error()))
		}
	}
}

var errQuit = errors.New("quit")

func login(ctx context.Context, line *liner.State, r *repl) error {
	email, err := line.Prompt("email: ")
	if err != nil {
		return err
	}
	if strings.EqualFold(strings.TrimSpace(email), "quit") {
		return errQuit
	}
	password, err := line.PasswordPrompt("password: ")
	if err != nil {
		return err
	}
	return r.login(ctx, email, password)
}

func loadHistory(line *liner.State, path string) {
	if f, err := os.Open(path); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
}

func saveHistory(line *liner.State, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}
