package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Server:  ServerConfig{Port: "8080", ShutdownTimeout: 10 * time.Second},
		Backend: BackendConfig{Mode: "remote", BaseURL: "http://localhost:8000", RequestTimeout: time.Minute},
		Auth:    AuthConfig{JWTSecret: "0123456789abcdef", SessionTTL: time.Hour, RefreshSkew: 30 * time.Second},
		Voice:   VoiceConfig{PauseWindow: 15 * time.Second, FuzzyThreshold: 0.8},
		Storage: StorageConfig{Driver: "memory", IdleExpiry: time.Hour},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "short secret", mutate: func(c *Config) { c.Auth.JWTSecret = "short" }, wantErr: true},
		{name: "zero pause window", mutate: func(c *Config) { c.Voice.PauseWindow = 0 }, wantErr: true},
		{name: "confidence out of range", mutate: func(c *Config) { c.Voice.MinConfidence = 1.5 }, wantErr: true},
		{name: "unknown localization", mutate: func(c *Config) { c.Voice.Localization = "klingon" }, wantErr: true},
		{name: "hinglish localization", mutate: func(c *Config) { c.Voice.Localization = "hinglish" }},
		{name: "unknown backend mode", mutate: func(c *Config) { c.Backend.Mode = "grpc" }, wantErr: true},
		{name: "gemini without key", mutate: func(c *Config) { c.Backend.Mode = "gemini" }, wantErr: true},
		{name: "gemini with key", mutate: func(c *Config) {
			c.Backend.Mode = "gemini"
			c.Gemini.APIKey = "key"
		}},
		{name: "mongo without uri", mutate: func(c *Config) {
			c.Storage.Driver = "mongo"
			c.Storage.MongoDatabase = "bmschat"
		}, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "sqlite" }, wantErr: true},
		{name: "google recognizer", mutate: func(c *Config) { c.Speech.Recognizer = "google" }},
		{name: "unknown recognizer", mutate: func(c *Config) { c.Speech.Recognizer = "whisper" }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Errorf("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-0123456789")
	t.Setenv("VOICE_PAUSE_WINDOW", "3s")
	t.Setenv("CHAT_BACKEND_URL", "http://backend.test")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.Voice.PauseWindow != 3*time.Second {
		t.Errorf("Expected pause window 3s, got %s", cfg.Voice.PauseWindow)
	}
	if cfg.Backend.BaseURL != "http://backend.test" {
		t.Errorf("Expected backend URL http://backend.test, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("Expected default storage driver memory, got %s", cfg.Storage.Driver)
	}
	if cfg.Voice.FuzzyThreshold != 0 {
		t.Errorf("Expected vocabulary snapping off by default, got threshold %v", cfg.Voice.FuzzyThreshold)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
auth:
  jwt_secret: yaml-secret-0123456789
voice:
  pause_window: 20s
  localization: hinglish
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.Voice.PauseWindow != 20*time.Second {
		t.Errorf("Expected pause window 20s, got %s", cfg.Voice.PauseWindow)
	}
	if cfg.Voice.Localization != "hinglish" {
		t.Errorf("Expected hinglish localization, got %q", cfg.Voice.Localization)
	}
}
