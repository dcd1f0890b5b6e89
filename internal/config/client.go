package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// ClientConfig holds the settings of the terminal client and the voice probe
type ClientConfig struct {
	Backend BackendConfig `yaml:"backend"`
	Gemini  GeminiConfig  `yaml:"gemini"`
	Logging LoggingConfig `yaml:"logging"`

	// TokenFile stores the CLI login; defaults to ~/.bmschat/tokens.json
	TokenFile   string        `yaml:"token_file" env:"CLI_TOKEN_FILE"`
	HistoryFile string        `yaml:"history_file" env:"CLI_HISTORY_FILE"`
	RefreshSkew time.Duration `yaml:"refresh_skew" env:"TOKEN_REFRESH_SKEW" env-default:"30s"`
	// GatewayURL is where the voice probe finds the gateway
	GatewayURL string `yaml:"gateway_url" env:"GATEWAY_URL" env-default:"http://localhost:8080"`
}

// LoadClient reads the client configuration the same way Load does and
// fills in the default file locations
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	var cfg ClientConfig
	var err error
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	if cfg.TokenFile == "" || cfg.HistoryFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate home directory: %w", err)
		}
		if cfg.TokenFile == "" {
			cfg.TokenFile = filepath.Join(home, ".bmschat", "tokens.json")
		}
		if cfg.HistoryFile == "" {
			cfg.HistoryFile = filepath.Join(home, ".bmschat", "history")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate performs validation of every section
func (c *ClientConfig) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}
	if c.Backend.Mode == "gemini" && c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini config: GEMINI_API_KEY is required when CHAT_BACKEND=gemini")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if c.TokenFile == "" {
		return fmt.Errorf("token_file cannot be empty")
	}
	if c.RefreshSkew < 0 {
		return fmt.Errorf("refresh_skew cannot be negative, got %s", c.RefreshSkew)
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("gateway_url cannot be empty")
	}
	return nil
}
