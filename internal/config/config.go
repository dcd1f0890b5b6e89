package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds every setting of the gateway and the terminal client.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Auth    AuthConfig    `yaml:"auth"`
	Voice   VoiceConfig   `yaml:"voice"`
	Storage StorageConfig `yaml:"storage"`
	Gemini  GeminiConfig  `yaml:"gemini"`
	Speech  SpeechConfig  `yaml:"speech"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains the HTTP listener settings
type ServerConfig struct {
	Port            string        `yaml:"port" env:"PORT" env-default:"8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
}

// BackendConfig points at the remote chat/auth backend
type BackendConfig struct {
	// Mode selects the chat backend: "remote" (HTTP backend) or "gemini" (direct assistant).
	Mode           string        `yaml:"mode" env:"CHAT_BACKEND" env-default:"remote"`
	BaseURL        string        `yaml:"base_url" env:"CHAT_BACKEND_URL" env-default:"http://localhost:8000"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"CHAT_BACKEND_TIMEOUT" env-default:"90s"`
	UserAgent      string        `yaml:"user_agent" env:"CHAT_BACKEND_USER_AGENT" env-default:"bmschat-gateway/1.0"`
}

// AuthConfig contains gateway session token settings
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	SessionTTL time.Duration `yaml:"session_ttl" env:"SESSION_TTL" env-default:"12h"`
	// RefreshSkew refreshes an access token this long before its exp claim.
	RefreshSkew time.Duration `yaml:"refresh_skew" env:"TOKEN_REFRESH_SKEW" env-default:"30s"`
}

// VoiceConfig contains transcript accumulation and normalisation settings
type VoiceConfig struct {
	PauseWindow     time.Duration `yaml:"pause_window" env:"VOICE_PAUSE_WINDOW" env-default:"15s"`
	MinConfidence   float64       `yaml:"min_confidence" env:"VOICE_MIN_CONFIDENCE" env-default:"0"`
	Language        string        `yaml:"language" env:"VOICE_LANGUAGE" env-default:"en-IN"`
	CorrectionsFile string        `yaml:"corrections_file" env:"VOICE_CORRECTIONS_FILE"`
	Localization    string        `yaml:"localization" env:"VOICE_LOCALIZATION"`
	FuzzyThreshold  float64       `yaml:"fuzzy_threshold" env:"VOICE_FUZZY_THRESHOLD" env-default:"0"`
	SpokenReplies   bool          `yaml:"spoken_replies" env:"VOICE_SPOKEN_REPLIES" env-default:"false"`
}

// StorageConfig selects the repository backend
type StorageConfig struct {
	Driver        string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"memory"`
	MongoURI      string `yaml:"mongo_uri" env:"MONGODB_URI" env-default:"mongodb://localhost:27017"`
	MongoDatabase string `yaml:"mongo_database" env:"MONGODB_DATABASE" env-default:"bmschat"`
	// IdleExpiry drops conversations and token sets untouched for this long.
	IdleExpiry time.Duration `yaml:"idle_expiry" env:"SESSION_IDLE_EXPIRY" env-default:"24h"`
}

// GeminiConfig configures the direct assistant backend
type GeminiConfig struct {
	APIKey string `yaml:"api_key" env:"GEMINI_API_KEY"`
	Model  string `yaml:"model" env:"GEMINI_MODEL" env-default:"gemini-2.0-flash"`
}

// SpeechConfig configures server-side recognition and spoken replies
type SpeechConfig struct {
	// Recognizer selects server-side recognition: "" (browser only), "google" or "scripted".
	Recognizer       string `yaml:"recognizer" env:"SPEECH_RECOGNIZER"`
	ScriptedText     string `yaml:"scripted_text" env:"SPEECH_SCRIPTED_TEXT" env-default:"show minor alarms"`
	ElevenLabsAPIKey string `yaml:"elevenlabs_api_key" env:"ELEVEN_LABS_API_KEY"`
	ElevenLabsVoice  string `yaml:"elevenlabs_voice" env:"ELEVEN_LABS_VOICE_ID"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// Load reads .env (when present), an optional YAML file named by CONFIG_FILE,
// then the environment, and validates the result.
func Load() (*Config, error) {
	// .env is optional; a missing file is not an error
	_ = godotenv.Load()

	var cfg Config
	var err error
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad is Load for main packages
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	if err := c.Voice.Validate(); err != nil {
		return fmt.Errorf("voice config: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	if c.Backend.Mode == "gemini" && c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini config: GEMINI_API_KEY is required when CHAT_BACKEND=gemini")
	}
	if err := c.Speech.Validate(); err != nil {
		return fmt.Errorf("speech config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", s.ShutdownTimeout)
	}
	return nil
}

// Validate validates backend configuration
func (b *BackendConfig) Validate() error {
	switch b.Mode {
	case "remote":
		if b.BaseURL == "" {
			return fmt.Errorf("base_url cannot be empty in remote mode")
		}
	case "gemini":
	default:
		return fmt.Errorf("mode must be one of: remote, gemini, got %q", b.Mode)
	}
	if b.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", b.RequestTimeout)
	}
	return nil
}

// Validate validates auth configuration
func (a *AuthConfig) Validate() error {
	if len(a.JWTSecret) < 16 {
		return fmt.Errorf("jwt_secret must be at least 16 characters")
	}
	if a.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive, got %s", a.SessionTTL)
	}
	if a.RefreshSkew < 0 {
		return fmt.Errorf("refresh_skew cannot be negative, got %s", a.RefreshSkew)
	}
	return nil
}

// Validate validates voice configuration
func (v *VoiceConfig) Validate() error {
	if v.PauseWindow <= 0 {
		return fmt.Errorf("pause_window must be positive, got %s", v.PauseWindow)
	}
	if v.MinConfidence < 0 || v.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %f", v.MinConfidence)
	}
	if v.FuzzyThreshold < 0 || v.FuzzyThreshold > 1 {
		return fmt.Errorf("fuzzy_threshold must be between 0 and 1, got %f", v.FuzzyThreshold)
	}
	switch v.Localization {
	case "", "hinglish":
	default:
		return fmt.Errorf("localization must be empty or hinglish, got %q", v.Localization)
	}
	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	switch s.Driver {
	case "memory":
	case "mongo":
		if s.MongoURI == "" {
			return fmt.Errorf("mongo_uri cannot be empty with the mongo driver")
		}
		if s.MongoDatabase == "" {
			return fmt.Errorf("mongo_database cannot be empty with the mongo driver")
		}
	default:
		return fmt.Errorf("driver must be one of: memory, mongo, got %q", s.Driver)
	}
	if s.IdleExpiry <= 0 {
		return fmt.Errorf("idle_expiry must be positive, got %s", s.IdleExpiry)
	}
	return nil
}

// Validate validates speech configuration
func (s *SpeechConfig) Validate() error {
	switch s.Recognizer {
	case "", "google", "scripted":
	default:
		return fmt.Errorf("recognizer must be empty or one of: google, scripted, got %q", s.Recognizer)
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("level must be one of: debug, info, warn, error, got %q", l.Level)
	}
}
