package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the complete engine configuration, assembled from environment
// variables. A .env file in the working directory is honored when present.
type Config struct {
	Server  ServerConfig
	Audio   AudioConfig
	VAD     VADConfig
	Session SessionConfig
	Logging LoggingConfig
}

// ServerConfig describes the consultation backend and reconnect policy.
type ServerConfig struct {
	URL                  string
	Token                string
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	MaxReconnectAttempts int
}

// AudioConfig contains capture parameters.
type AudioConfig struct {
	SampleRate int
	BlockSize  int
}

// VADConfig contains voice activity detection thresholds.
type VADConfig struct {
	SpeechThreshold  int
	SilenceThreshold int
	SilenceDuration  time.Duration
}

// SessionConfig carries per-consultation settings.
type SessionConfig struct {
	ConsultationID   string
	Language         string
	Provider         string
	FinalizeDebounce time.Duration
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string
	Development bool
}

// Load reads the environment, layering a .env file underneath when one
// exists, and validates the result.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			URL:                  envString("VOX_SERVER_URL", "wss://api.sehatica.id/ws/consultation"),
			Token:                os.Getenv("VOX_TOKEN"),
			ReconnectBase:        envDuration("VOX_RECONNECT_BASE", time.Second),
			ReconnectCap:         envDuration("VOX_RECONNECT_CAP", 30*time.Second),
			MaxReconnectAttempts: envInt("VOX_RECONNECT_MAX_ATTEMPTS", 5),
		},
		Audio: AudioConfig{
			SampleRate: envInt("VOX_SAMPLE_RATE", 16000),
			BlockSize:  envInt("VOX_BLOCK_SIZE", 2048),
		},
		VAD: VADConfig{
			SpeechThreshold:  envInt("VOX_VAD_SPEECH_THRESHOLD", 30),
			SilenceThreshold: envInt("VOX_VAD_SILENCE_THRESHOLD", 10),
			SilenceDuration:  envDuration("VOX_VAD_SILENCE_DURATION", 1500*time.Millisecond),
		},
		Session: SessionConfig{
			ConsultationID:   os.Getenv("VOX_CONSULTATION_ID"),
			Language:         envString("VOX_LANGUAGE", "id-ID"),
			Provider:         envString("VOX_PROVIDER", "standard"),
			FinalizeDebounce: envDuration("VOX_FINALIZE_DEBOUNCE", 3*time.Second),
		},
		Logging: LoggingConfig{
			Level:       envString("VOX_LOG_LEVEL", "info"),
			Development: envBool("VOX_LOG_DEVELOPMENT", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (c *ServerConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url must not be empty")
	}
	if c.ReconnectBase <= 0 {
		return fmt.Errorf("reconnect base must be positive, got %v", c.ReconnectBase)
	}
	if c.ReconnectCap < c.ReconnectBase {
		return fmt.Errorf("reconnect cap %v is below base %v", c.ReconnectCap, c.ReconnectBase)
	}
	if c.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("max reconnect attempts must be positive, got %d", c.MaxReconnectAttempts)
	}
	return nil
}

func (c *AudioConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block size must be positive, got %d", c.BlockSize)
	}
	return nil
}

func (c *VADConfig) Validate() error {
	if c.SilenceThreshold < 0 {
		return fmt.Errorf("silence threshold must not be negative, got %d", c.SilenceThreshold)
	}
	if c.SpeechThreshold <= c.SilenceThreshold {
		return fmt.Errorf("speech threshold %d must exceed silence threshold %d", c.SpeechThreshold, c.SilenceThreshold)
	}
	if c.SilenceDuration <= 0 {
		return fmt.Errorf("silence duration must be positive, got %v", c.SilenceDuration)
	}
	return nil
}

func (c *SessionConfig) Validate() error {
	if c.Language == "" {
		return fmt.Errorf("language must not be empty")
	}
	if c.Provider == "" {
		return fmt.Errorf("provider must not be empty")
	}
	if c.FinalizeDebounce <= 0 {
		return fmt.Errorf("finalize debounce must be positive, got %v", c.FinalizeDebounce)
	}
	return nil
}

func (c *LoggingConfig) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("unknown log level %q", c.Level)
	}
	return nil
}

// Build constructs the zap logger described by this section.
func (c *LoggingConfig) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q", c.Level)
	}
	var zcfg zap.Config
	if c.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
