package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.BlockSize != 2048 {
		t.Errorf("block size = %d, want 2048", cfg.Audio.BlockSize)
	}
	if cfg.VAD.SpeechThreshold != 30 || cfg.VAD.SilenceThreshold != 10 {
		t.Errorf("vad thresholds = %d/%d, want 30/10",
			cfg.VAD.SpeechThreshold, cfg.VAD.SilenceThreshold)
	}
	if cfg.VAD.SilenceDuration != 1500*time.Millisecond {
		t.Errorf("silence duration = %v, want 1.5s", cfg.VAD.SilenceDuration)
	}
	if cfg.Session.FinalizeDebounce != 3*time.Second {
		t.Errorf("finalize debounce = %v, want 3s", cfg.Session.FinalizeDebounce)
	}
	if cfg.Server.ReconnectBase != time.Second || cfg.Server.ReconnectCap != 30*time.Second {
		t.Errorf("reconnect base/cap = %v/%v, want 1s/30s",
			cfg.Server.ReconnectBase, cfg.Server.ReconnectCap)
	}
	if cfg.Server.MaxReconnectAttempts != 5 {
		t.Errorf("max reconnect attempts = %d, want 5", cfg.Server.MaxReconnectAttempts)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("VOX_SERVER_URL", "wss://staging.sehatica.id/ws/consultation")
	t.Setenv("VOX_LANGUAGE", "en-US")
	t.Setenv("VOX_VAD_SILENCE_DURATION", "2s")
	t.Setenv("VOX_RECONNECT_MAX_ATTEMPTS", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.URL != "wss://staging.sehatica.id/ws/consultation" {
		t.Errorf("url = %q", cfg.Server.URL)
	}
	if cfg.Session.Language != "en-US" {
		t.Errorf("language = %q, want en-US", cfg.Session.Language)
	}
	if cfg.VAD.SilenceDuration != 2*time.Second {
		t.Errorf("silence duration = %v, want 2s", cfg.VAD.SilenceDuration)
	}
	if cfg.Server.MaxReconnectAttempts != 8 {
		t.Errorf("max attempts = %d, want 8", cfg.Server.MaxReconnectAttempts)
	}
}

func TestMalformedEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("VOX_SAMPLE_RATE", "very fast")
	t.Setenv("VOX_VAD_SILENCE_DURATION", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want default 16000", cfg.Audio.SampleRate)
	}
	if cfg.VAD.SilenceDuration != 1500*time.Millisecond {
		t.Errorf("silence duration = %v, want default 1.5s", cfg.VAD.SilenceDuration)
	}
}

func TestValidateRejectsBadSections(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "empty url",
			mutate:  func(c *Config) { c.Server.URL = "" },
			wantSub: "server config",
		},
		{
			name:    "cap below base",
			mutate:  func(c *Config) { c.Server.ReconnectCap = c.Server.ReconnectBase / 2 },
			wantSub: "server config",
		},
		{
			name:    "zero sample rate",
			mutate:  func(c *Config) { c.Audio.SampleRate = 0 },
			wantSub: "audio config",
		},
		{
			name:    "inverted vad thresholds",
			mutate:  func(c *Config) { c.VAD.SpeechThreshold = c.VAD.SilenceThreshold },
			wantSub: "vad config",
		},
		{
			name:    "empty language",
			mutate:  func(c *Config) { c.Session.Language = "" },
			wantSub: "session config",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantSub: "logging config",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoggingBuild(t *testing.T) {
	cfg := LoggingConfig{Level: "debug", Development: true}
	logger, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if logger == nil {
		t.Fatal("Build returned nil logger")
	}
	_ = logger.Sync()
}
