// Package tts streams synthesized assistant speech from the platform's
// text-to-speech service.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/domain/repositories"
	"github.com/sehatica/voxconsult/internal/codec"
)

const (
	defaultEndpoint   = "https://api.sehatica.id/v1/tts"
	defaultChunkSize  = 4096
	defaultTimeout    = 60 * time.Second
	defaultSampleRate = 24000
)

// Config holds the TTS client settings.
type Config struct {
	// Endpoint is the synthesis URL.
	Endpoint string
	// APIKey authenticates the client. Required.
	APIKey string
	// ChunkSize is the size of streamed audio chunks.
	ChunkSize int
	// SampleRate of the requested PCM output.
	SampleRate int
	// Timeout bounds one synthesis request end to end.
	Timeout time.Duration
}

// NewConfigFromEnv reads the client settings from the environment.
func NewConfigFromEnv() Config {
	cfg := Config{
		Endpoint: os.Getenv("VOX_TTS_ENDPOINT"),
		APIKey:   os.Getenv("VOX_TTS_API_KEY"),
	}
	if v := os.Getenv("VOX_TTS_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ChunkSize = n
		}
	}
	if v := os.Getenv("VOX_TTS_SAMPLE_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SampleRate = n
		}
	}
	return cfg
}

// Validate checks the required settings.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("tts api key is required")
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	return nil
}

// Client implements speech synthesis against the platform TTS service.
type Client struct {
	endpoint   string
	apiKey     string
	chunkSize  int
	sampleRate int
	httpClient *http.Client
	logger     *zap.Logger
}

var _ repositories.TextToSpeech = (*Client)(nil)

// NewClient builds a TTS client, applying defaults for unset fields.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		chunkSize:  cfg.ChunkSize,
		sampleRate: cfg.SampleRate,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

type synthesisRequest struct {
	Text           string `json:"text"`
	Language       string `json:"language"`
	Provider       string `json:"provider"`
	ConsultationID string `json:"consultation_id,omitempty"`
	Encoding       string `json:"encoding"`
	SampleRate     int    `json:"sample_rate"`
}

// Synthesize requests speech for the given text and streams raw PCM chunks
// on the returned channel. The channel is closed when the stream ends or the
// context is cancelled. A request the service refuses fails synchronously.
func (c *Client) Synthesize(ctx context.Context, req repositories.SpeechRequest) (<-chan []byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	body, err := json.Marshal(synthesisRequest{
		Text:           req.Text,
		Language:       req.Language,
		Provider:       req.Provider,
		ConsultationID: req.ConsultationID,
		Encoding:       codec.Encoding,
		SampleRate:     c.sampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/pcm")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("tts service returned %d: %s", resp.StatusCode, string(errorBody))
	}

	c.logger.Debug("synthesis started",
		zap.String("language", req.Language),
		zap.String("provider", req.Provider),
		zap.Int("text_len", len(req.Text)))

	audio := make(chan []byte, 10)
	go c.stream(ctx, resp.Body, audio)
	return audio, nil
}

func (c *Client) stream(ctx context.Context, body io.ReadCloser, audio chan<- []byte) {
	defer close(audio)
	defer body.Close()

	buffer := make([]byte, c.chunkSize)
	total := 0
	for {
		n, err := body.Read(buffer)
		if n > 0 {
			total += n
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])
			select {
			case audio <- chunk:
			case <-ctx.Done():
				c.logger.Debug("synthesis cancelled mid-stream", zap.Int("bytes", total))
				return
			}
		}
		if err == io.EOF {
			c.logger.Debug("synthesis stream finished", zap.Int("bytes", total))
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("synthesis stream broke", zap.Error(err))
			}
			return
		}
	}
}
