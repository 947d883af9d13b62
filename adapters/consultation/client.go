// Package consultation talks to the platform's consultation REST API, the
// text-only fallback used when the voice channel is unavailable.
package consultation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/domain/repositories"
)

const (
	defaultBaseURL = "https://api.sehatica.id/v1"
	defaultTimeout = 30 * time.Second
)

// Config holds the consultation client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewConfigFromEnv reads the client settings from the environment.
func NewConfigFromEnv() Config {
	return Config{
		BaseURL: os.Getenv("VOX_API_BASE_URL"),
		APIKey:  os.Getenv("VOX_API_KEY"),
	}
}

// Client posts typed messages to a consultation and returns the assistant's
// reply.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ repositories.TextConsultation = (*Client)(nil)

// NewClient builds a consultation client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("consultation api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

type messageRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type messageResponse struct {
	Reply string `json:"reply"`
}

// Send submits a typed message and returns the assistant's textual reply.
func (c *Client) Send(ctx context.Context, msg repositories.TextMessage) (string, error) {
	if msg.ConsultationID == "" {
		return "", fmt.Errorf("consultation id is required")
	}
	if msg.Text == "" {
		return "", fmt.Errorf("text cannot be empty")
	}

	body, err := json.Marshal(messageRequest{Text: msg.Text, Language: msg.Language})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/consultations/%s/messages", c.baseURL, msg.ConsultationID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("consultation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("consultation api returned %d: %s", resp.StatusCode, string(errorBody))
	}

	var reply messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("failed to decode reply: %w", err)
	}

	c.logger.Debug("text message delivered",
		zap.String("consultation_id", msg.ConsultationID),
		zap.Int("reply_len", len(reply.Reply)))
	return reply.Reply, nil
}
