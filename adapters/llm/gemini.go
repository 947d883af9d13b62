package llm

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/sehatica/voxconsult/domain/repositories"
)

// GeminiModel implements LargeLanguageModel on Google's Gemini API.
type GeminiModel struct {
	client *genai.Client
	config GeminiConfig
	logger *zap.Logger
}

var _ repositories.LargeLanguageModel = (*GeminiModel)(nil)

// NewGeminiModel builds the Gemini-backed model. The API key is taken from
// the GEMINI_API_KEY environment variable.
func NewGeminiModel(logger *zap.Logger, config GeminiConfig) (*GeminiModel, error) {
	if config.APIKey == "" {
		config.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiModel{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// GenerateChat opens a chat session seeded with history.
func (g *GeminiModel) GenerateChat(ctx context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	return newGeminiChatSession(g.client, g.config, g.logger, history), nil
}
