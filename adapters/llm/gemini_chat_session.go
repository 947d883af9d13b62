package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/sehatica/voxconsult/domain/repositories"
)

// geminiChatSession holds one consultation's conversation state. History is
// kept in Gemini's content format and converted at the interface boundary.
type geminiChatSession struct {
	client  *genai.Client
	config  GeminiConfig
	logger  *zap.Logger
	history []*genai.Content
}

func newGeminiChatSession(client *genai.Client, config GeminiConfig, logger *zap.Logger, history []repositories.ChatMessage) *geminiChatSession {
	return &geminiChatSession{
		client:  client,
		config:  config,
		logger:  logger,
		history: toGeminiContents(history),
	}
}

// SendMessage generates a response and appends both turns to the history.
// Generation failures resolve to a spoken fallback rather than an error so
// the consultation keeps moving.
func (s *geminiChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	contents := make([]*genai.Content, 0, len(s.history)+2)
	contents = append(contents, genai.NewContentFromText(systemPrompt, genai.RoleUser))
	contents = append(contents, s.history...)

	userContent := genai.NewContentFromText(message.Content, genai.RoleUser)
	contents = append(contents, userContent)

	genConfig := &genai.GenerateContentConfig{
		SafetySettings:  safetySettings,
		Temperature:     genai.Ptr(s.config.Temperature),
		TopP:            genai.Ptr(s.config.TopP),
		TopK:            genai.Ptr(s.config.TopK),
		MaxOutputTokens: int32(s.config.MaxOutputTokens),
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.config.TimeoutSeconds)*time.Second)
	defer cancel()

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		response, err = s.client.Models.GenerateContent(ctx, s.config.Model, contents, genConfig)
		if err == nil {
			break
		}
		s.logger.Warn("generation failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if attempt < 2 {
			time.Sleep(time.Duration(attempt+1) * time.Second)
		}
	}
	if err != nil {
		s.logger.Error("generation exhausted retries", zap.Error(err))
		return s.fallback(), nil
	}

	text := responseText(response)
	if text == "" {
		s.logger.Warn("model returned no usable content")
		return s.fallback(), nil
	}

	s.history = append(s.history, userContent, genai.NewContentFromText(text, genai.RoleModel))

	s.logger.Debug("chat turn completed",
		zap.String("response_preview", text[:min(50, len(text))]),
		zap.Int("history_length", len(s.history)))

	return repositories.ChatMessage{
		Role:    repositories.AssistantRole,
		Content: text,
	}, nil
}

// History returns the conversation so far in repository format.
func (s *geminiChatSession) History() ([]repositories.ChatMessage, error) {
	return fromGeminiContents(s.history), nil
}

func (s *geminiChatSession) fallback() repositories.ChatMessage {
	content := fallbackResponses[int(time.Now().UnixNano())%len(fallbackResponses)]
	s.history = append(s.history, genai.NewContentFromText(content, genai.RoleModel))
	return repositories.ChatMessage{
		Role:    repositories.AssistantRole,
		Content: content,
	}
}

func responseText(response *genai.GenerateContentResponse) string {
	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}
	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		text += part.Text
	}
	return text
}

func toGeminiContents(messages []repositories.ChatMessage) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		role := genai.RoleUser
		if msg.Role == repositories.AssistantRole {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, genai.Role(role)))
	}
	return contents
}

func fromGeminiContents(contents []*genai.Content) []repositories.ChatMessage {
	var messages []repositories.ChatMessage
	for _, content := range contents {
		role := repositories.UserRole
		if content.Role == genai.RoleModel {
			role = repositories.AssistantRole
		}
		var text string
		for _, part := range content.Parts {
			text += part.Text
		}
		if text != "" {
			messages = append(messages, repositories.ChatMessage{Role: role, Content: text})
		}
	}
	return messages
}
