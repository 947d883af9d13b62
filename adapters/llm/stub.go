package llm

import (
	"context"
	"fmt"

	"github.com/sehatica/voxconsult/domain/repositories"
)

// StubModel answers with canned consultation replies so the development
// server runs without a Gemini API key.
type StubModel struct{}

var _ repositories.LargeLanguageModel = (*StubModel)(nil)

// NewStubModel builds the credential-free model.
func NewStubModel() *StubModel {
	return &StubModel{}
}

func (m *StubModel) GenerateChat(ctx context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	return &stubChatSession{history: history}, nil
}

type stubChatSession struct {
	history []repositories.ChatMessage
}

func (s *stubChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	s.history = append(s.history, message)

	var response string
	if message.Content != "" {
		response = fmt.Sprintf("Baik, saya catat keluhan Anda: %s. Sudah berapa lama Anda merasakannya?", message.Content)
	} else {
		response = "Halo, selamat datang di konsultasi Sehatica. Apa keluhan Anda hari ini?"
	}

	reply := repositories.ChatMessage{
		Role:    repositories.AssistantRole,
		Content: response,
	}
	s.history = append(s.history, reply)
	return reply, nil
}

func (s *stubChatSession) History() ([]repositories.ChatMessage, error) {
	return s.history, nil
}
