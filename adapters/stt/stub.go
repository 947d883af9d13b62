package stt

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/domain/repositories"
)

// StubRecognizer produces canned transcripts so the development server runs
// without cloud credentials.
type StubRecognizer struct {
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*StubRecognizer)(nil)

// NewStubRecognizer builds the credential-free recognizer.
func NewStubRecognizer(logger *zap.Logger) *StubRecognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubRecognizer{logger: logger}
}

func (s *StubRecognizer) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	s.logger.Debug("stub recognition stream opened",
		zap.String("language", config.Language),
		zap.Int("sample_rate", config.SampleRate))
	return &stubStream{logger: s.logger}, nil
}

func (s *StubRecognizer) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	stream, err := s.InitTranscribeStreaming(ctx, config)
	if err != nil {
		return "", err
	}
	if err := stream.Stream(audioData); err != nil {
		return "", err
	}
	return stream.End()
}

type stubStream struct {
	logger *zap.Logger
	bytes  int
}

func (m *stubStream) Stream(data []byte) error {
	m.bytes += len(data)
	return nil
}

// End picks a transcript by how much audio arrived, so longer recordings
// exercise the longer consultation phrases.
func (m *stubStream) End() (string, error) {
	if m.bytes == 0 {
		return "", fmt.Errorf("no audio received")
	}
	switch {
	case m.bytes > 100000:
		return "Dokter, sudah tiga hari saya demam dan batuk, obat warung tidak mempan.", nil
	case m.bytes > 20000:
		return "Kepala saya pusing sejak kemarin.", nil
	default:
		return "Halo dokter.", nil
	}
}
