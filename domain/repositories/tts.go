package repositories

import "context"

// SpeechRequest is the platform TTS contract: synthesized audio is requested
// per consultation with the session's language and provider.
type SpeechRequest struct {
	Text           string `json:"text"`
	Language       string `json:"language"`
	Provider       string `json:"provider"`
	ConsultationID string `json:"consultation_id"`
}

// TextToSpeech abstracts the speech synthesis collaborator. Implementations
// stream audio bytes on the returned channel and close it when synthesis is
// complete or fails.
type TextToSpeech interface {
	Synthesize(ctx context.Context, req SpeechRequest) (<-chan []byte, error)
}
