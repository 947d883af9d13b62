package repositories

import "context"

// TextMessage is the text-consultation collaborator contract.
type TextMessage struct {
	Text           string `json:"text"`
	ConsultationID string `json:"consultation_id"`
	Language       string `json:"language"`
}

// TextConsultation sends a typed user message to the consultation backend and
// returns the assistant's final response. Used when the session runs in
// text-only mode or for explicit typed input alongside voice.
type TextConsultation interface {
	Send(ctx context.Context, msg TextMessage) (string, error)
}

// CredentialSource provides the bearer token used to authenticate the session
// socket. The token is appended as a query parameter on connect.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}
