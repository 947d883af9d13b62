package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ConnectionState describes the lifecycle of the session socket. It is owned
// exclusively by the connection manager; every other component only reads it.
type ConnectionState int

const (
	ConnectionDisconnected ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// DuplexState arbitrates between listening and speaking. Capture chunks are
// transmitted only while the state is DuplexListening; that gate is what keeps
// assistant speech played through the speaker from being re-captured by the
// microphone and sent back as user audio.
type DuplexState int

const (
	DuplexListening DuplexState = iota
	DuplexPaused
	DuplexSpeakingAssistant
)

func (s DuplexState) String() string {
	switch s {
	case DuplexListening:
		return "listening"
	case DuplexPaused:
		return "paused"
	case DuplexSpeakingAssistant:
		return "speaking_assistant"
	default:
		return "unknown"
	}
}

// SessionStatus represents the status of a voice consultation session
type SessionStatus string

const (
	SessionStatusIdle   SessionStatus = "idle"
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
)

// Session represents one live voice consultation. Exactly one session is
// active per consultation; it is created when the consultation starts and
// destroyed on explicit end or navigation away.
type Session struct {
	ID             string        `json:"id"`
	ConsultationID string        `json:"consultation_id"`
	Language       string        `json:"language"`
	Provider       string        `json:"provider"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
}

// NewSession creates a session for a consultation
func NewSession(consultationID, language, provider string) *Session {
	return &Session{
		ID:             uuid.NewString(),
		ConsultationID: consultationID,
		Language:       language,
		Provider:       provider,
		Status:         SessionStatusIdle,
		CreatedAt:      time.Now(),
	}
}

// Begin marks the session active
func (s *Session) Begin() {
	s.Status = SessionStatusActive
}

// End marks the session ended
func (s *Session) End() {
	s.Status = SessionStatusEnded
}

// Ended reports whether the session has been torn down
func (s *Session) Ended() bool {
	return s.Status == SessionStatusEnded
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.ConsultationID == "" {
		return errors.New("consultation_id is required")
	}
	if s.Language == "" {
		return errors.New("language is required")
	}
	if s.Provider == "" {
		return errors.New("provider is required")
	}
	return nil
}

// Utterance is one recognized span of user speech. Sequence ids are
// monotonically increasing per session so the UI can discard stale partials
// delivered out of network order.
type Utterance struct {
	SequenceID int64     `json:"sequence_id"`
	Text       string    `json:"text"`
	IsFinal    bool      `json:"is_final"`
	StartedAt  time.Time `json:"started_at"`
}

// AudioChunk is a transient block of captured audio; it is not retained after
// transmission.
type AudioChunk struct {
	Payload     []byte `json:"payload"`
	Encoding    string `json:"encoding"`
	SampleRate  int    `json:"sample_rate"`
	IsStreaming bool   `json:"is_streaming"`
}

// AudioLevel is a scalar energy sample in [0,255], produced roughly every
// 100ms. Consumed by the VAD and by the UI for visual feedback; not persisted.
type AudioLevel = int

// MaxAudioLevel is the upper bound of the AudioLevel scale.
const MaxAudioLevel AudioLevel = 255
