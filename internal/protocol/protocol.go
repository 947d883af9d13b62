// Package protocol defines the JSON messages exchanged with the consultation
// backend over the persistent session socket, and the decoder that turns raw
// frames into typed messages.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/sehatica/voxconsult/domain/entities"
)

// Type discriminates wire messages.
type Type string

// Client to server message types.
const (
	TypeInit        Type = "init"
	TypeAudioChunk  Type = "audio_chunk"
	TypeFinalAudio  Type = "final_audio"
	TypeFlush       Type = "flush"
	TypeTextMessage Type = "text_message"
	TypePong        Type = "pong"
)

// Server to client message types.
const (
	TypeConnectionEstablished Type = "connection_established"
	TypePing                  Type = "ping"
	TypeStreamingTranscript   Type = "streaming_transcript"
	TypeFinalTranscript       Type = "final_transcript"
	TypeResponse              Type = "response"
	TypeProcessingState       Type = "processing_state"
	TypeVADSignal             Type = "vad_signal"
	TypeError                 Type = "error"
)

// VAD signal values pushed by servers that run their own endpointing.
const (
	SignalStartSpeech = "START_SPEECH"
	SignalEndSpeech   = "END_SPEECH"
)

// Message is implemented by every wire message.
type Message interface {
	MessageType() Type
}

// Init opens a session on the backend.
type Init struct {
	Type           Type   `json:"type"`
	ConsultationID string `json:"consultation_id"`
	Language       string `json:"language"`
	Provider       string `json:"provider"`
}

func (m Init) MessageType() Type { return TypeInit }

// NewInit builds the handshake message for a session.
func NewInit(session *entities.Session) Init {
	return Init{
		Type:           TypeInit,
		ConsultationID: session.ConsultationID,
		Language:       session.Language,
		Provider:       session.Provider,
	}
}

// AudioChunk carries one captured PCM block, base64 encoded.
type AudioChunk struct {
	Type        Type   `json:"type"`
	Audio       string `json:"audio"`
	Language    string `json:"language"`
	Provider    string `json:"provider"`
	IsStreaming bool   `json:"is_streaming"`
	Encoding    string `json:"encoding"`
	SampleRate  int    `json:"sample_rate"`
}

func (m AudioChunk) MessageType() Type { return TypeAudioChunk }

// FinalAudio carries the closing, non-streaming audio payload of an
// utterance.
type FinalAudio struct {
	Type        Type   `json:"type"`
	Audio       string `json:"audio"`
	Encoding    string `json:"encoding"`
	SampleRate  int    `json:"sample_rate"`
	IsStreaming bool   `json:"is_streaming"`
}

func (m FinalAudio) MessageType() Type { return TypeFinalAudio }

// Flush asks the backend to finalize the in-progress utterance.
type Flush struct {
	Type Type `json:"type"`
}

func (m Flush) MessageType() Type { return TypeFlush }

// NewFlush builds a flush request.
func NewFlush() Flush { return Flush{Type: TypeFlush} }

// TextMessage is a typed consultation message (text-only mode).
type TextMessage struct {
	Type     Type   `json:"type"`
	Text     string `json:"text"`
	Language string `json:"language"`
	Provider string `json:"provider"`
}

func (m TextMessage) MessageType() Type { return TypeTextMessage }

// Pong is the heartbeat reply to a server ping.
type Pong struct {
	Type Type `json:"type"`
}

func (m Pong) MessageType() Type { return TypePong }

// NewPong builds a heartbeat reply.
func NewPong() Pong { return Pong{Type: TypePong} }

// ConnectionEstablished acknowledges a completed handshake.
type ConnectionEstablished struct {
	Type Type `json:"type"`
}

func (m ConnectionEstablished) MessageType() Type { return TypeConnectionEstablished }

// Ping is the server heartbeat; the client must reply pong immediately.
type Ping struct {
	Type Type `json:"type"`
}

func (m Ping) MessageType() Type { return TypePing }

// StreamingTranscript is a partial recognition result.
type StreamingTranscript struct {
	Type       Type   `json:"type"`
	Transcript string `json:"transcript"`
}

func (m StreamingTranscript) MessageType() Type { return TypeStreamingTranscript }

// FinalTranscript closes an utterance with its recognized text.
type FinalTranscript struct {
	Type         Type   `json:"type"`
	Transcript   string `json:"transcript"`
	UtteranceSeq int64  `json:"utterance_seq"`
}

func (m FinalTranscript) MessageType() Type { return TypeFinalTranscript }

// Response carries the assistant's reply for an utterance.
type Response struct {
	Type          Type           `json:"type"`
	FinalResponse string         `json:"final_response"`
	UtteranceSeq  int64          `json:"utterance_seq"`
	Metrics       map[string]any `json:"metrics,omitempty"`
}

func (m Response) MessageType() Type { return TypeResponse }

// ProcessingState reports whether the backend is working on an utterance.
type ProcessingState struct {
	Type         Type `json:"type"`
	IsProcessing bool `json:"is_processing"`
}

func (m ProcessingState) MessageType() Type { return TypeProcessingState }

// VADSignal is a server-side endpointing event, treated the same as the
// local detector's transitions.
type VADSignal struct {
	Type       Type   `json:"type"`
	SignalType string `json:"signal_type"`
}

func (m VADSignal) MessageType() Type { return TypeVADSignal }

// ServerError is a backend-reported failure. Non-fatal unless auth flagged.
type ServerError struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (m ServerError) MessageType() Type { return TypeError }

// IsAuth reports whether the error requires tearing the session down.
func (m ServerError) IsAuth() bool {
	return m.Code == "auth_error" || m.Code == "invalid_token"
}

// Unknown preserves a frame whose type has no local handler. Unknown types
// are logged and ignored, never fatal.
type Unknown struct {
	TypeName string
	Raw      json.RawMessage
}

func (m Unknown) MessageType() Type { return Type(m.TypeName) }

// Encode serializes a message for the socket.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, &entities.ProtocolError{MessageType: string(m.MessageType()), Err: err}
	}
	return data, nil
}

// Decode parses one inbound frame into its typed message. A frame whose type
// is not recognized decodes to Unknown; a frame that is not valid JSON or is
// missing its type tag fails with a ProtocolError.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &entities.ProtocolError{MessageType: "", Err: err}
	}
	if envelope.Type == "" {
		return nil, &entities.ProtocolError{MessageType: "", Err: fmt.Errorf("frame missing type field")}
	}

	unmarshal := func(v Message) (Message, error) {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, &entities.ProtocolError{MessageType: string(envelope.Type), Err: err}
		}
		return v, nil
	}

	switch envelope.Type {
	case TypeConnectionEstablished:
		return unmarshal(&ConnectionEstablished{})
	case TypePing:
		return unmarshal(&Ping{})
	case TypeStreamingTranscript:
		return unmarshal(&StreamingTranscript{})
	case TypeFinalTranscript:
		return unmarshal(&FinalTranscript{})
	case TypeResponse:
		return unmarshal(&Response{})
	case TypeProcessingState:
		return unmarshal(&ProcessingState{})
	case TypeVADSignal:
		return unmarshal(&VADSignal{})
	case TypeError:
		return unmarshal(&ServerError{})
	case TypeInit:
		return unmarshal(&Init{})
	case TypeAudioChunk:
		return unmarshal(&AudioChunk{})
	case TypeFinalAudio:
		return unmarshal(&FinalAudio{})
	case TypeFlush:
		return unmarshal(&Flush{})
	case TypeTextMessage:
		return unmarshal(&TextMessage{})
	case TypePong:
		return unmarshal(&Pong{})
	default:
		return Unknown{
			TypeName: string(envelope.Type),
			Raw:      append(json.RawMessage(nil), data...),
		}, nil
	}
}
