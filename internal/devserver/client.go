package devserver

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/domain/repositories"
	"github.com/sehatica/voxconsult/internal/auth"
	"github.com/sehatica/voxconsult/internal/codec"
	"github.com/sehatica/voxconsult/internal/protocol"
)

// partialSource is implemented by recognition streams that surface interim
// transcripts alongside the final one.
type partialSource interface {
	Partials() <-chan string
}

// Client is one authenticated consultation connection. Utterance state is
// guarded by mu; outbound frames go through the send channel so the write
// pump serializes them.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	claims *auth.Claims
	logger *zap.Logger

	mu           sync.Mutex
	language     string
	provider     string
	sttStream    repositories.SpeechToTextStreaming
	chatSession  repositories.ChatSession
	utteranceSeq int64
	listeningAt  time.Time
}

func newClient(hub *Hub, conn *websocket.Conn, claims *auth.Claims, logger *zap.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		claims: claims,
		logger: logger,
	}
}

// enqueue encodes and queues an outbound message. The frame is dropped if
// the client's queue is full, matching the backpressure rules for a slow
// consumer.
func (c *Client) enqueue(m protocol.Message) {
	data, err := protocol.Encode(m)
	if err != nil {
		c.logger.Error("failed to encode outbound message", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("outbound queue full, dropping frame",
			zap.String("type", string(m.MessageType())))
	}
}

func (c *Client) enqueueError(code, message string) {
	c.enqueue(protocol.ServerError{
		Type:    protocol.TypeError,
		Message: message,
		Code:    code,
	})
}

// readPump reads frames until the connection dies. Any inbound frame counts
// as liveness, including pong.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(readWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readWait))

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("undecodable frame", zap.Error(err))
			c.enqueueError("bad_frame", "frame could not be decoded")
			continue
		}
		c.handleMessage(msg)
	}
}

// writePump drains the send queue and keeps the heartbeat going. Pings are
// protocol-level frames, not websocket control messages, so clients answer
// them through their normal read path.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("websocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			ping, err := protocol.Encode(protocol.Ping{Type: protocol.TypePing})
			if err != nil {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Init:
		c.handleInit(m)
	case *protocol.AudioChunk:
		c.handleAudioChunk(m)
	case *protocol.FinalAudio:
		c.handleFinalAudio(m)
	case *protocol.Flush:
		c.handleFlush()
	case *protocol.TextMessage:
		c.handleText(m)
	case *protocol.Pong:
		// Liveness already refreshed by the read deadline reset.
	default:
		c.logger.Debug("ignoring frame", zap.String("type", string(msg.MessageType())))
	}
}

func (c *Client) handleInit(m *protocol.Init) {
	if m.ConsultationID != c.claims.ConsultationID {
		c.logger.Warn("init consultation does not match token",
			zap.String("init_consultation_id", m.ConsultationID))
		c.enqueueError("auth_error", "consultation does not match token")
		return
	}

	c.mu.Lock()
	c.language = m.Language
	c.provider = m.Provider
	c.mu.Unlock()

	c.logger.Info("session initialized",
		zap.String("language", m.Language),
		zap.String("provider", m.Provider))
}

func (c *Client) handleAudioChunk(m *protocol.AudioChunk) {
	audio, err := codec.DecodePayload(m.Audio)
	if err != nil {
		c.logger.Warn("audio chunk payload rejected", zap.Error(err))
		c.enqueueError("bad_audio", "audio payload is not valid base64")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sttStream == nil {
		config := repositories.AudioConfig{
			SampleRate: m.SampleRate,
			Encoding:   m.Encoding,
			Language:   c.language,
		}
		if config.Language == "" {
			config.Language = m.Language
		}
		stream, err := c.hub.stt.InitTranscribeStreaming(context.Background(), config)
		if err != nil {
			c.logger.Error("failed to open recognition stream", zap.Error(err))
			c.enqueueError("stt_unavailable", "recognition stream could not be opened")
			return
		}
		c.sttStream = stream
		c.listeningAt = time.Now()

		if source, ok := stream.(partialSource); ok {
			go c.forwardPartials(source.Partials())
		}
	}

	if err := c.sttStream.Stream(audio); err != nil {
		c.logger.Error("failed to stream audio", zap.Error(err))
		c.enqueueError("stt_error", "recognition stream rejected audio")
	}
}

func (c *Client) handleFinalAudio(m *protocol.FinalAudio) {
	c.handleAudioChunk(&protocol.AudioChunk{
		Audio:      m.Audio,
		Encoding:   m.Encoding,
		SampleRate: m.SampleRate,
	})
	c.handleFlush()
}

// forwardPartials relays interim transcripts until the recognition stream
// closes its channel.
func (c *Client) forwardPartials(partials <-chan string) {
	for transcript := range partials {
		c.enqueue(protocol.StreamingTranscript{
			Type:       protocol.TypeStreamingTranscript,
			Transcript: transcript,
		})
	}
}

// handleFlush closes the utterance: final transcript out, then the
// assistant's reply. Generation runs in its own goroutine so the read pump
// keeps consuming frames.
func (c *Client) handleFlush() {
	c.mu.Lock()
	stream := c.sttStream
	c.sttStream = nil
	startedAt := c.listeningAt
	c.mu.Unlock()

	if stream == nil {
		c.logger.Debug("flush with no active utterance")
		return
	}

	transcript, err := stream.End()
	if err != nil {
		c.logger.Warn("utterance produced no transcript", zap.Error(err))
		c.enqueueError("no_transcript", "utterance could not be transcribed")
		return
	}

	c.mu.Lock()
	c.utteranceSeq++
	seq := c.utteranceSeq
	c.mu.Unlock()

	c.logger.Info("utterance finalized",
		zap.Int64("utterance_seq", seq),
		zap.Duration("duration", time.Since(startedAt)),
		zap.String("transcript", transcript))

	c.enqueue(protocol.FinalTranscript{
		Type:         protocol.TypeFinalTranscript,
		Transcript:   transcript,
		UtteranceSeq: seq,
	})

	go c.respond(transcript, seq)
}

func (c *Client) handleText(m *protocol.TextMessage) {
	c.mu.Lock()
	c.utteranceSeq++
	seq := c.utteranceSeq
	c.mu.Unlock()

	go c.respond(m.Text, seq)
}

// respond asks the assistant model for a reply and pushes it to the client,
// bracketed by processing state updates.
func (c *Client) respond(text string, seq int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	c.enqueue(protocol.ProcessingState{Type: protocol.TypeProcessingState, IsProcessing: true})
	defer c.enqueue(protocol.ProcessingState{Type: protocol.TypeProcessingState, IsProcessing: false})

	session, err := c.chat(ctx)
	if err != nil {
		c.logger.Error("failed to open chat session", zap.Error(err))
		c.enqueueError("llm_unavailable", "assistant is unavailable")
		return
	}

	reply, err := session.SendMessage(ctx, repositories.ChatMessage{
		Role:    repositories.UserRole,
		Content: text,
	})
	if err != nil {
		c.logger.Error("assistant reply failed", zap.Error(err))
		c.enqueueError("llm_error", "assistant could not produce a reply")
		return
	}

	c.enqueue(protocol.Response{
		Type:          protocol.TypeResponse,
		FinalResponse: reply.Content,
		UtteranceSeq:  seq,
	})
}

// chat returns the consultation's chat session, opening it on first use.
func (c *Client) chat(ctx context.Context) (repositories.ChatSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chatSession != nil {
		return c.chatSession, nil
	}
	session, err := c.hub.llm.GenerateChat(ctx, nil)
	if err != nil {
		return nil, err
	}
	c.chatSession = session
	return session, nil
}
