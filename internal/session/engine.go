// Package session orchestrates one live consultation: it owns the single
// event loop through which every socket message, audio level, and lifecycle
// action flows, so conversational state never needs more than one goroutine's
// worth of reasoning.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/domain/entities"
	"github.com/sehatica/voxconsult/domain/repositories"
	"github.com/sehatica/voxconsult/internal/duplex"
	"github.com/sehatica/voxconsult/internal/metrics"
	"github.com/sehatica/voxconsult/internal/protocol"
	"github.com/sehatica/voxconsult/internal/vad"
)

const defaultFinalizeDebounce = 3 * time.Second

// Conn is the transport surface the engine drives. Satisfied by the
// connection manager.
type Conn interface {
	Connect(ctx context.Context, session *entities.Session) error
	Send(msg protocol.Message) error
	Disconnect()
	State() entities.ConnectionState
	OnMessage(fn func(protocol.Message))
	OnStateChange(fn func(entities.ConnectionState))
	OnFatal(fn func(error))
}

// Capture is the microphone surface. Satisfied by the capture engine.
type Capture interface {
	Start() error
	Stop() error
	OnLevel(fn func(level entities.AudioLevel))
	OnChunk(fn func(sent bool))
	SetTags(language, provider string)
}

// Speaker is the assistant voice surface. Satisfied by the playback
// controller.
type Speaker interface {
	Speak(ctx context.Context, req repositories.SpeechRequest) error
	Stop()
}

// Config holds the engine tunables.
type Config struct {
	// FinalizeDebounce is the minimum spacing between utterance flushes.
	// Local silence detection and server endpointing signals share the
	// same funnel, so a burst of both produces exactly one flush.
	FinalizeDebounce time.Duration

	VAD vad.Config
}

func (c Config) withDefaults() Config {
	if c.FinalizeDebounce <= 0 {
		c.FinalizeDebounce = defaultFinalizeDebounce
	}
	zero := vad.Config{}
	if c.VAD == zero {
		c.VAD = vad.DefaultConfig()
	}
	return c
}

type event interface{}

type levelEvent struct {
	level entities.AudioLevel
	at    time.Time
}

type messageEvent struct{ msg protocol.Message }

type connStateEvent struct{ state entities.ConnectionState }

type fatalEvent struct{ err error }

type resetDetectorEvent struct{}

// Engine runs one consultation session end to end. All public methods are
// safe for concurrent use; conversational state is confined to the internal
// event loop.
type Engine struct {
	cfg      Config
	conn     Conn
	capture  Capture
	speaker  Speaker
	duplex   *duplex.Coordinator
	detector *vad.Detector
	mets     *metrics.Metrics
	logger   *zap.Logger

	events   chan event
	done     chan struct{}
	loopDone chan struct{}

	mu       sync.Mutex
	session  *entities.Session
	started  bool
	stopped  bool
	textOnly bool

	// Optional REST path for typed messages while the socket is down.
	textFallback repositories.TextConsultation

	// Registered before Start, read only by the loop afterwards.
	onUtterance  func(entities.Utterance)
	onResponse   func(text string)
	onLevel      func(level entities.AudioLevel)
	onConnState  func(state entities.ConnectionState)
	onProcessing func(active bool)
	onError      func(err error)

	// Loop-owned conversational state.
	awaitingResponse bool
	lastFinalize     time.Time
	lastSeq          int64
	speechStart      time.Time
}

// NewEngine wires a session engine. The metrics parameter may be nil.
func NewEngine(session *entities.Session, conn Conn, capture Capture, speaker Speaker, dup *duplex.Coordinator, cfg Config, mets *metrics.Metrics, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	detector, err := vad.New(cfg.VAD)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		session:  session,
		conn:     conn,
		capture:  capture,
		speaker:  speaker,
		duplex:   dup,
		detector: detector,
		mets:     mets,
		logger:   logger,
		events:   make(chan event, 256),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}, nil
}

// OnUtterance registers the transcript observer. Must be set before Start.
func (e *Engine) OnUtterance(fn func(entities.Utterance)) { e.onUtterance = fn }

// OnResponse registers the assistant reply observer. Must be set before
// Start.
func (e *Engine) OnResponse(fn func(text string)) { e.onResponse = fn }

// OnLevel registers the input level observer. Must be set before Start.
func (e *Engine) OnLevel(fn func(level entities.AudioLevel)) { e.onLevel = fn }

// OnConnectionState registers the connection state observer. Must be set
// before Start.
func (e *Engine) OnConnectionState(fn func(state entities.ConnectionState)) { e.onConnState = fn }

// OnProcessing registers the backend busy indicator observer. Must be set
// before Start.
func (e *Engine) OnProcessing(fn func(active bool)) { e.onProcessing = fn }

// OnError registers the error observer. Must be set before Start.
func (e *Engine) OnError(fn func(err error)) { e.onError = fn }

// Done is closed once the engine has fully shut down.
func (e *Engine) Done() <-chan struct{} { return e.loopDone }

// Start validates the session, connects, and opens the microphone. Calling
// Start twice is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	session := e.session
	e.mu.Unlock()

	if err := session.Validate(); err != nil {
		return err
	}

	e.conn.OnMessage(func(msg protocol.Message) { e.post(messageEvent{msg: msg}) })
	e.conn.OnStateChange(func(s entities.ConnectionState) { e.post(connStateEvent{state: s}) })
	e.conn.OnFatal(func(err error) { e.post(fatalEvent{err: err}) })
	e.capture.OnLevel(func(level entities.AudioLevel) { e.post(levelEvent{level: level, at: time.Now()}) })
	e.capture.OnChunk(e.recordChunk)
	e.capture.SetTags(session.Language, session.Provider)

	go e.loop()

	if err := e.conn.Connect(ctx, session); err != nil {
		e.halt()
		return err
	}
	if err := e.capture.Start(); err != nil {
		if !errors.Is(err, entities.ErrDeviceUnavailable) {
			e.conn.Disconnect()
			e.halt()
			return err
		}
		// Voice is gone but the session is not: the socket stays up and
		// typed messages keep working.
		e.mu.Lock()
		e.textOnly = true
		e.mu.Unlock()
		e.logger.Warn("microphone unavailable, continuing in text-only mode", zap.Error(err))
		if e.onError != nil {
			e.onError(err)
		}
	}

	session.Begin()
	e.logger.Info("session started",
		zap.String("session_id", session.ID),
		zap.String("consultation_id", session.ConsultationID),
		zap.String("language", session.Language))
	return nil
}

// Shutdown tears the session down: microphone first so nothing can be
// transmitted mid-teardown, then assistant playback, then the socket with
// its pending reconnect. Safe to call repeatedly.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	session := e.session
	e.mu.Unlock()

	if err := e.capture.Stop(); err != nil {
		e.logger.Warn("capture stop failed", zap.Error(err))
	}
	e.speaker.Stop()
	e.conn.Disconnect()
	session.End()
	e.halt()
	e.logger.Info("session ended", zap.String("session_id", session.ID))
}

// Pause mutes the user side of the conversation without closing anything.
func (e *Engine) Pause() {
	e.duplex.Pause()
	e.post(resetDetectorEvent{})
}

// Resume lifts a user pause.
func (e *Engine) Resume() {
	e.duplex.Resume()
}

// UseTextFallback registers the REST consultation client used for typed
// messages whenever the socket is unavailable. Must be set before Start.
func (e *Engine) UseTextFallback(tc repositories.TextConsultation) { e.textFallback = tc }

// TextOnly reports whether the session is running without a microphone.
func (e *Engine) TextOnly() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.textOnly
}

// SendText submits a typed message, the fallback when voice is unavailable.
// It goes over the socket when connected; with the socket down it falls back
// to the REST consultation path when one is registered.
func (e *Engine) SendText(text string) error {
	language, provider := e.tags()
	if e.conn.State() == entities.ConnectionConnected || e.textFallback == nil {
		return e.conn.Send(protocol.TextMessage{
			Type:     protocol.TypeTextMessage,
			Text:     text,
			Language: language,
			Provider: provider,
		})
	}
	go e.sendTextOverRest(text, language)
	return nil
}

// sendTextOverRest delivers a typed message through the REST collaborator
// and feeds the reply back into the event loop as if the socket had carried
// it, so it surfaces and speaks the usual way.
func (e *Engine) sendTextOverRest(text, language string) {
	e.mu.Lock()
	consultationID := e.session.ConsultationID
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	reply, err := e.textFallback.Send(ctx, repositories.TextMessage{
		Text:           text,
		ConsultationID: consultationID,
		Language:       language,
	})
	if err != nil {
		e.logger.Warn("text fallback failed", zap.Error(err))
		e.post(messageEvent{msg: &protocol.ServerError{
			Type:    protocol.TypeError,
			Message: err.Error(),
			Code:    "text_fallback",
		}})
		return
	}
	e.post(messageEvent{msg: &protocol.Response{
		Type:          protocol.TypeResponse,
		FinalResponse: reply,
	}})
}

// SetLanguage changes the recognition language. Allowed only while
// disconnected; mid-session switches would leave the backend stream
// inconsistent.
func (e *Engine) SetLanguage(language string) error {
	return e.setTag(func(s *entities.Session) { s.Language = language })
}

// SetProvider changes the speech provider. Allowed only while disconnected.
func (e *Engine) SetProvider(provider string) error {
	return e.setTag(func(s *entities.Session) { s.Provider = provider })
}

func (e *Engine) setTag(mutate func(*entities.Session)) error {
	if state := e.conn.State(); state != entities.ConnectionDisconnected {
		return fmt.Errorf("session settings are immutable while %s", state)
	}
	e.mu.Lock()
	mutate(e.session)
	language, provider := e.session.Language, e.session.Provider
	e.mu.Unlock()
	e.capture.SetTags(language, provider)
	return nil
}

func (e *Engine) tags() (string, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Language, e.session.Provider
}

func (e *Engine) post(ev event) {
	select {
	case <-e.done:
	case e.events <- ev:
	}
}

func (e *Engine) halt() {
	e.mu.Lock()
	select {
	case <-e.done:
	default:
		close(e.done)
	}
	e.mu.Unlock()
}

func (e *Engine) recordChunk(sent bool) {
	if e.mets == nil {
		return
	}
	if sent {
		e.mets.ChunksSent.Inc()
	} else {
		e.mets.ChunksSuppressed.Inc()
	}
}

func (e *Engine) loop() {
	defer close(e.loopDone)
	for {
		select {
		case <-e.done:
			return
		case ev := <-e.events:
			switch ev := ev.(type) {
			case levelEvent:
				e.handleLevel(ev)
			case messageEvent:
				e.handleMessage(ev.msg)
			case connStateEvent:
				e.handleConnState(ev.state)
			case fatalEvent:
				e.handleFatal(ev.err)
			case resetDetectorEvent:
				e.detector.Reset()
			}
		}
	}
}

func (e *Engine) handleLevel(ev levelEvent) {
	if e.mets != nil {
		e.mets.InputLevel.Set(float64(ev.level))
	}
	if e.onLevel != nil {
		e.onLevel(ev.level)
	}

	// Levels are still metered while the assistant speaks or the user has
	// paused, but endpointing must not run on them: re-captured speaker
	// audio would drive the detector and flush mid-playback. The detector
	// is held at baseline so no half-open segment survives the gate.
	if e.duplex.State() != entities.DuplexListening {
		e.detector.Reset()
		return
	}

	switch e.detector.Push(ev.level, ev.at) {
	case vad.EventSpeechStart:
		e.speechStart = ev.at
		if e.mets != nil {
			e.mets.SpeechSegments.Inc()
		}
		e.logger.Debug("speech detected")
	case vad.EventSpeechEnd:
		if e.mets != nil {
			e.mets.SegmentDuration.Observe(ev.at.Sub(e.speechStart).Seconds())
		}
		e.finalize(ev.at)
	}
}

// finalize asks the backend to close the current utterance. Local silence
// detection and server endpointing both land here; the debounce window and
// the awaiting flag make the flush idempotent across the two sources.
func (e *Engine) finalize(now time.Time) {
	if e.awaitingResponse {
		e.logger.Debug("finalize skipped, response pending")
		return
	}
	if !e.lastFinalize.IsZero() && now.Sub(e.lastFinalize) < e.cfg.FinalizeDebounce {
		e.logger.Debug("finalize skipped, inside debounce window")
		return
	}
	if err := e.conn.Send(protocol.NewFlush()); err != nil {
		e.logger.Warn("flush not sent", zap.Error(err))
		return
	}
	e.lastFinalize = now
	e.awaitingResponse = true
	if e.mets != nil {
		e.mets.UtterancesFinalized.Inc()
	}
	e.logger.Debug("utterance finalized")
}

func (e *Engine) handleMessage(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.ConnectionEstablished:
		e.logger.Info("session acknowledged by backend")

	case *protocol.StreamingTranscript:
		if e.onUtterance != nil {
			e.onUtterance(entities.Utterance{
				SequenceID: e.lastSeq + 1,
				Text:       m.Transcript,
				IsFinal:    false,
				StartedAt:  e.speechStart,
			})
		}

	case *protocol.FinalTranscript:
		if m.UtteranceSeq <= e.lastSeq {
			if e.mets != nil {
				e.mets.StaleTranscripts.Inc()
			}
			e.logger.Debug("stale transcript discarded",
				zap.Int64("utterance_seq", m.UtteranceSeq),
				zap.Int64("last_seq", e.lastSeq))
			return
		}
		e.lastSeq = m.UtteranceSeq
		e.awaitingResponse = false
		if e.onUtterance != nil {
			e.onUtterance(entities.Utterance{
				SequenceID: m.UtteranceSeq,
				Text:       m.Transcript,
				IsFinal:    true,
				StartedAt:  e.speechStart,
			})
		}

	case *protocol.Response:
		e.awaitingResponse = false
		if e.mets != nil {
			e.mets.ResponsesReceived.Inc()
		}
		if e.onResponse != nil {
			e.onResponse(m.FinalResponse)
		}
		e.speak(m.FinalResponse)

	case *protocol.ProcessingState:
		if e.onProcessing != nil {
			e.onProcessing(m.IsProcessing)
		}

	case *protocol.VADSignal:
		switch m.SignalType {
		case protocol.SignalEndSpeech:
			e.finalize(time.Now())
		case protocol.SignalStartSpeech:
			// The backend heard more speech; the pending utterance
			// is still growing.
			e.awaitingResponse = false
		default:
			e.logger.Debug("unknown vad signal", zap.String("signal_type", m.SignalType))
		}

	case *protocol.ServerError:
		// The backend will not answer the pending flush after reporting a
		// failure; leaving the flag set would block every later utterance.
		e.awaitingResponse = false
		err := fmt.Errorf("backend error (%s): %s", m.Code, m.Message)
		e.logger.Warn("backend reported error",
			zap.String("code", m.Code),
			zap.String("message", m.Message))
		if e.onError != nil {
			e.onError(err)
		}
		if m.IsAuth() {
			e.Shutdown()
		}

	case protocol.Unknown:
		e.logger.Debug("ignoring unknown message type", zap.String("message_type", m.TypeName))

	default:
		e.logger.Debug("unhandled message", zap.String("message_type", string(msg.MessageType())))
	}
}

func (e *Engine) speak(text string) {
	if text == "" {
		return
	}
	language, provider := e.tags()
	e.mu.Lock()
	consultationID := e.session.ConsultationID
	e.mu.Unlock()

	err := e.speaker.Speak(context.Background(), repositories.SpeechRequest{
		Text:           text,
		Language:       language,
		Provider:       provider,
		ConsultationID: consultationID,
	})
	if err != nil {
		if e.mets != nil {
			e.mets.PlaybackFailures.Inc()
		}
		e.logger.Warn("assistant playback failed", zap.Error(err))
		if e.onError != nil {
			e.onError(err)
		}
		return
	}
	if e.mets != nil {
		e.mets.PlaybackStarted.Inc()
	}
}

func (e *Engine) handleConnState(state entities.ConnectionState) {
	if e.mets != nil {
		e.mets.ConnectionState.Set(float64(state))
		if state == entities.ConnectionReconnecting {
			e.mets.Reconnects.Inc()
		}
	}
	if state == entities.ConnectionReconnecting {
		// The backend stream is gone; any endpointing state with it.
		e.detector.Reset()
		e.awaitingResponse = false
		e.lastFinalize = time.Time{}
	}
	if e.onConnState != nil {
		e.onConnState(state)
	}
}

func (e *Engine) handleFatal(err error) {
	e.logger.Error("transport gave up", zap.Error(err))
	if e.onError != nil {
		e.onError(err)
	}
	e.Shutdown()
}
