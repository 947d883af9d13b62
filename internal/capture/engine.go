package capture

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/domain/entities"
	"github.com/sehatica/voxconsult/domain/repositories"
	"github.com/sehatica/voxconsult/internal/codec"
	"github.com/sehatica/voxconsult/internal/protocol"
)

// Transmitter sends an encoded message upstream. Satisfied by the
// connection manager.
type Transmitter interface {
	Send(msg protocol.Message) error
}

// Gate reports whether the microphone path may transmit. Satisfied by the
// duplex coordinator: while the assistant is speaking or the user paused
// the session, the gate is closed and captured audio never leaves the
// device.
type Gate interface {
	Listening() bool
}

// Engine pulls raw float32 blocks from the capture device, converts them to
// 16-bit PCM, and streams them upstream as audio chunks. The measured input
// level is reported for every block regardless of the gate, so voice
// activity detection and level meters keep working while transmission is
// suppressed.
type Engine struct {
	device repositories.CaptureDevice
	gate   Gate
	sender Transmitter
	logger *zap.Logger

	onLevel func(level entities.AudioLevel)
	onChunk func(sent bool)

	mu       sync.Mutex
	running  bool
	language string
	provider string
}

// NewEngine builds a capture engine. Language and provider tag every
// outgoing chunk so the backend routes it to the right transcription model.
func NewEngine(device repositories.CaptureDevice, gate Gate, sender Transmitter, language, provider string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		device:   device,
		gate:     gate,
		sender:   sender,
		language: language,
		provider: provider,
		logger:   logger,
	}
}

// OnLevel registers the per-block level observer. Must be set before Start.
func (e *Engine) OnLevel(fn func(level entities.AudioLevel)) {
	e.onLevel = fn
}

// OnChunk registers an observer invoked once per captured block with whether
// the block was transmitted or withheld by the gate. Must be set before
// Start.
func (e *Engine) OnChunk(fn func(sent bool)) {
	e.onChunk = fn
}

// SetTags updates the language and provider stamped on outgoing chunks.
func (e *Engine) SetTags(language, provider string) {
	e.mu.Lock()
	e.language = language
	e.provider = provider
	e.mu.Unlock()
}

// Start opens the device and begins streaming. Calling Start on a running
// engine is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	if err := e.device.Start(e.handleBlock); err != nil {
		if !errors.Is(err, entities.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", entities.ErrDeviceUnavailable, err)
		}
		return err
	}
	e.running = true
	e.logger.Info("capture started",
		zap.Int("sample_rate", e.device.SampleRate()),
		zap.Int("block_size", e.device.BlockSize()))
	return nil
}

// Stop closes the device. Safe to call repeatedly and on a never-started
// engine.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	// Device teardown happens outside the lock: the device may block until
	// an in-flight block callback returns, and that callback takes the
	// lock to read the chunk tags.
	if err := e.device.Stop(); err != nil {
		return err
	}
	e.logger.Info("capture stopped")
	return nil
}

// Running reports whether the device is currently streaming.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// handleBlock runs on the device callback for every captured block.
func (e *Engine) handleBlock(samples []float32) {
	pcm := codec.FloatToPCM16(samples)
	level := codec.Level(pcm)

	if e.onLevel != nil {
		e.onLevel(level)
	}

	if !e.gate.Listening() {
		if e.onChunk != nil {
			e.onChunk(false)
		}
		return
	}

	e.mu.Lock()
	language, provider := e.language, e.provider
	e.mu.Unlock()

	chunk := protocol.AudioChunk{
		Type:        protocol.TypeAudioChunk,
		Audio:       codec.EncodePayload(codec.PCM16ToBytes(pcm)),
		Language:    language,
		Provider:    provider,
		IsStreaming: true,
		Encoding:    codec.Encoding,
		SampleRate:  e.device.SampleRate(),
	}
	if e.onChunk != nil {
		e.onChunk(true)
	}
	if err := e.sender.Send(chunk); err != nil {
		e.logger.Debug("audio chunk dropped", zap.Error(err))
	}
}
