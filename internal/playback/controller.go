package playback

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/domain/entities"
	"github.com/sehatica/voxconsult/domain/repositories"
)

// Duplex is the half-duplex control surface the controller drives while the
// assistant is audible. Satisfied by the duplex coordinator.
type Duplex interface {
	BeginAssistantSpeech()
	EndAssistantSpeech()
}

// Controller turns assistant text into audible speech. At most one utterance
// plays at a time: a new Speak cancels and drains whatever is in flight
// before starting. The microphone gate is held closed for the whole audible
// window and released exactly once, whether playback ends normally, fails,
// or is cancelled.
type Controller struct {
	tts    repositories.TextToSpeech
	device repositories.PlaybackDevice
	duplex Duplex
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// Registered before use, read only by playback goroutines afterwards.
	onPlayed func(elapsed time.Duration)
}

// NewController builds a playback controller.
func NewController(tts repositories.TextToSpeech, device repositories.PlaybackDevice, duplex Duplex, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		tts:    tts,
		device: device,
		duplex: duplex,
		logger: logger,
	}
}

// OnPlayed registers an observer for how long each utterance held the
// speaker, whether it completed, failed, or was cut short. Must be set
// before the first Speak.
func (c *Controller) OnPlayed(fn func(elapsed time.Duration)) { c.onPlayed = fn }

// Speak synthesizes and plays the given text, superseding any utterance
// already in flight. It returns once synthesis has started; audio is
// delivered to the device in the background.
func (c *Controller) Speak(ctx context.Context, req repositories.SpeechRequest) error {
	c.interrupt()

	playCtx, cancel := context.WithCancel(ctx)
	stream, err := c.tts.Synthesize(playCtx, req)
	if err != nil {
		cancel()
		return &entities.SynthesisError{Provider: req.Provider, Err: err}
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.play(playCtx, stream, done)
	return nil
}

// Stop cancels any in-flight utterance and waits for the speaker to go
// quiet. Safe to call when nothing is playing.
func (c *Controller) Stop() {
	c.interrupt()
}

// Close stops playback and releases the audio device.
func (c *Controller) Close() error {
	c.interrupt()
	return c.device.Close()
}

// Busy reports whether an utterance is currently in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// interrupt cancels the current utterance, if any, and blocks until its
// playback goroutine has fully unwound and reopened the microphone gate.
func (c *Controller) interrupt() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *Controller) play(ctx context.Context, stream <-chan []byte, done chan struct{}) {
	defer close(done)

	start := time.Now()
	c.duplex.BeginAssistantSpeech()
	var once sync.Once
	release := func() { once.Do(c.duplex.EndAssistantSpeech) }
	defer func() {
		release()
		if c.onPlayed != nil {
			c.onPlayed(time.Since(start))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.device.Flush()
			return
		case chunk, ok := <-stream:
			if !ok {
				return
			}
			if err := c.device.Play(chunk); err != nil {
				c.logger.Warn("playback failed", zap.Error(err))
				c.device.Flush()
				return
			}
		}
	}
}
