// Package duplex arbitrates between listening and speaking so the assistant's
// synthesized voice is never re-captured by the microphone. Capture keeps the
// device open in every state; only transmission and VAD evaluation are gated.
package duplex

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/domain/entities"
)

// Coordinator owns the DuplexState machine. All transitions are idempotent:
// pausing while paused or resuming while listening is a no-op.
type Coordinator struct {
	mu         sync.Mutex
	state      entities.DuplexState
	userPaused bool

	onChange func(entities.DuplexState)
	logger   *zap.Logger
}

// NewCoordinator starts in Listening.
func NewCoordinator(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		state:  entities.DuplexListening,
		logger: logger,
	}
}

// OnChange registers a state observer. The callback runs while the
// coordinator lock is held; keep it fast and non-blocking.
func (c *Coordinator) OnChange(fn func(entities.DuplexState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// State returns the current duplex state.
func (c *Coordinator) State() entities.DuplexState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Listening reports whether capture chunks may be transmitted right now.
func (c *Coordinator) Listening() bool {
	return c.State() == entities.DuplexListening
}

// Pause suspends transmission on user intent. The microphone device stays
// open; blocks are still measured for level feedback but never transmitted.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	c.userPaused = true
	changed := c.transitionLocked(entities.DuplexPaused)
	c.mu.Unlock()
	if changed {
		c.logger.Info("Duplex paused by user")
	}
}

// Resume clears user-intent pause. If assistant audio is still playing the
// state stays SpeakingAssistant and listening resumes when playback ends.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	c.userPaused = false
	changed := false
	if c.state == entities.DuplexPaused {
		changed = c.transitionLocked(entities.DuplexListening)
	}
	c.mu.Unlock()
	if changed {
		c.logger.Info("Duplex resumed by user")
	}
}

// BeginAssistantSpeech is invoked by the playback controller before the first
// audio byte plays.
func (c *Coordinator) BeginAssistantSpeech() {
	c.mu.Lock()
	changed := c.transitionLocked(entities.DuplexSpeakingAssistant)
	c.mu.Unlock()
	if changed {
		c.logger.Debug("Capture suspended for assistant speech")
	}
}

// EndAssistantSpeech is invoked when playback finishes or fails. Capture
// returns to Listening unless the user paused it, in which case the pause
// intent is preserved.
func (c *Coordinator) EndAssistantSpeech() {
	c.mu.Lock()
	changed := false
	if c.state == entities.DuplexSpeakingAssistant {
		next := entities.DuplexListening
		if c.userPaused {
			next = entities.DuplexPaused
		}
		changed = c.transitionLocked(next)
	}
	c.mu.Unlock()
	if changed {
		c.logger.Debug("Capture restored after assistant speech")
	}
}

func (c *Coordinator) transitionLocked(next entities.DuplexState) bool {
	if c.state == next {
		return false
	}
	c.state = next
	if c.onChange != nil {
		c.onChange(next)
	}
	return true
}
