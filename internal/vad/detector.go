// Package vad implements energy-based voice activity detection. The detector
// is push-driven and fully deterministic: the caller feeds it one audio level
// per capture block together with the observation time, and the detector never
// schedules its own timers. That keeps all speech/silence transitions on the
// session's single event loop.
package vad

import (
	"fmt"
	"time"
)

// Defaults tuned against the 0..255 level scale produced by the codec meter.
const (
	DefaultSpeechThreshold  = 30
	DefaultSilenceThreshold = 10
	DefaultSilenceDuration  = 1500 * time.Millisecond
)

// State is the detector's speech classification.
type State int

const (
	StateSilent State = iota
	StateSpeaking
)

func (s State) String() string {
	if s == StateSpeaking {
		return "speaking"
	}
	return "silent"
}

// Event is emitted on a state transition.
type Event int

const (
	EventNone Event = iota
	EventSpeechStart
	EventSpeechEnd
)

// Config holds the detector tunables. The two thresholds are deliberately far
// apart: a clear high level is required to enter Speaking and a clear low
// level to leave it, which suppresses chatter at the boundary.
type Config struct {
	SpeechThreshold  int
	SilenceThreshold int
	SilenceDuration  time.Duration
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		SpeechThreshold:  DefaultSpeechThreshold,
		SilenceThreshold: DefaultSilenceThreshold,
		SilenceDuration:  DefaultSilenceDuration,
	}
}

// Validate checks threshold ordering and ranges.
func (c Config) Validate() error {
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 255 {
		return fmt.Errorf("speech threshold must be within [0,255], got %d", c.SpeechThreshold)
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > 255 {
		return fmt.Errorf("silence threshold must be within [0,255], got %d", c.SilenceThreshold)
	}
	if c.SilenceThreshold >= c.SpeechThreshold {
		return fmt.Errorf("silence threshold (%d) must be below speech threshold (%d)",
			c.SilenceThreshold, c.SpeechThreshold)
	}
	if c.SilenceDuration <= 0 {
		return fmt.Errorf("silence duration must be positive, got %v", c.SilenceDuration)
	}
	return nil
}

// Detector is the {Silent, Speaking} state machine.
type Detector struct {
	cfg Config

	state        State
	silenceSince time.Time
	silenceArmed bool
}

// New creates a detector with the given config.
func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// Push feeds one level observation and returns the transition it caused, if
// any. now must be monotonically non-decreasing across calls.
func (d *Detector) Push(level int, now time.Time) Event {
	switch d.state {
	case StateSilent:
		if level > d.cfg.SpeechThreshold {
			d.state = StateSpeaking
			d.silenceArmed = false
			return EventSpeechStart
		}
	case StateSpeaking:
		if level < d.cfg.SilenceThreshold {
			if !d.silenceArmed {
				d.silenceArmed = true
				d.silenceSince = now
				return EventNone
			}
			if now.Sub(d.silenceSince) >= d.cfg.SilenceDuration {
				d.state = StateSilent
				d.silenceArmed = false
				return EventSpeechEnd
			}
		} else {
			// Speech resumed before the silence timer elapsed.
			d.silenceArmed = false
		}
	}
	return EventNone
}

// State returns the current classification.
func (d *Detector) State() State {
	return d.state
}

// Reset returns the detector to Silent and disarms the silence timer. Called
// when capture is paused so no transitions are produced from stale state.
func (d *Detector) Reset() {
	d.state = StateSilent
	d.silenceArmed = false
}
