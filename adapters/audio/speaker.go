package audio

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/domain/repositories"
)

const (
	defaultPlaybackRate = 24000
	// At 24kHz mono 16-bit, 4800 bytes is ~100ms: low enough latency for
	// conversation, large enough to ride out scheduler hiccups.
	defaultPlaybackBuffer = 4800
)

// SpeakerConfig holds playback device settings.
type SpeakerConfig struct {
	SampleRate int
	BufferSize int
}

// Speaker plays 16-bit little-endian mono PCM through the default output
// device. It implements io.Reader so the oto player can pull queued audio.
type Speaker struct {
	otoCtx *oto.Context
	logger *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	player  *oto.Player
	playing bool
	closed  bool
}

var _ repositories.PlaybackDevice = (*Speaker)(nil)

// NewSpeaker opens the output device.
func NewSpeaker(cfg SpeakerConfig, logger *zap.Logger) (*Speaker, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultPlaybackRate
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultPlaybackBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   cfg.BufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("opening output device: %w", err)
	}
	<-ready

	s := &Speaker{otoCtx: otoCtx, logger: logger}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Play queues PCM for playback, starting the player on the first write.
func (s *Speaker) Play(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("speaker is closed")
	}
	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
	return nil
}

// Read hands queued audio to the oto player. Blocks until data arrives or
// the speaker is flushed or closed.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.closed && s.playing {
		s.cond.Wait()
	}
	if len(s.buf) == 0 {
		// Feed silence so oto can drain without underrun noise.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Flush discards queued audio and stops the current player so a superseding
// utterance starts clean.
func (s *Speaker) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	if s.player == nil || !s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = false
	player := s.player
	s.player = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	// Pause first so audio stops immediately, then reset to clear oto's
	// internal buffer before discarding the player.
	player.Pause()
	player.Reset()
	_ = player.Close()
}

// Close releases the output device.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	player := s.player
	s.player = nil
	s.playing = false
	s.cond.Broadcast()
	s.mu.Unlock()

	if player != nil {
		_ = player.Close()
	}
	s.logger.Info("speaker closed")
	return nil
}
