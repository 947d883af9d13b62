// Package audio binds the engine to real capture and playback hardware.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/domain/entities"
	"github.com/sehatica/voxconsult/domain/repositories"
)

const (
	defaultSampleRate = 16000
	defaultBlockSize  = 2048
	capturePeriodMs   = 20
)

// MicrophoneConfig holds capture device settings.
type MicrophoneConfig struct {
	SampleRate int
	BlockSize  int
}

// Microphone captures mono float32 audio from the default input device and
// delivers it in fixed-size blocks.
type Microphone struct {
	cfg    MicrophoneConfig
	logger *zap.Logger

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	running  bool

	cb      repositories.CaptureBlockFunc
	pending []float32
}

var _ repositories.CaptureDevice = (*Microphone)(nil)

// NewMicrophone builds a capture device with defaults applied.
func NewMicrophone(cfg MicrophoneConfig, logger *zap.Logger) *Microphone {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = defaultBlockSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Microphone{cfg: cfg, logger: logger}
}

// Start opens the default input device and begins delivering blocks to cb.
func (m *Microphone) Start(cb repositories.CaptureBlockFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: audio context: %v", entities.ErrDeviceUnavailable, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = capturePeriodMs

	m.cb = cb
	m.pending = m.pending[:0]

	callbacks := malgo.DeviceCallbacks{Data: m.onData}
	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return fmt.Errorf("%w: input device: %v", entities.ErrDeviceUnavailable, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return fmt.Errorf("%w: starting capture: %v", entities.ErrDeviceUnavailable, err)
	}

	m.malgoCtx = malgoCtx
	m.device = device
	m.running = true
	m.logger.Info("microphone opened",
		zap.Int("sample_rate", m.cfg.SampleRate),
		zap.Int("block_size", m.cfg.BlockSize))
	return nil
}

// Stop closes the input device. Safe to call repeatedly.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false

	_ = m.device.Stop()
	m.device.Uninit()
	m.device = nil
	_ = m.malgoCtx.Uninit()
	m.malgoCtx.Free()
	m.malgoCtx = nil
	m.pending = nil
	m.logger.Info("microphone closed")
	return nil
}

// SampleRate returns the configured capture rate.
func (m *Microphone) SampleRate() int { return m.cfg.SampleRate }

// BlockSize returns the number of samples per delivered block.
func (m *Microphone) BlockSize() int { return m.cfg.BlockSize }

// onData runs on the audio thread for every captured period.
func (m *Microphone) onData(_, input []byte, _ uint32) {
	samples := decodeFloat32(input)
	m.pending = append(m.pending, samples...)
	for len(m.pending) >= m.cfg.BlockSize {
		block := make([]float32, m.cfg.BlockSize)
		copy(block, m.pending[:m.cfg.BlockSize])
		m.pending = m.pending[m.cfg.BlockSize:]
		m.cb(block)
	}
}

// decodeFloat32 reinterprets little-endian float32 sample bytes. A trailing
// partial sample is dropped.
func decodeFloat32(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
