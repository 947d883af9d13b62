package repositories

// CaptureBlockFunc receives one fixed-size block of float32 samples from the
// microphone. It runs on the device's audio thread and must never block on
// I/O.
type CaptureBlockFunc func(samples []float32)

// CaptureDevice owns the microphone handle. Exactly one session may hold the
// device at a time.
type CaptureDevice interface {
	// Start acquires the device and begins invoking cb once per audio block.
	// Returns entities.ErrDeviceUnavailable when permission is denied or no
	// input device exists.
	Start(cb CaptureBlockFunc) error
	// Stop releases the device and cancels the callback. Safe to call
	// multiple times.
	Stop() error
	SampleRate() int
	BlockSize() int
}

// PlaybackDevice owns the audio output handle used for assistant speech.
type PlaybackDevice interface {
	// Play writes one chunk of PCM audio to the output device. Blocks until
	// the chunk has been handed to the device buffer.
	Play(pcm []byte) error
	// Flush discards any buffered audio immediately, cutting playback short.
	Flush()
	Close() error
}
