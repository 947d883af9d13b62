package entities

import (
	"errors"
	"fmt"
)

// ErrAuth indicates a missing or invalid credential. Fatal; never retried.
var ErrAuth = errors.New("no valid credential available")

// ErrDeviceUnavailable indicates the microphone was denied or absent. Fatal
// for voice mode; the session falls back to text-only input.
var ErrDeviceUnavailable = errors.New("microphone device unavailable")

// TransportError wraps a socket-level failure. Retried with backoff until the
// attempt budget is exhausted.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ConnectionExhaustedError is surfaced after maxAttempts consecutive reconnect
// failures. Terminal; requires explicit user action to restart the session.
type ConnectionExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ConnectionExhaustedError) Error() string {
	return fmt.Sprintf("connection exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ConnectionExhaustedError) Unwrap() error {
	return e.LastErr
}

// SynthesisError wraps a TTS synthesis or playback failure. Non-fatal: capture
// must still resume after it is reported.
type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis (%s): %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// ProtocolError marks a malformed or unexpected wire message. Logged and
// ignored, never fatal to the session.
type ProtocolError struct {
	MessageType string
	Err         error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: message %q: %v", e.MessageType, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
