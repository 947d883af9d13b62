// Package codec converts captured floating-point audio blocks into the 16-bit
// little-endian PCM payloads the wire protocol carries, and measures block
// energy for voice activity detection and UI feedback.
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"math"
)

// Encoding is the wire encoding name for capture payloads.
const Encoding = "pcm"

// FloatToPCM16 converts float32 samples in [-1,1] to signed 16-bit samples.
// Out-of-range input is clipped rather than wrapped.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if s < 0 {
			out[i] = int16(s * 0x8000)
		} else {
			out[i] = int16(s * 0x7FFF)
		}
	}
	return out
}

// PCM16ToBytes serializes samples as little-endian byte pairs.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToPCM16 is the inverse of PCM16ToBytes. Odd trailing bytes are
// dropped.
func BytesToPCM16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// EncodePayload renders a PCM block transport-safe for the JSON protocol.
func EncodePayload(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodePayload reverses EncodePayload.
func DecodePayload(payload string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(payload)
}

// Level computes the RMS energy of a PCM block scaled to [0,255]. The scale
// matches the thresholds the voice activity detector is tuned against.
func Level(samples []int16) int {
	if len(samples) == 0 {
		return 0
	}
	var energy float64
	for _, s := range samples {
		f := float64(s) / 0x8000
		energy += f * f
	}
	rms := math.Sqrt(energy / float64(len(samples)))
	level := int(math.Round(rms * 255))
	if level > 255 {
		level = 255
	}
	return level
}
