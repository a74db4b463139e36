// Package audio implements the fixed transport representation shared by the
// capture pipeline and the relay: 20 ms mono frames of 16-bit little-endian
// PCM at 16 kHz, 320 samples (640 bytes) per frame.
//
// Frame boundaries are message boundaries at the transport layer — there is no
// framing header. A Frame is immutable once produced; ownership transfers from
// the Framer to whoever consumes it.
package audio

import (
	"math"
	"time"
)

const (
	// SampleRate is the transport sample rate in Hz.
	SampleRate = 16000

	// FrameDuration is the fixed duration of one transport frame.
	FrameDuration = 20 * time.Millisecond

	// FrameSamples is the number of samples per transport frame (320).
	FrameSamples = SampleRate / 1000 * 20

	// FrameBytes is the wire size of one transport frame (640).
	FrameBytes = FrameSamples * 2
)

// Frame is a single fixed-duration slice of mono PCM16LE audio at the
// transport rate. Data is always exactly FrameBytes long.
type Frame struct {
	// Data is the little-endian PCM payload.
	Data []byte

	// Timestamp marks when the first sample of this frame was captured,
	// relative to stream start.
	Timestamp time.Duration
}

// RMS returns the root-mean-square energy of a PCM16LE buffer, normalised to
// [0, 1]. An empty buffer yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}

// QuantizeSample clamps v to [-1, 1] and converts it to a signed 16-bit PCM
// sample.
func QuantizeSample(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(v * 0x8000)
	}
	return int16(v * 0x7FFF)
}
