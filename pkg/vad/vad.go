// Package vad implements streaming energy-based voice activity detection.
//
// The Segmenter classifies a continuous stream of fixed-duration PCM frames as
// speech or silence and emits discrete transition events. Detection is
// adaptive: a noise-floor estimate tracks slowly-varying ambient level via an
// exponential moving average of rectified sample amplitude, and the entry and
// exit thresholds are derived from that floor on every frame.
//
// The segmenter is synchronous by design: ProcessFrame returns immediately
// with a detection result and performs no allocation, making it suitable for
// the real-time capture path. A Segmenter maintains per-stream state and must
// not be shared across goroutines without external synchronisation, with the
// exception of SetSuppressed, which is safe to call concurrently.
package vad

// EventType enumerates detection states for a processed frame.
type EventType int

const (
	// Silence indicates no speech detected.
	Silence EventType = iota

	// SpeechStart indicates speech has just begun on this frame.
	SpeechStart

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechEnd indicates speech has just ended on this frame, either through
	// the hangover window or the maximum-utterance failsafe.
	SpeechEnd
)

// String returns the lower-case name of the event type.
func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	default:
		return "silence"
	}
}

// Event is the detection result for a single frame.
type Event struct {
	// Type is the classification outcome.
	Type EventType

	// RMS is the frame's root-mean-square energy, normalised to [0, 1].
	RMS float64

	// NoiseFloor is the noise-floor estimate at the time the frame was
	// classified.
	NoiseFloor float64
}

// Speaking reports whether the segmenter is inside a speech segment after
// this event.
func (e Event) Speaking() bool {
	return e.Type == SpeechStart || e.Type == SpeechContinue
}
