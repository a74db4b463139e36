package vad

import (
	"fmt"
	"sync/atomic"

	"github.com/vokalis/vokalis/pkg/audio"
)

// Segmenter is a streaming speech/silence classifier for transport frames.
//
// Feed every raw capture sample to [Segmenter.ObserveSample] (the framer's
// sample tap does this) so the noise-floor estimate tracks ambient level, and
// every completed transport frame to [Segmenter.ProcessFrame].
//
// ProcessFrame and ObserveSample must be called from a single goroutine — the
// capture path. SetConfig, SetSuppressed, and Calibrate may be called from any
// goroutine; they exchange state through atomics so the capture path never
// waits on a lock.
type Segmenter struct {
	cfg        atomic.Pointer[Config]
	suppressed atomic.Bool

	noiseFloor float64

	inSpeech       bool
	startCount     int
	silenceCount   int
	framesInSpeech int

	// Pre-roll ring: frames preceding a confirmed speech onset. Slots are
	// preallocated; capacity is fixed at construction, so a runtime config may
	// only shrink the effective window, never grow it.
	ring     [][]byte
	ringHead int // index of the oldest occupied slot
	ringLen  int
}

// NewSegmenter creates a Segmenter with the given configuration. Zero-valued
// config fields take their package defaults.
func NewSegmenter(cfg Config) *Segmenter {
	cfg = cfg.withDefaults()
	s := &Segmenter{}
	s.cfg.Store(&cfg)

	s.ring = make([][]byte, cfg.PreRollFrames)
	for i := range s.ring {
		s.ring[i] = make([]byte, audio.FrameBytes)
	}
	return s
}

// ObserveSample updates the noise-floor estimate with one rectified raw
// sample. Call once per capture sample, before decimation.
func (s *Segmenter) ObserveSample(v float64) {
	if v < 0 {
		v = -v
	}
	alpha := s.cfg.Load().EMAAlpha
	s.noiseFloor = alpha*v + (1-alpha)*s.noiseFloor
}

// ProcessFrame classifies one transport frame and advances the state machine.
// The frame must be exactly [audio.FrameBytes] long. It never blocks and does
// not allocate.
func (s *Segmenter) ProcessFrame(frame []byte) (Event, error) {
	if len(frame) != audio.FrameBytes {
		return Event{}, fmt.Errorf("vad: frame is %d bytes, want %d", len(frame), audio.FrameBytes)
	}

	cfg := *s.cfg.Load()
	rms := audio.RMS(frame)

	kH, kL := cfg.HighK, cfg.LowK
	if s.suppressed.Load() {
		kH *= cfg.BoostK
		kL *= cfg.BoostK
	}
	entry := max(cfg.MinThreshold, s.noiseFloor*kH)
	exit := max(cfg.MinThreshold*0.8, s.noiseFloor*kL)

	ev := Event{RMS: rms, NoiseFloor: s.noiseFloor}

	if !s.inSpeech {
		if rms > entry {
			if s.startCount >= cfg.StartFrames {
				// Confirmed onset: the run frames preceding this one stay in
				// the pre-roll ring for the consumer to drain.
				s.inSpeech = true
				s.startCount = 0
				s.framesInSpeech = 0
				s.silenceCount = 0
				ev.Type = SpeechStart
				return ev, nil
			}
			s.startCount++
		} else {
			s.startCount = 0
		}
		s.pushPreRoll(frame, cfg)
		ev.Type = Silence
		return ev, nil
	}

	s.framesInSpeech++
	hardFloor := cfg.MinThreshold * 0.9
	if rms < hardFloor || rms < exit {
		s.silenceCount++
	} else {
		s.silenceCount = 0
	}

	if s.silenceCount >= cfg.HangoverFrames || s.framesInSpeech >= cfg.MaxUtterFrames {
		s.inSpeech = false
		s.silenceCount = 0
		s.framesInSpeech = 0
		s.clearPreRoll()
		ev.Type = SpeechEnd
		return ev, nil
	}

	ev.Type = SpeechContinue
	return ev, nil
}

// Speaking reports whether the segmenter is currently inside a speech segment.
func (s *Segmenter) Speaking() bool { return s.inSpeech }

// NoiseFloor returns the current noise-floor estimate.
func (s *Segmenter) NoiseFloor() float64 { return s.noiseFloor }

// SetSuppressed raises or lowers the suppression flag. While set, entry and
// exit thresholds are boosted by the configured BoostK so the machine's own
// synthesized speech leaking through the microphone is less likely to trigger
// detection. Safe for concurrent use.
func (s *Segmenter) SetSuppressed(on bool) { s.suppressed.Store(on) }

// Suppressed reports the current suppression flag.
func (s *Segmenter) Suppressed() bool { return s.suppressed.Load() }

// SetConfig replaces the tuning parameters without restarting the pipeline.
// Transient run counters are reset; the speaking/not-speaking state is
// preserved. The effective pre-roll window is clamped to the capacity chosen
// at construction.
func (s *Segmenter) SetConfig(cfg Config) {
	cfg = cfg.withDefaults()
	if cfg.PreRollFrames > len(s.ring) {
		cfg.PreRollFrames = len(s.ring)
	}
	s.cfg.Store(&cfg)
	s.startCount = 0
	s.silenceCount = 0
}

// Config returns a copy of the current tuning parameters.
func (s *Segmenter) Config() Config { return *s.cfg.Load() }

// Calibrate zeroes the noise-floor estimate so it re-adapts from the next
// samples. Use after a change in acoustic environment.
func (s *Segmenter) Calibrate() { s.noiseFloor = 0 }

// Reset returns the segmenter to its initial not-speaking state, clearing all
// counters and the pre-roll buffer. The noise floor is kept.
func (s *Segmenter) Reset() {
	s.inSpeech = false
	s.startCount = 0
	s.silenceCount = 0
	s.framesInSpeech = 0
	s.clearPreRoll()
}

// PreRoll invokes fn for each buffered pre-onset frame, oldest first. The
// slices passed to fn are owned by the segmenter and are only valid for the
// duration of the call. Call immediately after a SpeechStart event to recover
// the audio preceding the confirmed onset.
func (s *Segmenter) PreRoll(fn func(frame []byte)) {
	for i := 0; i < s.ringLen; i++ {
		fn(s.ring[(s.ringHead+i)%len(s.ring)])
	}
}

// pushPreRoll copies frame into the ring, evicting the oldest entry when the
// effective window is full.
func (s *Segmenter) pushPreRoll(frame []byte, cfg Config) {
	capFrames := cfg.PreRollFrames
	if capFrames <= 0 {
		return
	}
	// >= rather than ==: a shrunk PreRollFrames can leave ringLen above the
	// new window, so evict until the frame fits.
	for s.ringLen >= capFrames {
		s.ringHead = (s.ringHead + 1) % len(s.ring)
		s.ringLen--
	}
	slot := (s.ringHead + s.ringLen) % len(s.ring)
	copy(s.ring[slot], frame)
	s.ringLen++
}

func (s *Segmenter) clearPreRoll() {
	s.ringHead = 0
	s.ringLen = 0
}
