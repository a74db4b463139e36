package audio

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Framer converts raw capture samples (float32, at an arbitrary device rate
// that is an integer multiple of the transport rate) into transport frames.
//
// Decimation averages each group of factor samples into one 16 kHz sample,
// clamps it to [-1, 1], and quantizes to PCM16. Quantized samples accumulate
// until a full frame is assembled, at which point the frame callback fires.
//
// Write is intended to run on the real-time capture path: it performs no I/O,
// holds no locks shared with other goroutines, and allocates only the emitted
// frame's payload. Pause drops incoming samples without emitting frames;
// Resume picks up without losing accumulator alignment beyond the
// currently-partial decimation group.
//
// A Framer is owned by a single capture goroutine and is not safe for
// concurrent Write calls. Pause and Resume may be called from any goroutine.
type Framer struct {
	factor int

	// Per-sample tap, called for every raw capture sample before decimation.
	// Used to feed the segmenter's noise-floor estimate. May be nil.
	onSample func(float64)

	// Frame sink, called with each assembled transport frame.
	onFrame func(Frame)

	groupSum float64
	groupN   int

	buf      [FrameSamples]int16
	bufN     int
	produced uint64 // frames emitted, for timestamps

	paused atomic.Bool
}

// FramerOption configures a Framer at construction time.
type FramerOption func(*Framer)

// WithSampleTap registers fn to be called once per raw capture sample with the
// sample value. The tap runs on the capture path and must not block.
func WithSampleTap(fn func(float64)) FramerOption {
	return func(f *Framer) { f.onSample = fn }
}

// NewFramer creates a Framer that decimates from deviceRate down to the
// transport rate. deviceRate must be a positive integer multiple of
// [SampleRate] (e.g. 48000 → factor 3). onFrame receives each assembled frame
// and must not be nil.
func NewFramer(deviceRate int, onFrame func(Frame), opts ...FramerOption) (*Framer, error) {
	if onFrame == nil {
		return nil, fmt.Errorf("audio: framer requires a frame callback")
	}
	if deviceRate <= 0 || deviceRate%SampleRate != 0 {
		return nil, fmt.Errorf("audio: device rate %d is not a multiple of %d", deviceRate, SampleRate)
	}
	return &Framer{
		factor:  deviceRate / SampleRate,
		onFrame: onFrame,
	}, nil
}

// Write feeds a block of raw capture samples into the framer. While paused,
// the block is dropped.
func (f *Framer) Write(block []float32) {
	if f.paused.Load() {
		return
	}
	for _, s := range block {
		v := float64(s)
		if f.onSample != nil {
			f.onSample(v)
		}

		f.groupSum += v
		f.groupN++
		if f.groupN < f.factor {
			continue
		}
		avg := f.groupSum / float64(f.factor)
		f.groupSum = 0
		f.groupN = 0

		f.buf[f.bufN] = QuantizeSample(avg)
		f.bufN++
		if f.bufN == FrameSamples {
			f.emit()
		}
	}
}

// emit packs the accumulated samples into a Frame and invokes the callback.
func (f *Framer) emit() {
	data := make([]byte, FrameBytes)
	for i, s := range f.buf {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	f.bufN = 0

	ts := time.Duration(f.produced) * FrameDuration
	f.produced++
	f.onFrame(Frame{Data: data, Timestamp: ts})
}

// Pause stops frame emission. Samples arriving while paused are discarded.
func (f *Framer) Pause() { f.paused.Store(true) }

// Resume re-enables frame emission after a Pause.
func (f *Framer) Resume() { f.paused.Store(false) }

// Paused reports whether the framer is currently discarding input.
func (f *Framer) Paused() bool { return f.paused.Load() }
