package vad

// Default tuning values, matched to 20 ms frames at 16 kHz.
const (
	DefaultEMAAlpha       = 0.12
	DefaultMinThreshold   = 0.015
	DefaultHighK          = 3.5
	DefaultLowK           = 1.4
	DefaultBoostK         = 2.0
	DefaultStartFrames    = 5
	DefaultHangoverFrames = 15
	DefaultPreRollFrames  = 8
	DefaultMaxUtterFrames = 400 // ~8 s failsafe per utterance
)

// Config holds the tunable parameters of a [Segmenter]. The zero value of any
// field selects its package default, so partial configs are valid.
//
// Thresholds may be replaced at runtime via [Segmenter.SetConfig]; doing so
// resets transient run counters but never corrupts the current
// speaking/not-speaking state.
type Config struct {
	// EMAAlpha is the smoothing factor of the noise-floor moving average,
	// applied once per raw input sample.
	EMAAlpha float64

	// MinThreshold is the absolute RMS floor below which no frame can count as
	// speech regardless of the noise estimate.
	MinThreshold float64

	// HighK scales the noise floor into the speech entry threshold.
	HighK float64

	// LowK scales the noise floor into the speech exit threshold.
	LowK float64

	// BoostK multiplies both HighK and LowK while suppression is active
	// (machine's own synthesized speech is playing), raising the bar for
	// detecting new speech.
	BoostK float64

	// StartFrames is the number of consecutive above-entry frames required to
	// confirm speech start.
	StartFrames int

	// HangoverFrames is the number of consecutive below-exit frames required
	// to confirm speech end.
	HangoverFrames int

	// PreRollFrames caps the ring buffer of frames preserved from immediately
	// before a confirmed speech onset.
	PreRollFrames int

	// MaxUtterFrames bounds a single utterance; reaching it forces a speech
	// end regardless of continued energy.
	MaxUtterFrames int
}

// withDefaults returns c with every zero field replaced by its default.
func (c Config) withDefaults() Config {
	if c.EMAAlpha == 0 {
		c.EMAAlpha = DefaultEMAAlpha
	}
	if c.MinThreshold == 0 {
		c.MinThreshold = DefaultMinThreshold
	}
	if c.HighK == 0 {
		c.HighK = DefaultHighK
	}
	if c.LowK == 0 {
		c.LowK = DefaultLowK
	}
	if c.BoostK == 0 {
		c.BoostK = DefaultBoostK
	}
	if c.StartFrames == 0 {
		c.StartFrames = DefaultStartFrames
	}
	if c.HangoverFrames == 0 {
		c.HangoverFrames = DefaultHangoverFrames
	}
	if c.PreRollFrames == 0 {
		c.PreRollFrames = DefaultPreRollFrames
	}
	if c.MaxUtterFrames == 0 {
		c.MaxUtterFrames = DefaultMaxUtterFrames
	}
	return c
}
