// Package recorder writes confirmed utterances to WAV files for debugging.
//
// The recorder implements the voice pipeline's utterance sink: each detected
// utterance, pre-roll included, becomes one 16 kHz mono PCM16 file in the
// configured directory. The filesystem is abstracted behind afero so tests
// run against an in-memory filesystem.
package recorder

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/zenwerk/go-wave"
)

const (
	sampleRate    = 16000
	bitsPerSample = 16
)

// Option is a functional option for configuring a Recorder.
type Option func(*Recorder)

// WithClock replaces the timestamp source used for file names.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Recorder persists utterances as WAV files. It is safe for concurrent use,
// though the pipeline delivers frames from a single goroutine.
type Recorder struct {
	fs  afero.Fs
	dir string
	now func() time.Time
	log *slog.Logger

	mu      sync.Mutex
	file    afero.File
	writer  *wave.Writer
	written int
	samples []int16
}

// New creates a Recorder storing files under dir on fs.
func New(fs afero.Fs, dir string, opts ...Option) *Recorder {
	r := &Recorder{
		fs:  fs,
		dir: dir,
		now: time.Now,
		log: slog.With("component", "recorder"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BeginUtterance opens a new WAV file. A failure disables recording for this
// utterance only.
func (r *Recorder) BeginUtterance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer != nil {
		r.closeLocked()
	}

	name := fmt.Sprintf("utterance-%s.wav", r.now().UTC().Format("20060102-150405.000"))
	path := filepath.Join(r.dir, name)

	if err := r.fs.MkdirAll(r.dir, 0o755); err != nil {
		r.log.Warn("create recording dir failed", "dir", r.dir, "err", err)
		return
	}
	file, err := r.fs.Create(path)
	if err != nil {
		r.log.Warn("create recording failed", "path", path, "err", err)
		return
	}
	writer, err := wave.NewWriter(wave.WriterParam{
		Out:           file,
		Channel:       1,
		SampleRate:    sampleRate,
		BitsPerSample: bitsPerSample,
	})
	if err != nil {
		r.log.Warn("open wav writer failed", "path", path, "err", err)
		_ = file.Close()
		return
	}

	r.file = file
	r.writer = writer
	r.written = 0
	r.log.Debug("recording utterance", "path", path)
}

// WriteFrame appends one 640-byte transport frame to the open file. Frames
// arriving without an open file are dropped.
func (r *Recorder) WriteFrame(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return
	}

	if cap(r.samples) < len(pcm)/2 {
		r.samples = make([]int16, len(pcm)/2)
	}
	samples := r.samples[:len(pcm)/2]
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}

	if _, err := r.writer.WriteSample16(samples); err != nil {
		r.log.Warn("wav write failed", "err", err)
		r.closeLocked()
		return
	}
	r.written += len(samples)
}

// EndUtterance finalises the open file.
func (r *Recorder) EndUtterance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return
	}
	r.log.Debug("utterance recorded", "samples", r.written)
	r.closeLocked()
}

// closeLocked closes the writer and file. Caller holds r.mu.
func (r *Recorder) closeLocked() {
	if r.writer != nil {
		if err := r.writer.Close(); err != nil {
			r.log.Warn("wav close failed", "err", err)
		}
		r.writer = nil
	}
	r.file = nil
	r.written = 0
}
