// Package mock provides a test double for the capture.Source interface.
//
// Use Source in unit tests to push scripted sample blocks through the
// pipeline without an audio device.
package mock

import (
	"sync"

	"github.com/vokalis/vokalis/pkg/capture"
)

// Source is a mock implementation of capture.Source. Blocks pushed with
// Emit are delivered synchronously to the callback registered via Start.
type Source struct {
	// Rate is returned by SampleRate. Defaults to 48000 when zero.
	Rate int

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	mu      sync.Mutex
	fn      func([]float32)
	started int
	stopped int
}

// SampleRate returns Rate, or 48000 when unset.
func (s *Source) SampleRate() int {
	if s.Rate == 0 {
		return 48000
	}
	return s.Rate
}

// Start registers fn as the block sink.
func (s *Source) Start(fn func(block []float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartErr != nil {
		return s.StartErr
	}
	if s.fn != nil {
		return capture.ErrAlreadyStarted
	}
	s.fn = fn
	s.started++
	return nil
}

// Stop deregisters the sink.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fn != nil {
		s.fn = nil
		s.stopped++
	}
	return nil
}

// Emit delivers one block to the registered callback. Blocks emitted while
// stopped are dropped.
func (s *Source) Emit(block []float32) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		fn(block)
	}
}

// StartCount returns how many times Start succeeded. Thread-safe.
func (s *Source) StartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// StopCount returns how many times Stop stopped a running source.
// Thread-safe.
func (s *Source) StopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Ensure Source implements capture.Source at compile time.
var _ capture.Source = (*Source)(nil)
