// Package portaudio provides a capture.Source backed by the default system
// microphone via PortAudio.
//
// The source opens a mono input stream in blocking mode and pumps fixed-size
// float32 blocks to the registered callback from its own goroutine. PortAudio
// is initialised on first Start and terminated on Stop.
//
// Typical usage:
//
//	src := portaudio.New(48000, portaudio.WithBlockSize(960))
//	err := src.Start(framer.Write)
//	defer src.Stop()
package portaudio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/vokalis/vokalis/pkg/capture"
)

// Compile-time interface assertion.
var _ capture.Source = (*Source)(nil)

// defaultBlockSize is 20 ms at 48 kHz.
const defaultBlockSize = 960

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithBlockSize sets the number of samples per delivered block. Defaults to
// 960 (20 ms at 48 kHz).
func WithBlockSize(n int) Option {
	return func(s *Source) { s.blockSize = n }
}

// Source captures mono audio from the default input device.
type Source struct {
	rate      int
	blockSize int

	mu      sync.Mutex
	stream  *portaudio.Stream
	stopped chan struct{}
	done    chan struct{}
}

// New creates a Source capturing at rate Hz.
func New(rate int, opts ...Option) *Source {
	s := &Source{
		rate:      rate,
		blockSize: defaultBlockSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SampleRate returns the configured capture rate.
func (s *Source) SampleRate() int { return s.rate }

// Start opens the default input stream and begins pumping blocks to fn.
func (s *Source) Start(fn func(block []float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return capture.ErrAlreadyStarted
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}

	buf := make([]float32, s.blockSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(s.rate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("portaudio: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("portaudio: start stream: %w", err)
	}

	s.stream = stream
	s.stopped = make(chan struct{})
	s.done = make(chan struct{})

	go s.pump(stream, buf, fn, s.stopped, s.done)
	return nil
}

// pump reads blocks until the stop signal.
func (s *Source) pump(stream *portaudio.Stream, buf []float32, fn func([]float32), stopped, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stopped:
			return
		default:
		}
		if err := stream.Read(); err != nil {
			// Overflows are routine under load; the next read resynchronises.
			if err == portaudio.InputOverflowed {
				continue
			}
			return
		}
		fn(buf)
	}
}

// Stop halts the capture goroutine and releases the device.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}

	close(s.stopped)
	_ = s.stream.Abort()
	<-s.done

	err := s.stream.Close()
	s.stream = nil
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	if err != nil {
		return fmt.Errorf("portaudio: stop: %w", err)
	}
	return nil
}
