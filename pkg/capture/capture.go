// Package capture defines the Source interface for microphone audio input.
//
// A capture source delivers contiguous blocks of raw samples at the device's
// native rate. Blocks are ephemeral: they are owned by the capture callback
// for the duration of the call and may be reused afterwards, so consumers
// must copy anything they keep.
package capture

import "errors"

// ErrAlreadyStarted is returned by Start when the source is already running.
var ErrAlreadyStarted = errors.New("capture: already started")

// Source is the abstraction over a microphone input device.
//
// Start begins delivering sample blocks to fn from a dedicated capture
// goroutine; fn runs on the real-time path and must not block. Stop halts
// delivery and releases the device; after Stop the source may be started
// again.
type Source interface {
	// SampleRate returns the device capture rate in Hz.
	SampleRate() int

	// Start begins capture. fn is invoked with each captured block until
	// Stop is called. Returns ErrAlreadyStarted if capture is running.
	Start(fn func(block []float32)) error

	// Stop halts capture and releases the device. Stopping a stopped source
	// is a no-op.
	Stop() error
}
