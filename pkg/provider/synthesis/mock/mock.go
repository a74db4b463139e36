// Package mock provides a test double for the synthesis.Provider interface.
//
// Use Provider in unit tests to verify what the orchestrator speaks and to
// simulate slow or cancellable playback without an audio backend.
package mock

import (
	"context"
	"sync"

	"github.com/vokalis/vokalis/pkg/provider/synthesis"
)

// SpeakCall records a single invocation of Speak.
type SpeakCall struct {
	// Ctx is the context passed to Speak.
	Ctx context.Context
	// Utt is the Utterance passed to Speak.
	Utt synthesis.Utterance
}

// Provider is a mock implementation of synthesis.Provider.
// The zero value returns nil from Speak immediately. Set Err to inject a
// failure, or Block to simulate in-progress playback that reacts to
// cancellation.
type Provider struct {
	mu sync.Mutex

	// Err, if non-nil, is returned as the error from Speak.
	Err error

	// Block, if non-nil, runs after the call is recorded and its return
	// value becomes Speak's result. Use it to hold playback open until ctx
	// is cancelled:
	//
	//	p.Block = func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
	Block func(ctx context.Context) error

	// Calls records every invocation of Speak in order.
	Calls []SpeakCall
}

// Speak records the call, then returns Err or runs Block.
func (p *Provider) Speak(ctx context.Context, utt synthesis.Utterance) error {
	p.mu.Lock()
	p.Calls = append(p.Calls, SpeakCall{Ctx: ctx, Utt: utt})
	err, block := p.Err, p.Block
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if block != nil {
		return block(ctx)
	}
	return nil
}

// CallCount returns the number of recorded Speak calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Spoken returns the texts of all recorded calls in order. Thread-safe.
func (p *Provider) Spoken() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	texts := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		texts[i] = c.Utt.Text
	}
	return texts
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements synthesis.Provider at compile time.
var _ synthesis.Provider = (*Provider)(nil)
