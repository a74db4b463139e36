// Package synthesis defines the Provider interface for speech synthesis
// collaborators.
//
// A synthesis provider turns an utterance into audible playback. Vokalis only
// depends on the contract: Speak accepts the utterance text plus a locale,
// blocks while synthesized speech plays, and cancels with bounded latency
// when the supplied context is cancelled — the turn orchestrator relies on
// prompt cancellation to realise barge-in.
//
// Implementations must be safe for concurrent use; at most one Speak per
// conversation is in flight, but separate conversations may speak in
// parallel.
package synthesis

import "context"

// Utterance is one piece of text to synthesise.
type Utterance struct {
	// Text is the utterance content. Must be non-empty.
	Text string

	// Locale is the BCP-47 language tag for voice selection, e.g. "en".
	// Empty means the provider default.
	Locale string
}

// Provider is the abstraction over any speech synthesis backend.
//
// Speak blocks until playback completes, the provider fails, or ctx is
// cancelled. On cancellation the implementation must stop emitting audio
// quickly (tens of milliseconds, not the remaining utterance length) and
// return ctx's error.
type Provider interface {
	Speak(ctx context.Context, utt Utterance) error
}
