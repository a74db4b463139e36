// Package dialogue defines the Provider interface for conversational
// collaborators.
//
// A dialogue provider receives the final transcript of a user utterance and
// produces the agent's textual answer. The contract deliberately hides how
// the answer is produced: the gateway implementation forwards the exchange to
// the Vokalis dialogue service over HTTP, while other implementations may
// call a model directly.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package dialogue

import "context"

// Request carries one user utterance to the collaborator.
type Request struct {
	// Text is the final transcript of the utterance. Must be non-empty.
	Text string

	// SessionID ties the exchange to a conversation. Empty means "start a
	// new conversation"; the provider assigns and returns a fresh id.
	SessionID string
}

// Response is the collaborator's answer to one Request.
type Response struct {
	// SessionID identifies the conversation the exchange belongs to. When
	// the request carried no session id, this is the newly assigned one.
	SessionID string

	// Answer is the agent's reply text.
	Answer string
}

// Provider is the abstraction over any dialogue collaborator.
//
// Exchange must honour ctx: when ctx is cancelled or its deadline passes, the
// call returns promptly with ctx's error. A failed exchange returns a nil
// Response with a non-nil error; callers decide whether to substitute a
// fallback answer.
type Provider interface {
	Exchange(ctx context.Context, req Request) (*Response, error)
}
