// Package history stores per-conversation chat turns for the dialogue
// service.
//
// A Store keeps the recent exchange history keyed by session id so the
// language model receives conversational context. Both implementations are
// bounded: the in-memory store evicts by session count and age, the
// PostgreSQL store relies on Prune for retention. Every implementation must
// be safe for concurrent use.
package history

import (
	"context"
	"time"
)

// Role values for a Turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of a conversation.
type Turn struct {
	// Role is RoleUser or RoleAssistant.
	Role string

	// Content is the message text.
	Content string

	// At is when the turn was recorded.
	At time.Time
}

// Store is the abstraction over conversation history backends.
type Store interface {
	// Append records one turn at the end of the session's history. A
	// session is created implicitly on first append.
	Append(ctx context.Context, sessionID string, turn Turn) error

	// Recent returns up to limit most recent turns of the session in
	// chronological order. An unknown session yields an empty slice, not an
	// error.
	Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error)

	// Forget removes a session's history. Forgetting an unknown session is
	// a no-op.
	Forget(ctx context.Context, sessionID string) error
}
