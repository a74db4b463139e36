// Package mock provides a test double for the dialogue.Provider interface.
//
// Use Provider in unit tests to verify the exchanges the orchestrator sends
// and to feed controlled answers without a live dialogue service.
package mock

import (
	"context"
	"sync"

	"github.com/vokalis/vokalis/pkg/provider/dialogue"
)

// ExchangeCall records a single invocation of Exchange.
type ExchangeCall struct {
	// Ctx is the context passed to Exchange.
	Ctx context.Context
	// Req is the Request passed to Exchange.
	Req dialogue.Request
}

// Provider is a mock implementation of dialogue.Provider.
// Zero values cause Exchange to return nil, nil. Set Err to inject a failure.
type Provider struct {
	mu sync.Mutex

	// Response is returned by Exchange. May be nil.
	Response *dialogue.Response

	// Err, if non-nil, is returned as the error from Exchange.
	Err error

	// Delay, if set, blocks Exchange until it elapses or ctx is cancelled.
	Delay func(ctx context.Context) error

	// Calls records every invocation of Exchange in order.
	Calls []ExchangeCall
}

// Exchange records the call and returns Response, Err. When Delay is set it
// runs first and its error short-circuits the exchange.
func (p *Provider) Exchange(ctx context.Context, req dialogue.Request) (*dialogue.Response, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, ExchangeCall{Ctx: ctx, Req: req})
	resp, err, delay := p.Response, p.Err, p.Delay
	p.mu.Unlock()

	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return nil, derr
		}
	}
	return resp, err
}

// CallCount returns the number of recorded Exchange calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements dialogue.Provider at compile time.
var _ dialogue.Provider = (*Provider)(nil)
