// Package gateway provides a dialogue.Provider that forwards exchanges to the
// Vokalis dialogue service over HTTP (POST /agent).
//
// Typical usage:
//
//	p := gateway.New("http://localhost:8080",
//	    gateway.WithTimeout(20*time.Second),
//	)
//	resp, err := p.Exchange(ctx, dialogue.Request{Text: "hello"})
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vokalis/vokalis/pkg/provider/dialogue"
)

// Compile-time interface assertion.
var _ dialogue.Provider = (*Provider)(nil)

const (
	defaultTimeout = 30 * time.Second
	agentEndpoint  = "/agent"
)

// Option is a functional option for configuring a gateway Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client, e.g. to inject a
// transport in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider forwards dialogue exchanges to the remote /agent endpoint.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider targeting the dialogue service at baseURL.
func New(baseURL string, opts ...Option) *Provider {
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type agentRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

type agentResponse struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

// Exchange posts the utterance to the dialogue service and decodes the
// answer.
func (p *Provider) Exchange(ctx context.Context, req dialogue.Request) (*dialogue.Response, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("dialogue: empty utterance text")
	}

	body, err := json.Marshal(agentRequest{Text: req.Text, SessionID: req.SessionID})
	if err != nil {
		return nil, fmt.Errorf("dialogue: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+agentEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("dialogue: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dialogue: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("dialogue: %s returned %d: %s", agentEndpoint, httpResp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded agentResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("dialogue: decode response: %w", err)
	}
	return &dialogue.Response{SessionID: decoded.SessionID, Answer: decoded.Answer}, nil
}
