// Package wyoming provides a synthesis.Provider backed by a Wyoming Piper
// instance exposed over a websocket proxy.
//
// The proxy speaks a small framing of the Wyoming event protocol: the client
// sends one "synthesize" event as a text message, then receives an
// "audio-start" event, a sequence of binary PCM chunks, and a final
// "audio-stop" event. Each connection carries exactly one synthesis request.
//
// Typical usage:
//
//	p := wyoming.New("ws://piper:10200",
//	    wyoming.WithSink(func(pcm []byte) { player.Write(pcm) }),
//	)
//	err := p.Speak(ctx, synthesis.Utterance{Text: "Hello.", Locale: "en"})
package wyoming

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/vokalis/vokalis/pkg/provider/synthesis"
)

// Compile-time interface assertion.
var _ synthesis.Provider = (*Provider)(nil)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultLocale         = "en"

	eventSynthesize = "synthesize"
	eventAudioStart = "audio-start"
	eventAudioStop  = "audio-stop"
	eventError      = "error"
)

// Option is a functional option for configuring a wyoming Provider.
type Option func(*Provider)

// WithConnectTimeout bounds the websocket dial. Defaults to 5 s.
func WithConnectTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.connectTimeout = d
	}
}

// WithSink sets the callback receiving synthesized PCM chunks in stream
// order. Without a sink the audio is read and discarded, which is still
// useful for latency testing.
func WithSink(fn func(pcm []byte)) Option {
	return func(p *Provider) {
		p.sink = fn
	}
}

// Provider synthesises speech through a Wyoming Piper websocket proxy.
type Provider struct {
	url            string
	connectTimeout time.Duration
	sink           func([]byte)
}

// New creates a Provider targeting the proxy at url, e.g. "ws://piper:10200".
func New(url string, opts ...Option) *Provider {
	p := &Provider{
		url:            url,
		connectTimeout: defaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// event is the JSON envelope of Wyoming control messages.
type event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type synthesizeData struct {
	Text  string `json:"text"`
	Voice struct {
		Language string `json:"language"`
	} `json:"voice"`
}

type errorData struct {
	Text string `json:"text"`
}

// Speak synthesises utt and streams the resulting PCM to the sink. It
// returns once the proxy signals audio-stop, the proxy reports an error, or
// ctx is cancelled. Cancellation closes the connection, which unblocks the
// read immediately.
func (p *Provider) Speak(ctx context.Context, utt synthesis.Utterance) error {
	if utt.Text == "" {
		return fmt.Errorf("wyoming: empty utterance text")
	}
	locale := utt.Locale
	if locale == "" {
		locale = defaultLocale
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, p.url, nil)
	if err != nil {
		return fmt.Errorf("wyoming: dial %s: %w", p.url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var data synthesizeData
	data.Text = utt.Text
	data.Voice.Language = locale
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("wyoming: encode synthesize: %w", err)
	}
	payload, _ := json.Marshal(event{Type: eventSynthesize, Data: raw})
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("wyoming: send synthesize: %w", err)
	}

	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wyoming: read: %w", err)
		}

		if typ == websocket.MessageBinary {
			if p.sink != nil {
				p.sink(msg)
			}
			continue
		}

		var ev event
		if err := json.Unmarshal(msg, &ev); err != nil {
			// Malformed control messages are dropped.
			continue
		}
		switch ev.Type {
		case eventAudioStart:
			// Audio chunks follow.
		case eventAudioStop:
			return nil
		case eventError:
			var ed errorData
			_ = json.Unmarshal(ev.Data, &ed)
			return fmt.Errorf("wyoming: backend error: %s", ed.Text)
		}
	}
}
