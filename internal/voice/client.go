// Package voice implements the local capture side of the pipeline: the
// websocket client that ships transport frames to the gateway, and the
// pipeline that wires microphone samples through the framer and segmenter
// into that client.
//
// The client decouples the real-time capture path from the network with a
// bounded frame queue: enqueueing never blocks, and when the network falls
// behind the newest frames are dropped rather than stalling the capture
// callback.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Wire constants shared with the gateway relay.
const (
	opFlush = "flush"
	opStop  = "stop"

	eventPartial = "partial"
	eventFinal   = "final"
	eventError   = "error"
)

const (
	defaultQueueDepth    = 64
	defaultFailsafeFlush = 9 * time.Second
	defaultCloseGrace    = 60 * time.Millisecond
)

// ErrClosed is returned when using a client after Close.
var ErrClosed = errors.New("voice: client closed")

// Handlers receives recognition events decoded from the gateway. Nil fields
// are skipped. Handlers run on the client's read goroutine and must not
// block.
type Handlers struct {
	OnPartial func(text string)
	OnFinal   func(text string)
	OnError   func(text string)
}

// ClientConfig holds the transport parameters of a voice client.
type ClientConfig struct {
	// URL is the gateway stream endpoint, e.g. "ws://localhost:8080/asr/stream".
	URL string

	// QueueDepth is the capacity of the outbound frame queue (default 64
	// frames, 1.28 s of audio).
	QueueDepth int

	// FailsafeFlush bounds how long a single utterance may run before a
	// flush is forced (default 9 s).
	FailsafeFlush time.Duration

	// CloseGrace is the pause between the final flush and the stop message
	// during Close (default 60 ms).
	CloseGrace time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.QueueDepth == 0 {
		c.QueueDepth = defaultQueueDepth
	}
	if c.FailsafeFlush == 0 {
		c.FailsafeFlush = defaultFailsafeFlush
	}
	if c.CloseGrace == 0 {
		c.CloseGrace = defaultCloseGrace
	}
	return c
}

// conn is the websocket surface the client needs; *websocket.Conn satisfies
// it and tests substitute fakes.
type conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// outMsg is one queued outbound message.
type outMsg struct {
	typ  websocket.MessageType
	data []byte
}

// Client ships transport frames and control messages to the gateway and
// decodes recognition events coming back.
type Client struct {
	cfg      ClientConfig
	conn     conn
	handlers Handlers
	log      *slog.Logger

	queue   chan outMsg
	dropped atomic.Uint64

	failsafeMu sync.Mutex
	failsafe   *time.Timer

	closeOnce sync.Once
	closed    chan struct{}
	readDone  chan struct{}
	writeDone chan struct{}
}

// Dial connects to the gateway and starts the client's read and write
// goroutines.
func Dial(ctx context.Context, cfg ClientConfig, h Handlers) (*Client, error) {
	c, _, err := websocket.Dial(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("voice: dial %s: %w", cfg.URL, err)
	}
	return newClient(cfg, c, h), nil
}

func newClient(cfg ClientConfig, c conn, h Handlers) *Client {
	cfg = cfg.withDefaults()
	cl := &Client{
		cfg:       cfg,
		conn:      c,
		handlers:  h,
		log:       slog.With("component", "voice"),
		queue:     make(chan outMsg, cfg.QueueDepth),
		closed:    make(chan struct{}),
		readDone:  make(chan struct{}),
		writeDone: make(chan struct{}),
	}
	go cl.writeLoop()
	go cl.readLoop()
	return cl
}

// SendFrame enqueues one 640-byte transport frame. It never blocks: when the
// queue is full the frame is dropped and counted.
func (c *Client) SendFrame(pcm []byte) {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.queue <- outMsg{typ: websocket.MessageBinary, data: pcm}:
	default:
		if n := c.dropped.Add(1); n%50 == 1 {
			c.log.Warn("outbound queue full, dropping frames", "dropped_total", n)
		}
	}
}

// Dropped returns the number of frames dropped because of a full queue.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// SpeechStarted arms the per-utterance failsafe: if no speech end arrives
// within the configured bound, a flush is forced so the backend finalises.
func (c *Client) SpeechStarted() {
	c.failsafeMu.Lock()
	defer c.failsafeMu.Unlock()
	if c.failsafe != nil {
		c.failsafe.Stop()
	}
	c.failsafe = time.AfterFunc(c.cfg.FailsafeFlush, func() {
		c.log.Warn("utterance exceeded failsafe bound, forcing flush")
		c.Flush()
	})
}

// SpeechEnded disarms the failsafe and sends a flush so the backend
// finalises the utterance promptly.
func (c *Client) SpeechEnded() {
	c.failsafeMu.Lock()
	if c.failsafe != nil {
		c.failsafe.Stop()
		c.failsafe = nil
	}
	c.failsafeMu.Unlock()
	c.Flush()
}

// Flush enqueues a flush control message. Duplicate flushes are harmless;
// the backend treats finalizing an already-final utterance as a no-op.
func (c *Client) Flush() {
	c.enqueueControl(opFlush)
}

func (c *Client) enqueueControl(op string) {
	select {
	case <-c.closed:
		return
	default:
	}
	payload, _ := json.Marshal(struct {
		Op string `json:"op"`
	}{Op: op})
	select {
	case c.queue <- outMsg{typ: websocket.MessageText, data: payload}:
	default:
		c.log.Warn("outbound queue full, control message dropped", "op", op)
	}
}

// Close tears the connection down in order: flush, grace delay, stop, then
// the websocket close. It is idempotent.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.failsafeMu.Lock()
		if c.failsafe != nil {
			c.failsafe.Stop()
			c.failsafe = nil
		}
		c.failsafeMu.Unlock()

		flush, _ := json.Marshal(struct {
			Op string `json:"op"`
		}{Op: opFlush})
		stop, _ := json.Marshal(struct {
			Op string `json:"op"`
		}{Op: opStop})

		// Stop accepting new traffic, let the write loop drain what is
		// queued, then send the teardown sequence directly.
		close(c.closed)
		<-c.writeDone

		if err := c.conn.Write(ctx, websocket.MessageText, flush); err == nil {
			select {
			case <-time.After(c.cfg.CloseGrace):
			case <-ctx.Done():
			}
			_ = c.conn.Write(ctx, websocket.MessageText, stop)
		}
		_ = c.conn.Close(websocket.StatusNormalClosure, "client_stop")
		<-c.readDone
	})
	return nil
}

// writeLoop drains the outbound queue onto the websocket.
func (c *Client) writeLoop() {
	defer close(c.writeDone)
	ctx := context.Background()
	for {
		select {
		case <-c.closed:
			// Drain what was queued before the close.
			for {
				select {
				case msg := <-c.queue:
					if err := c.conn.Write(ctx, msg.typ, msg.data); err != nil {
						return
					}
				default:
					return
				}
			}
		case msg := <-c.queue:
			if err := c.conn.Write(ctx, msg.typ, msg.data); err != nil {
				select {
				case <-c.closed:
				default:
					c.log.Warn("write failed", "err", err)
				}
				return
			}
		}
	}
}

// readLoop decodes recognition events. Malformed payloads are dropped
// silently per the wire contract.
func (c *Client) readLoop() {
	defer close(c.readDone)
	ctx := context.Background()
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Warn("connection lost", "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var ev struct {
			Event string `json:"event"`
			Text  string `json:"text"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		switch ev.Event {
		case eventPartial:
			if c.handlers.OnPartial != nil {
				c.handlers.OnPartial(ev.Text)
			}
		case eventFinal:
			if c.handlers.OnFinal != nil {
				c.handlers.OnFinal(ev.Text)
			}
		case eventError:
			if c.handlers.OnError != nil {
				c.handlers.OnError(ev.Text)
			}
		}
	}
}
