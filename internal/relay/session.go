// Package relay implements the per-connection audio relay between a local
// client and the remote recognition backend.
//
// Each client websocket is paired 1:1 with one upstream websocket. Client
// audio arriving before the upstream connection is ready is held in a
// byte-capped prebuffer and replayed, in arrival order, right after the start
// handshake. Once streaming, traffic is forwarded immediately in both
// directions, preserving per-direction arrival order. An idle timer sends a
// single flush per silence window so the backend finalises a pending
// utterance after a microphone dropout, and a heartbeat pings both sides to
// surface half-open connections.
//
// Sessions are fully isolated: each owns its prebuffer and timers, and no
// state is shared across sessions beyond process-wide configuration.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vokalis/vokalis/internal/observe"
	"go.opentelemetry.io/otel/metric"
)

// State is the lifecycle state of a relay session.
type State int

const (
	// StateConnecting: client accepted, upstream dial in flight, no client
	// data seen yet.
	StateConnecting State = iota

	// StateBuffering: client frames arriving while upstream is not ready.
	StateBuffering

	// StateStreaming: handshake sent and prebuffer drained; traffic is
	// forwarded directly in both directions.
	StateStreaming

	// StateDraining: close requested, final flush in flight.
	StateDraining

	// StateClosed is terminal.
	StateClosed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateBuffering:
		return "buffering"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	default:
		return "closed"
	}
}

// ErrConnectTimeout is returned (wrapped) when the upstream connection cannot
// be established within the configured timeout.
var ErrConnectTimeout = errors.New("upstream connect timeout")

// Conn is the subset of websocket operations a session needs from either
// side. *websocket.Conn satisfies it; tests substitute fakes.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// Config holds per-session relay parameters. Zero fields take the package
// defaults.
type Config struct {
	// PrebufferCap is the byte cap of the prebuffer (default 64 KiB, about
	// two seconds of transport audio).
	PrebufferCap int

	// SilenceFlush is the idle window after the last client frame before one
	// flush is sent upstream (default 1 s).
	SilenceFlush time.Duration

	// Heartbeat is the ping interval for both connections (default 30 s).
	Heartbeat time.Duration

	// CloseGrace is the pause between the final flush and the stop message
	// during a client-initiated close (default 40 ms).
	CloseGrace time.Duration

	// Language is the recognition language sent in the handshake.
	Language string

	// VAD carries the backend VAD parameters sent in the handshake.
	VAD VADParams
}

const (
	defaultPrebufferCap = 64 << 10
	defaultSilenceFlush = time.Second
	defaultHeartbeat    = 30 * time.Second
	defaultCloseGrace   = 40 * time.Millisecond
	defaultLanguage     = "en"
)

// withDefaults returns cfg with zero fields replaced by package defaults.
func (c Config) withDefaults() Config {
	if c.PrebufferCap == 0 {
		c.PrebufferCap = defaultPrebufferCap
	}
	if c.SilenceFlush == 0 {
		c.SilenceFlush = defaultSilenceFlush
	}
	if c.Heartbeat == 0 {
		c.Heartbeat = defaultHeartbeat
	}
	if c.CloseGrace == 0 {
		c.CloseGrace = defaultCloseGrace
	}
	if c.Language == "" {
		c.Language = defaultLanguage
	}
	if c.VAD == (VADParams{}) {
		c.VAD = VADParams{Aggressiveness: 1, PreRollMs: 240, SilenceMs: 400}
	}
	return c
}

// Session relays one client connection to one upstream connection.
type Session struct {
	id      uint64
	cfg     Config
	client  Conn
	dial    func(ctx context.Context) (Conn, error)
	metrics *observe.Metrics
	log     *slog.Logger

	mu       sync.Mutex
	state    State
	upstream Conn
	prebuf   *Prebuffer
	idle     *time.Timer

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewSession creates a session for an accepted client connection. dial is
// invoked once from Run to establish the upstream connection; id is the
// monotonic request identifier used for log correlation.
func NewSession(id uint64, client Conn, dial func(ctx context.Context) (Conn, error), cfg Config, m *observe.Metrics) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		id:      id,
		cfg:     cfg,
		client:  client,
		dial:    dial,
		metrics: m,
		log:     slog.With("req", id),
		prebuf:  NewPrebuffer(cfg.PrebufferCap),
		state:   StateConnecting,
		done:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the session until either side closes. It dials upstream, pumps
// client messages, and blocks until teardown completes.
func (s *Session) Run(ctx context.Context) error {
	s.log.Info("relay session open")
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, 1)
		defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}

	s.wg.Add(2)
	go s.connectUpstream(ctx)
	go s.heartbeatLoop(ctx)

	s.clientLoop(ctx)
	s.wg.Wait()
	s.log.Info("relay session closed")
	return nil
}

// connectUpstream dials the recognition backend, sends the start handshake,
// drains the prebuffer in arrival order, and transitions to streaming.
func (s *Session) connectUpstream(ctx context.Context) {
	defer s.wg.Done()

	up, err := s.dial(ctx)
	if err != nil {
		s.log.Error("upstream dial failed", "err", err)
		if s.metrics != nil {
			s.metrics.RelayErrors.Add(ctx, 1, metric.WithAttributes(observe.Attr("side", "upstream")))
		}
		s.shutdownFromUpstream(websocket.StatusInternalError, "asr_error")
		return
	}

	s.mu.Lock()
	if s.state == StateDraining || s.state == StateClosed {
		s.mu.Unlock()
		_ = up.Close(websocket.StatusNormalClosure, "session closed")
		return
	}
	s.upstream = up

	// Handshake precedes everything, then the prebuffer replays in original
	// arrival order before any live traffic — both under the session lock so
	// no concurrently arriving frame can interleave.
	start := StartMessage{
		Op:         OpStart,
		Format:     "pcm16le",
		SampleRate: 16000,
		Language:   s.cfg.Language,
		VAD:        s.cfg.VAD,
	}
	payload, _ := json.Marshal(start)
	if err := up.Write(ctx, websocket.MessageText, payload); err != nil {
		s.mu.Unlock()
		s.log.Error("handshake write failed", "err", err)
		s.shutdownFromUpstream(websocket.StatusInternalError, "asr_error")
		return
	}

	buffered := s.prebuf.Drain()
	for _, msg := range buffered {
		if err := up.Write(ctx, msg.typ, msg.data); err != nil {
			s.mu.Unlock()
			s.log.Error("prebuffer drain failed", "err", err)
			s.shutdownFromUpstream(websocket.StatusInternalError, "asr_error")
			return
		}
	}
	s.state = StateStreaming
	s.mu.Unlock()

	s.log.Debug("upstream streaming", "drained_msgs", len(buffered))

	s.wg.Add(1)
	go s.upstreamLoop(ctx)
}

// clientLoop pumps client messages until the client side terminates.
func (s *Session) clientLoop(ctx context.Context) {
	for {
		typ, data, err := s.client.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 || errors.Is(err, context.Canceled) {
				// Clean close: give the backend a chance to finalise the last
				// utterance before teardown.
				s.shutdownFromClient(true)
			} else {
				s.log.Warn("client read error", "err", err)
				if s.metrics != nil {
					s.metrics.RelayErrors.Add(ctx, 1, metric.WithAttributes(observe.Attr("side", "client")))
				}
				s.shutdownFromClient(false)
			}
			return
		}
		s.handleClientMessage(ctx, typ, data)
	}
}

// handleClientMessage buffers or forwards one inbound client message.
func (s *Session) handleClientMessage(ctx context.Context, typ websocket.MessageType, data []byte) {
	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateBuffering:
		s.state = StateBuffering
		evicted := s.prebuf.Push(typ, data)
		if s.metrics != nil {
			s.metrics.PrebufferedBytes.Add(ctx, int64(len(data)))
			if evicted > 0 {
				s.metrics.PrebufferEvictions.Add(ctx, int64(evicted))
			}
		}
		if evicted > 0 {
			s.log.Warn("prebuffer over capacity, oldest audio dropped", "evicted_bytes", evicted)
		}
	case StateStreaming:
		if err := s.upstream.Write(ctx, typ, data); err != nil {
			s.mu.Unlock()
			s.log.Error("forward to upstream failed", "err", err)
			s.shutdownFromUpstream(websocket.StatusInternalError, "asr_error")
			return
		}
		if typ == websocket.MessageBinary && s.metrics != nil {
			s.metrics.FramesForwarded.Add(ctx, 1, metric.WithAttributes(observe.Attr("direction", "upstream")))
		}
	default:
		// Draining or closed: drop.
	}
	s.mu.Unlock()

	if typ == websocket.MessageBinary {
		s.resetIdleTimer(ctx)
	}
}

// resetIdleTimer re-arms the silence window. When it fires, exactly one flush
// is sent for that window; the next inbound frame arms a new window.
func (s *Session) resetIdleTimer(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDraining || s.state == StateClosed {
		return
	}
	if s.idle == nil {
		s.idle = time.AfterFunc(s.cfg.SilenceFlush, func() { s.idleFlush(ctx) })
		return
	}
	s.idle.Reset(s.cfg.SilenceFlush)
}

// idleFlush sends one flush upstream after a full silence window with no
// client audio. Duplicate finalize signals are tolerated by the backend
// contract, so a racing client-side flush is harmless.
func (s *Session) idleFlush(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming || s.upstream == nil {
		return
	}
	if err := s.upstream.Write(ctx, websocket.MessageText, encodeControl(OpFlush)); err != nil {
		s.log.Warn("idle flush failed", "err", err)
		return
	}
	if s.metrics != nil {
		s.metrics.FlushesSent.Add(ctx, 1, metric.WithAttributes(observe.Attr("reason", "idle")))
	}
	s.log.Debug("idle flush sent")
}

// upstreamLoop forwards backend messages (recognition events) to the client.
func (s *Session) upstreamLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		typ, data, err := s.upstream.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			status := websocket.CloseStatus(err)
			if status == -1 {
				s.log.Warn("upstream read error", "err", err)
				if s.metrics != nil {
					s.metrics.RelayErrors.Add(ctx, 1, metric.WithAttributes(observe.Attr("side", "upstream")))
				}
				status = websocket.StatusInternalError
			}
			s.shutdownFromUpstream(status, "asr_closed")
			return
		}
		if err := s.client.Write(ctx, typ, data); err != nil {
			s.log.Error("forward to client failed", "err", err)
			s.shutdownFromClient(false)
			return
		}
		if s.metrics != nil {
			s.metrics.FramesForwarded.Add(ctx, 1, metric.WithAttributes(observe.Attr("direction", "client")))
		}
	}
}

// heartbeatLoop periodically pings both connections so half-open links are
// detected and reported.
func (s *Session) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.client.Ping(ctx); err != nil {
				s.log.Warn("client heartbeat failed", "err", err)
				s.shutdownFromClient(false)
				return
			}
			s.mu.Lock()
			up := s.upstream
			s.mu.Unlock()
			if up != nil {
				if err := up.Ping(ctx); err != nil {
					s.log.Warn("upstream heartbeat failed", "err", err)
					s.shutdownFromUpstream(websocket.StatusInternalError, "asr_error")
					return
				}
			}
		}
	}
}

// shutdownFromClient tears the session down after the client side ended.
// When clean, the backend first receives a flush, then after a short grace
// delay a stop, so the last utterance can be finalised. Repeated shutdown
// calls are no-ops.
func (s *Session) shutdownFromClient(clean bool) {
	s.closeOnce.Do(func() {
		s.beginTeardown()

		s.mu.Lock()
		up := s.upstream
		s.mu.Unlock()

		if up != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if clean {
				if err := up.Write(ctx, websocket.MessageText, encodeControl(OpFlush)); err == nil {
					if s.metrics != nil {
						s.metrics.FlushesSent.Add(ctx, 1, metric.WithAttributes(observe.Attr("reason", "close")))
					}
					time.Sleep(s.cfg.CloseGrace)
					_ = up.Write(ctx, websocket.MessageText, encodeControl(OpStop))
				}
				_ = up.Close(websocket.StatusNormalClosure, "client_stop")
			} else {
				_ = up.Close(websocket.StatusInternalError, "client_error")
			}
		}
		_ = s.client.Close(websocket.StatusNormalClosure, "")
		s.finishTeardown()
	})
}

// shutdownFromUpstream tears the session down after the upstream side ended,
// propagating a corresponding status to the client. Repeated calls are
// no-ops.
func (s *Session) shutdownFromUpstream(status websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.beginTeardown()

		s.mu.Lock()
		up := s.upstream
		s.mu.Unlock()
		if up != nil {
			_ = up.Close(websocket.StatusNormalClosure, "")
		}
		_ = s.client.Close(status, reason)
		s.finishTeardown()
	})
}

// beginTeardown flips the state to draining and cancels the idle timer.
func (s *Session) beginTeardown() {
	s.mu.Lock()
	s.state = StateDraining
	if s.idle != nil {
		s.idle.Stop()
	}
	s.mu.Unlock()
	close(s.done)
}

// finishTeardown marks the session closed.
func (s *Session) finishTeardown() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}
