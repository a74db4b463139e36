package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/vokalis/vokalis/internal/observe"
)

const defaultConnectTimeout = 8 * time.Second

// ServerConfig configures the relay endpoint.
type ServerConfig struct {
	// UpstreamURL is the websocket address of the recognition backend, e.g.
	// "ws://127.0.0.1:9090/stream".
	UpstreamURL string

	// ConnectTimeout bounds the upstream dial (default 8 s).
	ConnectTimeout time.Duration

	// Session holds the per-session relay parameters.
	Session Config
}

// Server accepts client websocket connections and relays each one to the
// recognition backend through its own Session.
type Server struct {
	cfg     ServerConfig
	metrics *observe.Metrics
	nextID  atomic.Uint64
}

// NewServer creates a relay server. metrics may be nil.
func NewServer(cfg ServerConfig, m *observe.Metrics) *Server {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	return &Server{cfg: cfg, metrics: m}
}

// ServeHTTP upgrades the request to a websocket and runs the relay session
// until either side closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	client, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Audio frames are fixed-size PCM; permessage-deflate only burns CPU.
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	client.SetReadLimit(1 << 20)

	id := s.nextID.Add(1)
	sess := NewSession(id, client, s.dialUpstream, s.cfg.Session, s.metrics)
	_ = sess.Run(r.Context())
}

// dialUpstream connects to the recognition backend within the configured
// timeout.
func (s *Server) dialUpstream(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.cfg.UpstreamURL, nil)
	if err != nil {
		if dialCtx.Err() != nil {
			return nil, fmt.Errorf("dial %s: %w", s.cfg.UpstreamURL, ErrConnectTimeout)
		}
		return nil, fmt.Errorf("dial %s: %w", s.cfg.UpstreamURL, err)
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}
