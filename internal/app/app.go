// Package app wires the Vokalis gateway subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithCompleter, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/vokalis/vokalis/internal/agent"
	"github.com/vokalis/vokalis/internal/config"
	"github.com/vokalis/vokalis/internal/health"
	"github.com/vokalis/vokalis/internal/history"
	"github.com/vokalis/vokalis/internal/observe"
	"github.com/vokalis/vokalis/internal/relay"
)

// shutdownTimeout bounds the HTTP server drain when Run's context ends.
const shutdownTimeout = 10 * time.Second

// App owns all gateway subsystems: the audio relay, the dialogue service,
// the history store and the HTTP server that fronts them.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	store     history.Store
	completer agent.Completer
	service   *agent.Service
	relay     *relay.Server
	srv       *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of creating one from
// config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCompleter injects a chat completer instead of creating one from
// config.
func WithCompleter(c agent.Completer) Option {
	return func(a *App) { a.completer = c }
}

// WithMetrics injects a metrics set instead of creating one from the global
// meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. Construction is
// synchronous: the history store is connected (and migrated, for
// PostgreSQL), the dialogue service is assembled, and the HTTP routes are
// registered. Nothing listens until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		m, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("app: init metrics: %w", err)
		}
		a.metrics = m
	}

	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	if err := a.initDialogue(); err != nil {
		return nil, fmt.Errorf("app: init dialogue: %w", err)
	}
	a.initRelay()
	a.initHTTP()

	return a, nil
}

// initHistory sets up the conversation history store. A configured
// PostgreSQL DSN wins; otherwise the bounded in-memory store is used.
func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	if dsn := a.cfg.History.PostgresDSN; dsn != "" {
		store, err := history.NewPostgresStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		slog.Info("history store connected", "backend", "postgres")
		return nil
	}

	var memOpts []history.MemStoreOption
	if n := a.cfg.History.MaxSessions; n > 0 {
		memOpts = append(memOpts, history.WithMaxSessions(n))
	}
	if m := a.cfg.History.MaxAgeMinutes; m > 0 {
		memOpts = append(memOpts, history.WithMaxSessionAge(time.Duration(m)*time.Minute))
	}
	a.store = history.NewMemStore(memOpts...)
	slog.Info("history store connected", "backend", "memory")
	return nil
}

// initDialogue assembles the dialogue service. Without a configured model
// the service still runs and answers with the echo fallback.
func (a *App) initDialogue() error {
	if a.completer == nil && a.cfg.Dialogue.Model != "" {
		c, err := agent.NewOpenAICompleter(agent.CompleterConfig{
			APIKey:       a.cfg.Dialogue.APIKey,
			Model:        a.cfg.Dialogue.Model,
			BaseURL:      a.cfg.Dialogue.BaseURL,
			SystemPrompt: a.cfg.Dialogue.SystemPrompt,
			Timeout:      time.Duration(a.cfg.Dialogue.TimeoutS) * time.Second,
		})
		if err != nil {
			return err
		}
		a.completer = c
		slog.Info("dialogue model configured", "model", a.cfg.Dialogue.Model)
	}

	var svcOpts []agent.Option
	if a.completer != nil {
		svcOpts = append(svcOpts, agent.WithCompleter(a.completer))
	}
	if n := a.cfg.Dialogue.MemTurns; n > 0 {
		svcOpts = append(svcOpts, agent.WithMemTurns(n))
	}
	if p := a.cfg.Dialogue.SystemPrompt; p != "" {
		svcOpts = append(svcOpts, agent.WithSystemPrompt(p))
	}
	a.service = agent.NewService(a.store, svcOpts...)
	return nil
}

// initRelay creates the websocket relay endpoint from the relay config.
func (a *App) initRelay() {
	rc := a.cfg.Relay
	a.relay = relay.NewServer(relay.ServerConfig{
		UpstreamURL:    rc.UpstreamURL,
		ConnectTimeout: time.Duration(rc.ConnectTimeoutS) * time.Second,
		Session: relay.Config{
			PrebufferCap: rc.PrebufferCapBytes,
			SilenceFlush: time.Duration(rc.SilenceFlushMs) * time.Millisecond,
			Heartbeat:    time.Duration(rc.HeartbeatS) * time.Second,
			CloseGrace:   time.Duration(rc.CloseGraceMs) * time.Millisecond,
			Language:     rc.Language,
			VAD: relay.VADParams{
				Aggressiveness: rc.Aggressiveness,
				PreRollMs:      rc.PreRollMs,
				SilenceMs:      rc.BackendSilenceMs,
			},
		},
	}, a.metrics)
}

// initHTTP registers all routes and builds the server.
func (a *App) initHTTP() {
	checkers := []health.Checker{
		health.EndpointCheck("asr_backend", a.cfg.Relay.UpstreamURL),
	}
	if url := a.cfg.Dialogue.BaseURL; url != "" {
		checkers = append(checkers, health.EndpointCheck("dialogue_model", url))
	}

	mux := http.NewServeMux()
	mux.Handle("/asr/stream", a.relay)
	mux.Handle("/agent", a.service.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)

	a.srv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.instrument(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler returns the gateway's full HTTP handler. Exposed for tests.
func (a *App) Handler() http.Handler {
	return a.srv.Handler
}

// instrument records per-request latency. It deliberately does not wrap the
// ResponseWriter so the relay endpoint can still hijack the connection for
// its websocket upgrade.
func (a *App) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.metrics.HTTPRequestDuration.Record(r.Context(), time.Since(start).Seconds(),
			metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", r.URL.Path),
			))
	})
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests
// within shutdownTimeout and returns.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("gateway listening", "addr", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.srv.Shutdown(drainCtx)
	})

	return g.Wait()
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, the rest are skipped
// and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
