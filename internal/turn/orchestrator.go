// Package turn drives the conversation state of one user session.
//
// The orchestrator owns the turn state machine (idle, user speaking, agent
// thinking, agent speaking) and the collaborator calls attached to its
// transitions: final transcripts are dispatched to the dialogue provider and
// answers are rendered through the synthesis provider. Barge-in — the user
// starting to speak while the agent still talks — cancels playback with
// bounded latency and clears the segmenter's suppression flag so the new
// utterance is detected at normal thresholds.
//
// At most one turn is in flight per orchestrator. All entry points are safe
// for concurrent use.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vokalis/vokalis/internal/observe"
	"github.com/vokalis/vokalis/pkg/provider/dialogue"
	"github.com/vokalis/vokalis/pkg/provider/synthesis"
)

// State is the conversation turn state.
type State int

const (
	// StateIdle: no user speech and no agent activity.
	StateIdle State = iota

	// StateUserSpeaking: capture is live and the user is being transcribed.
	StateUserSpeaking

	// StateAgentThinking: a final transcript was dispatched to the dialogue
	// collaborator and the answer is pending.
	StateAgentThinking

	// StateAgentSpeaking: the answer is being rendered as audio.
	StateAgentSpeaking
)

// String returns the snake_case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUserSpeaking:
		return "user_speaking"
	case StateAgentThinking:
		return "agent_thinking"
	default:
		return "agent_speaking"
	}
}

// Suppressor raises the voice detector's thresholds while synthesized speech
// plays. *vad.Segmenter satisfies it.
type Suppressor interface {
	SetSuppressed(bool)
}

// Capture pauses and resumes the local audio capture path. *audio.Framer
// satisfies it.
type Capture interface {
	Pause()
	Resume()
}

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithSuppressor wires the voice detector whose suppression flag follows
// agent playback.
func WithSuppressor(s Suppressor) Option {
	return func(o *Orchestrator) { o.suppressor = s }
}

// WithCapture wires the capture path controlled by StartListening and
// StopAll.
func WithCapture(c Capture) Option {
	return func(o *Orchestrator) { o.capture = c }
}

// WithLocale sets the locale tag passed to the synthesis provider.
// Defaults to "en".
func WithLocale(locale string) Option {
	return func(o *Orchestrator) { o.locale = locale }
}

// WithMetrics wires the observability instruments. Without it nothing is
// recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// Orchestrator drives one user session's conversation turns.
type Orchestrator struct {
	dialogue   dialogue.Provider
	synth      synthesis.Provider
	suppressor Suppressor
	capture    Capture
	metrics    *observe.Metrics
	log        *slog.Logger
	locale     string

	mu         sync.Mutex
	state      State
	sessionID  string
	generation uint64
	turnCancel context.CancelFunc
	turnDone   chan struct{}
}

// New creates an idle orchestrator using the given collaborators.
func New(d dialogue.Provider, s synthesis.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		dialogue: d,
		synth:    s,
		locale:   "en",
		log:      slog.Default(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current turn state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SessionID returns the dialogue session id of the current conversation, or
// "" before the first exchange.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// StartListening moves the session into user_speaking. Any in-flight answer
// turn is cancelled first: while the agent speaks this is the barge-in path,
// and playback stops before capture resumes. The suppression flag is always
// cleared.
func (o *Orchestrator) StartListening(ctx context.Context) {
	o.mu.Lock()
	bargeIn := o.state == StateAgentSpeaking
	cancel, done := o.takeTurnLocked()
	o.state = StateUserSpeaking
	o.mu.Unlock()

	o.cancelAndWait(cancel, done)
	if bargeIn {
		o.log.Info("barge-in, playback cancelled")
		if o.metrics != nil {
			o.metrics.BargeIns.Add(ctx, 1)
		}
	}
	if o.suppressor != nil {
		o.suppressor.SetSuppressed(false)
	}
	if o.capture != nil {
		o.capture.Resume()
	}
	o.log.Debug("listening started")
}

// HandleFinal consumes a final transcript from the recognition backend.
// Empty text and transcripts arriving outside user_speaking are ignored.
func (o *Orchestrator) HandleFinal(ctx context.Context, text string) {
	if text == "" {
		return
	}
	o.mu.Lock()
	if o.state != StateUserSpeaking {
		o.mu.Unlock()
		o.log.Debug("final transcript ignored", "state", o.state.String())
		return
	}
	o.beginTurnLocked(ctx, text)
	o.mu.Unlock()
}

// SubmitText dispatches a typed utterance directly, skipping the
// user_speaking phase. Any in-flight answer turn is cancelled first.
func (o *Orchestrator) SubmitText(ctx context.Context, text string) error {
	if text == "" {
		return fmt.Errorf("turn: empty text submission")
	}
	o.mu.Lock()
	cancel, done := o.takeTurnLocked()
	o.mu.Unlock()
	o.cancelAndWait(cancel, done)

	o.mu.Lock()
	o.beginTurnLocked(ctx, text)
	o.mu.Unlock()
	return nil
}

// StopAll cancels any in-flight playback and pauses capture. It returns only
// after the running turn has fully stopped.
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	cancel, done := o.takeTurnLocked()
	o.state = StateIdle
	o.mu.Unlock()

	o.cancelAndWait(cancel, done)
	if o.suppressor != nil {
		o.suppressor.SetSuppressed(false)
	}
	if o.capture != nil {
		o.capture.Pause()
	}
	o.log.Debug("stopped")
}

// takeTurnLocked detaches the current turn's cancel handle and bumps the
// generation so the detached turn can no longer change state. Caller holds
// o.mu.
func (o *Orchestrator) takeTurnLocked() (context.CancelFunc, chan struct{}) {
	cancel, done := o.turnCancel, o.turnDone
	o.turnCancel, o.turnDone = nil, nil
	o.generation++
	return cancel, done
}

// cancelAndWait cancels a detached turn and blocks until its goroutine
// exits.
func (o *Orchestrator) cancelAndWait(cancel context.CancelFunc, done chan struct{}) {
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// beginTurnLocked transitions to agent_thinking and starts the answer turn.
// Caller holds o.mu and has ensured no other turn is running.
func (o *Orchestrator) beginTurnLocked(ctx context.Context, text string) {
	o.state = StateAgentThinking
	o.generation++
	gen := o.generation

	turnCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	o.turnCancel, o.turnDone = cancel, done

	go func() {
		defer close(done)
		o.runTurn(turnCtx, gen, text)
	}()
}

// runTurn performs one dialogue exchange plus playback. It only mutates
// orchestrator state while its generation is current; after a barge-in or
// stop it finishes silently.
func (o *Orchestrator) runTurn(ctx context.Context, gen uint64, text string) {
	answer, sessionID := o.obtainAnswer(ctx, text)
	if ctx.Err() != nil {
		return
	}

	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return
	}
	if sessionID != "" {
		o.sessionID = sessionID
	}
	o.state = StateAgentSpeaking
	o.mu.Unlock()

	if o.suppressor != nil {
		o.suppressor.SetSuppressed(true)
	}
	start := time.Now()
	err := o.synth.Speak(ctx, synthesis.Utterance{Text: answer, Locale: o.locale})
	if o.suppressor != nil {
		o.suppressor.SetSuppressed(false)
	}
	if o.metrics != nil {
		o.metrics.SynthesisDuration.Record(context.WithoutCancel(ctx), time.Since(start).Seconds())
	}
	if err != nil && ctx.Err() == nil {
		o.log.Warn("playback failed", "err", err)
	}

	o.mu.Lock()
	if o.generation == gen {
		o.state = StateIdle
		o.turnCancel, o.turnDone = nil, nil
	}
	o.mu.Unlock()
}

// obtainAnswer runs the dialogue exchange, substituting the deterministic
// fallback answer when the collaborator fails so the turn never ends in
// silence.
func (o *Orchestrator) obtainAnswer(ctx context.Context, text string) (answer, sessionID string) {
	o.mu.Lock()
	sid := o.sessionID
	o.mu.Unlock()

	start := time.Now()
	resp, err := o.dialogue.Exchange(ctx, dialogue.Request{Text: text, SessionID: sid})
	elapsed := time.Since(start).Seconds()

	switch {
	case err != nil || resp == nil:
		if ctx.Err() != nil {
			return "", ""
		}
		o.log.Warn("dialogue collaborator failed, using fallback", "err", err)
		if o.metrics != nil {
			o.metrics.RecordDialogueRequest(ctx, "fallback", elapsed)
		}
		return fmt.Sprintf("You said: %s", text), sid
	default:
		if o.metrics != nil {
			o.metrics.RecordDialogueRequest(ctx, "ok", elapsed)
		}
		return resp.Answer, resp.SessionID
	}
}
