// Package agent implements the dialogue service: the HTTP endpoint that
// turns a final transcript into the agent's answer.
//
// Each exchange is tied to a conversation through a session id. The service
// loads the session's recent history, asks the configured chat model for an
// answer, and records both sides of the exchange. When no model is
// configured or the model call fails, a deterministic fallback answer is
// returned so the caller never faces a silent failure.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/vokalis/vokalis/internal/history"
)

// defaultMemTurns is how many past exchanges are replayed to the model.
const defaultMemTurns = 4

// defaultSystemPrompt frames the assistant for short spoken answers.
const defaultSystemPrompt = "You are a helpful voice assistant. Answer briefly and conversationally; your replies are spoken aloud."

// Completer produces one chat completion from the conversation so far.
// The final element of turns is the pending user message.
type Completer interface {
	Complete(ctx context.Context, turns []history.Turn) (string, error)
}

// Option is a functional option for configuring a Service.
type Option func(*Service)

// WithCompleter wires the chat model. Without one every exchange uses the
// fallback answer.
func WithCompleter(c Completer) Option {
	return func(s *Service) { s.completer = c }
}

// WithMemTurns sets how many past exchanges are replayed to the model.
// Defaults to 4.
func WithMemTurns(n int) Option {
	return func(s *Service) { s.memTurns = n }
}

// WithSystemPrompt replaces the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(s *Service) { s.systemPrompt = prompt }
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// Service answers dialogue exchanges against a history store and an optional
// chat model.
type Service struct {
	store        history.Store
	completer    Completer
	memTurns     int
	systemPrompt string
	log          *slog.Logger
	newID        func() string
}

// NewService creates a dialogue service over the given history store.
func NewService(store history.Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		memTurns:     defaultMemTurns,
		systemPrompt: defaultSystemPrompt,
		log:          slog.With("component", "agent"),
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exchange resolves one utterance to an answer. An empty sessionID starts a
// new conversation.
func (s *Service) Exchange(ctx context.Context, sessionID, text string) (string, string, error) {
	if text == "" {
		return "", "", fmt.Errorf("agent: empty utterance text")
	}
	if sessionID == "" {
		sessionID = s.newID()
		s.log.Info("new conversation", "session", sessionID)
	}

	answer := s.answer(ctx, sessionID, text)

	now := time.Now()
	if err := s.store.Append(ctx, sessionID, history.Turn{Role: history.RoleUser, Content: text, At: now}); err != nil {
		s.log.Warn("history append failed", "session", sessionID, "err", err)
	}
	if err := s.store.Append(ctx, sessionID, history.Turn{Role: history.RoleAssistant, Content: answer, At: now}); err != nil {
		s.log.Warn("history append failed", "session", sessionID, "err", err)
	}
	return sessionID, answer, nil
}

// answer runs the model with the clamped history, falling back to the
// deterministic echo when the model is unavailable.
func (s *Service) answer(ctx context.Context, sessionID, text string) string {
	if s.completer == nil {
		return fallbackAnswer(text)
	}

	// Two messages per remembered exchange.
	turns, err := s.store.Recent(ctx, sessionID, s.memTurns*2)
	if err != nil {
		s.log.Warn("history load failed", "session", sessionID, "err", err)
		turns = nil
	}
	turns = append(turns, history.Turn{Role: history.RoleUser, Content: text})

	answer, err := s.completer.Complete(ctx, turns)
	if err != nil || answer == "" {
		s.log.Warn("model call failed, using fallback", "session", sessionID, "err", err)
		return fallbackAnswer(text)
	}
	return answer
}

// fallbackAnswer is the deterministic reply used when no model answer is
// available.
func fallbackAnswer(text string) string {
	return fmt.Sprintf("You said: %s", text)
}

// OpenAICompleter is a Completer backed by an OpenAI-compatible chat
// completion endpoint, including a local llama.cpp server via its base URL
// override.
type OpenAICompleter struct {
	client       oai.Client
	model        string
	systemPrompt string
}

// CompleterConfig configures an OpenAICompleter.
type CompleterConfig struct {
	// APIKey authenticates against the endpoint. Local llama.cpp servers
	// accept any non-empty value.
	APIKey string

	// Model is the model name passed through to the endpoint.
	Model string

	// BaseURL overrides the default OpenAI API base URL, e.g.
	// "http://localhost:8081/v1" for llama.cpp.
	BaseURL string

	// SystemPrompt frames the conversation. Empty uses the service default.
	SystemPrompt string

	// Timeout bounds each completion request. Zero means no client timeout.
	Timeout time.Duration
}

// NewOpenAICompleter creates a Completer for the configured endpoint.
func NewOpenAICompleter(cfg CompleterConfig) (*OpenAICompleter, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("agent: model must not be empty")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	return &OpenAICompleter{
		client:       oai.NewClient(reqOpts...),
		model:        cfg.Model,
		systemPrompt: prompt,
	}, nil
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, turns []history.Turn) (string, error) {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	messages = append(messages, oai.SystemMessage(c.systemPrompt))
	for _, t := range turns {
		switch t.Role {
		case history.RoleAssistant:
			messages = append(messages, oai.AssistantMessage(t.Content))
		default:
			messages = append(messages, oai.UserMessage(t.Content))
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(c.model),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("agent: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("agent: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
