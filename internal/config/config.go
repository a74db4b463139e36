// Package config provides the configuration schema and loader for the
// Vokalis gateway and microphone client.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Relay     RelayConfig     `yaml:"relay"`
	Dialogue  DialogueConfig  `yaml:"dialogue"`
	History   HistoryConfig   `yaml:"history"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Capture   CaptureConfig   `yaml:"capture"`
	VAD       VADConfig       `yaml:"vad"`
	Recorder  RecorderConfig  `yaml:"recorder"`
}

// ServerConfig holds network and logging settings for the gateway.
type ServerConfig struct {
	// ListenAddr is the TCP address the gateway listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// RelayConfig holds the audio relay parameters.
type RelayConfig struct {
	// UpstreamURL is the websocket address of the recognition backend.
	UpstreamURL string `yaml:"upstream_url"`

	// Language is sent in the upstream start handshake.
	Language string `yaml:"language"`

	// PrebufferCapBytes caps the per-session prebuffer (default 65536).
	PrebufferCapBytes int `yaml:"prebuffer_cap_bytes"`

	// SilenceFlushMs is the idle window before a flush is forced (default
	// 1000).
	SilenceFlushMs int `yaml:"silence_flush_ms"`

	// HeartbeatS is the ping interval in seconds (default 30).
	HeartbeatS int `yaml:"heartbeat_s"`

	// CloseGraceMs is the delay between flush and stop on close (default
	// 40).
	CloseGraceMs int `yaml:"close_grace_ms"`

	// ConnectTimeoutS bounds the upstream dial in seconds (default 8).
	ConnectTimeoutS int `yaml:"connect_timeout_s"`

	// Backend VAD parameters forwarded in the handshake.
	Aggressiveness   int `yaml:"aggressiveness"`
	PreRollMs        int `yaml:"pre_roll_ms"`
	BackendSilenceMs int `yaml:"backend_silence_ms"`
}

// DialogueConfig configures the dialogue service's chat model. An empty
// Model disables the model; every exchange then uses the fallback answer.
type DialogueConfig struct {
	// Model is the chat model name passed to the endpoint.
	Model string `yaml:"model"`

	// APIKey authenticates against the endpoint.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the OpenAI API base URL, e.g.
	// "http://localhost:8081/v1" for a local llama.cpp server.
	BaseURL string `yaml:"base_url"`

	// SystemPrompt frames the conversation. Empty uses the built-in prompt.
	SystemPrompt string `yaml:"system_prompt"`

	// MemTurns is how many past exchanges are replayed (default 4).
	MemTurns int `yaml:"mem_turns"`

	// TimeoutS bounds each completion request in seconds.
	TimeoutS int `yaml:"timeout_s"`
}

// HistoryConfig selects and bounds the conversation history store.
type HistoryConfig struct {
	// PostgresDSN enables the PostgreSQL store. Empty uses the bounded
	// in-memory store.
	PostgresDSN string `yaml:"postgres_dsn"`

	// MaxSessions caps the in-memory store's session count (default 1024).
	MaxSessions int `yaml:"max_sessions"`

	// MaxAgeMinutes evicts in-memory sessions untouched for this long
	// (default 60).
	MaxAgeMinutes int `yaml:"max_age_minutes"`
}

// SynthesisConfig configures the speech synthesis backend.
type SynthesisConfig struct {
	// URL is the Wyoming Piper websocket proxy, e.g. "ws://piper:10200".
	// Empty disables synthesis.
	URL string `yaml:"url"`

	// Locale is the language tag for voice selection (default "en").
	Locale string `yaml:"locale"`
}

// CaptureConfig configures the microphone client.
type CaptureConfig struct {
	// GatewayURL is the gateway stream endpoint the client connects to.
	GatewayURL string `yaml:"gateway_url"`

	// DeviceRate is the microphone capture rate in Hz; must be an integer
	// multiple of 16000 (default 48000).
	DeviceRate int `yaml:"device_rate"`
}

// VADConfig holds the local segmenter thresholds. Zero fields take the
// package defaults.
type VADConfig struct {
	EMAAlpha       float64 `yaml:"ema_alpha"`
	MinThreshold   float64 `yaml:"min_threshold"`
	HighK          float64 `yaml:"high_k"`
	LowK           float64 `yaml:"low_k"`
	BoostK         float64 `yaml:"boost_k"`
	StartFrames    int     `yaml:"start_frames"`
	HangoverFrames int     `yaml:"hangover_frames"`
	PreRollFrames  int     `yaml:"pre_roll_frames"`
	MaxUtterFrames int     `yaml:"max_utter_frames"`
}

// RecorderConfig controls the debug utterance recorder.
type RecorderConfig struct {
	// Enabled turns the WAV tap on.
	Enabled bool `yaml:"enabled"`

	// Dir is where utterance files are written (default "recordings").
	Dir string `yaml:"dir"`
}
