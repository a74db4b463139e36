package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Validate] to zero-valued fields.
const (
	DefaultListenAddr        = ":8080"
	DefaultLanguage          = "en"
	DefaultPrebufferCapBytes = 64 << 10
	DefaultSilenceFlushMs    = 1000
	DefaultHeartbeatS        = 30
	DefaultCloseGraceMs      = 40
	DefaultConnectTimeoutS   = 8
	DefaultAggressiveness    = 1
	DefaultPreRollMs         = 240
	DefaultBackendSilenceMs  = 400
	DefaultMemTurns          = 4
	DefaultMaxSessions       = 1024
	DefaultMaxAgeMinutes     = 60
	DefaultDeviceRate        = 48000
	DefaultRecorderDir       = "recordings"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills defaults and checks that cfg contains a coherent set of
// values. It returns a joined error listing all failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Relay.Language == "" {
		cfg.Relay.Language = DefaultLanguage
	}
	if cfg.Relay.PrebufferCapBytes == 0 {
		cfg.Relay.PrebufferCapBytes = DefaultPrebufferCapBytes
	}
	if cfg.Relay.PrebufferCapBytes < 0 {
		errs = append(errs, fmt.Errorf("relay.prebuffer_cap_bytes must be positive"))
	}
	if cfg.Relay.SilenceFlushMs == 0 {
		cfg.Relay.SilenceFlushMs = DefaultSilenceFlushMs
	}
	if cfg.Relay.HeartbeatS == 0 {
		cfg.Relay.HeartbeatS = DefaultHeartbeatS
	}
	if cfg.Relay.CloseGraceMs == 0 {
		cfg.Relay.CloseGraceMs = DefaultCloseGraceMs
	}
	if cfg.Relay.ConnectTimeoutS == 0 {
		cfg.Relay.ConnectTimeoutS = DefaultConnectTimeoutS
	}
	if cfg.Relay.Aggressiveness == 0 {
		cfg.Relay.Aggressiveness = DefaultAggressiveness
	}
	if cfg.Relay.PreRollMs == 0 {
		cfg.Relay.PreRollMs = DefaultPreRollMs
	}
	if cfg.Relay.BackendSilenceMs == 0 {
		cfg.Relay.BackendSilenceMs = DefaultBackendSilenceMs
	}

	if cfg.Dialogue.MemTurns == 0 {
		cfg.Dialogue.MemTurns = DefaultMemTurns
	}
	if cfg.Dialogue.MemTurns < 0 {
		errs = append(errs, fmt.Errorf("dialogue.mem_turns must not be negative"))
	}
	if cfg.Dialogue.Model != "" && cfg.Dialogue.BaseURL == "" && cfg.Dialogue.APIKey == "" {
		errs = append(errs, fmt.Errorf("dialogue.api_key is required when dialogue.model targets the default endpoint"))
	}

	if cfg.History.MaxSessions == 0 {
		cfg.History.MaxSessions = DefaultMaxSessions
	}
	if cfg.History.MaxAgeMinutes == 0 {
		cfg.History.MaxAgeMinutes = DefaultMaxAgeMinutes
	}

	if cfg.Synthesis.Locale == "" {
		cfg.Synthesis.Locale = DefaultLanguage
	}

	if cfg.Capture.DeviceRate == 0 {
		cfg.Capture.DeviceRate = DefaultDeviceRate
	}
	if cfg.Capture.DeviceRate%16000 != 0 {
		errs = append(errs, fmt.Errorf("capture.device_rate %d is not a multiple of 16000", cfg.Capture.DeviceRate))
	}

	if cfg.VAD.HighK != 0 && cfg.VAD.LowK != 0 && cfg.VAD.HighK < cfg.VAD.LowK {
		errs = append(errs, fmt.Errorf("vad.high_k must not be below vad.low_k"))
	}
	for name, v := range map[string]float64{
		"vad.ema_alpha":     cfg.VAD.EMAAlpha,
		"vad.min_threshold": cfg.VAD.MinThreshold,
		"vad.high_k":        cfg.VAD.HighK,
		"vad.low_k":         cfg.VAD.LowK,
		"vad.boost_k":       cfg.VAD.BoostK,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	if cfg.Recorder.Enabled && cfg.Recorder.Dir == "" {
		cfg.Recorder.Dir = DefaultRecorderDir
	}

	return errors.Join(errs...)
}
