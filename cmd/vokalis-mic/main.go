// Command vokalis-mic is the Vokalis microphone client: it captures audio
// from the default input device, streams it to the gateway, and drives the
// conversation turn loop on the recognition results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/vokalis/vokalis/internal/config"
	"github.com/vokalis/vokalis/internal/recorder"
	"github.com/vokalis/vokalis/internal/turn"
	"github.com/vokalis/vokalis/internal/voice"
	"github.com/vokalis/vokalis/pkg/capture/portaudio"
	"github.com/vokalis/vokalis/pkg/provider/dialogue/gateway"
	"github.com/vokalis/vokalis/pkg/provider/synthesis"
	"github.com/vokalis/vokalis/pkg/provider/synthesis/wyoming"
	"github.com/vokalis/vokalis/pkg/vad"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vokalis-mic: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vokalis-mic: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	streamURL := cfg.Capture.GatewayURL
	if streamURL == "" {
		fmt.Fprintln(os.Stderr, "vokalis-mic: capture.gateway_url is required")
		return 1
	}
	agentURL, err := httpBaseURL(streamURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vokalis-mic: %v\n", err)
		return 1
	}

	slog.Info("vokalis-mic starting",
		"config", *configPath,
		"gateway", streamURL,
		"device_rate", cfg.Capture.DeviceRate,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Collaborators ────────────────────────────────────────────────────────
	dlg := gateway.New(agentURL)

	var synth synthesis.Provider
	if cfg.Synthesis.URL != "" {
		synth = wyoming.New(cfg.Synthesis.URL)
	} else {
		synth = printSynth{}
	}

	// ── Gateway connection ───────────────────────────────────────────────────
	// The orchestrator is created after the client because its collaborator
	// wiring needs the pipeline; events only start flowing once capture
	// starts, so the handlers may close over the variable.
	var orch *turn.Orchestrator

	client, err := voice.Dial(ctx, voice.ClientConfig{URL: streamURL}, voice.Handlers{
		OnPartial: func(text string) {
			slog.Debug("partial transcript", "text", text)
		},
		OnFinal: func(text string) {
			fmt.Printf("you: %s\n", text)
			orch.HandleFinal(context.WithoutCancel(ctx), text)
		},
		OnError: func(text string) {
			slog.Warn("recognition error", "text", text)
		},
	})
	if err != nil {
		slog.Error("failed to connect to gateway", "err", err)
		return 1
	}

	// ── Capture pipeline ─────────────────────────────────────────────────────
	source := portaudio.New(cfg.Capture.DeviceRate)

	sink := &onsetSink{}
	if cfg.Recorder.Enabled {
		sink.rec = recorder.New(afero.NewOsFs(), cfg.Recorder.Dir)
		slog.Info("utterance recorder enabled", "dir", cfg.Recorder.Dir)
	}

	pipeline, err := voice.NewPipeline(source, client,
		voice.WithVADConfig(vadConfig(cfg.VAD)),
		voice.WithUtteranceSink(sink),
	)
	if err != nil {
		slog.Error("failed to build capture pipeline", "err", err)
		return 1
	}

	orchOpts := []turn.Option{
		turn.WithSuppressor(pipeline),
		turn.WithCapture(pipeline),
	}
	if cfg.Synthesis.Locale != "" {
		orchOpts = append(orchOpts, turn.WithLocale(cfg.Synthesis.Locale))
	}
	orch = turn.New(dlg, synth, orchOpts...)
	sink.onset = func() { orch.StartListening(context.WithoutCancel(ctx)) }

	if err := pipeline.Start(); err != nil {
		slog.Error("failed to start capture", "err", err)
		return 1
	}

	slog.Info("listening — press Ctrl+C to stop")
	<-ctx.Done()

	// ── Teardown: stop capture first so no frames race the drain ────────────
	orch.StopAll()
	if err := pipeline.Stop(); err != nil {
		slog.Warn("capture stop error", "err", err)
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Close(closeCtx); err != nil {
		slog.Warn("client close error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// onsetSink fans utterance boundaries out to the turn orchestrator and,
// when enabled, the WAV recorder.
type onsetSink struct {
	onset func()
	rec   *recorder.Recorder
}

func (s *onsetSink) BeginUtterance() {
	// Runs on the capture path; a barge-in waits for the cancelled turn's
	// playback to unwind, so dispatch it off the real-time goroutine.
	if s.onset != nil {
		go s.onset()
	}
	if s.rec != nil {
		s.rec.BeginUtterance()
	}
}

func (s *onsetSink) WriteFrame(pcm []byte) {
	if s.rec != nil {
		s.rec.WriteFrame(pcm)
	}
}

func (s *onsetSink) EndUtterance() {
	if s.rec != nil {
		s.rec.EndUtterance()
	}
}

// printSynth is the stand-in synthesis provider used when no backend is
// configured: it prints the answer instead of speaking it.
type printSynth struct{}

func (printSynth) Speak(_ context.Context, utt synthesis.Utterance) error {
	fmt.Printf("agent: %s\n", utt.Text)
	return nil
}

// httpBaseURL derives the gateway's HTTP base address from its websocket
// stream endpoint, e.g. "ws://host:8080/asr/stream" → "http://host:8080".
func httpBaseURL(streamURL string) (string, error) {
	u, err := url.Parse(streamURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("unusable gateway url %q", streamURL)
	}
	scheme := "http"
	if strings.EqualFold(u.Scheme, "wss") || strings.EqualFold(u.Scheme, "https") {
		scheme = "https"
	}
	return scheme + "://" + u.Host, nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// vadConfig maps the YAML segmenter settings onto the package config. Zero
// fields keep the package defaults.
func vadConfig(v config.VADConfig) vad.Config {
	return vad.Config{
		EMAAlpha:       v.EMAAlpha,
		MinThreshold:   v.MinThreshold,
		HighK:          v.HighK,
		LowK:           v.LowK,
		BoostK:         v.BoostK,
		StartFrames:    v.StartFrames,
		HangoverFrames: v.HangoverFrames,
		PreRollFrames:  v.PreRollFrames,
		MaxUtterFrames: v.MaxUtterFrames,
	}
}
