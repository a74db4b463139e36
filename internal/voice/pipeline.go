package voice

import (
	"fmt"
	"log/slog"

	"github.com/vokalis/vokalis/pkg/audio"
	"github.com/vokalis/vokalis/pkg/capture"
	"github.com/vokalis/vokalis/pkg/vad"
)

// UtteranceSink receives confirmed utterances frame by frame, pre-roll
// included. internal/recorder implements it. Methods run on the capture path
// and must be cheap.
type UtteranceSink interface {
	BeginUtterance()
	WriteFrame(pcm []byte)
	EndUtterance()
}

// PipelineOption configures a Pipeline at construction time.
type PipelineOption func(*Pipeline)

// WithVADConfig sets the segmenter configuration. Zero fields take the
// package defaults.
func WithVADConfig(cfg vad.Config) PipelineOption {
	return func(p *Pipeline) { p.vadCfg = cfg }
}

// WithUtteranceSink registers a sink receiving each confirmed utterance,
// e.g. the debug recorder.
func WithUtteranceSink(sink UtteranceSink) PipelineOption {
	return func(p *Pipeline) { p.sink = sink }
}

// Pipeline wires a capture source through the framer and segmenter into the
// gateway client: every transport frame is shipped, segmenter transitions
// drive the client's flush timing, and confirmed utterances (with pre-roll)
// feed the optional sink.
type Pipeline struct {
	source capture.Source
	framer *audio.Framer
	seg    *vad.Segmenter
	client *Client
	sink   UtteranceSink
	log    *slog.Logger

	vadCfg vad.Config
}

// NewPipeline builds the capture pipeline on top of an already connected
// client.
func NewPipeline(source capture.Source, client *Client, opts ...PipelineOption) (*Pipeline, error) {
	p := &Pipeline{
		source: source,
		client: client,
		log:    slog.With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.seg = vad.NewSegmenter(p.vadCfg)
	framer, err := audio.NewFramer(source.SampleRate(), p.onFrame, audio.WithSampleTap(p.seg.ObserveSample))
	if err != nil {
		return nil, fmt.Errorf("voice: %w", err)
	}
	p.framer = framer
	return p, nil
}

// Start begins capture. The pipeline starts unpaused.
func (p *Pipeline) Start() error {
	if err := p.source.Start(p.framer.Write); err != nil {
		return fmt.Errorf("voice: start capture: %w", err)
	}
	p.log.Info("capture started", "device_rate", p.source.SampleRate())
	return nil
}

// Stop halts capture. The client connection stays open; pair with
// Client.Close for a full teardown.
func (p *Pipeline) Stop() error {
	if err := p.source.Stop(); err != nil {
		return fmt.Errorf("voice: stop capture: %w", err)
	}
	p.seg.Reset()
	p.log.Info("capture stopped")
	return nil
}

// onFrame handles one assembled transport frame on the capture path.
func (p *Pipeline) onFrame(fr audio.Frame) {
	ev, err := p.seg.ProcessFrame(fr.Data)
	if err != nil {
		return
	}

	p.client.SendFrame(fr.Data)

	switch ev.Type {
	case vad.SpeechStart:
		p.client.SpeechStarted()
		if p.sink != nil {
			p.sink.BeginUtterance()
			p.seg.PreRoll(p.sink.WriteFrame)
			p.sink.WriteFrame(fr.Data)
		}
	case vad.SpeechContinue:
		if p.sink != nil {
			p.sink.WriteFrame(fr.Data)
		}
	case vad.SpeechEnd:
		p.client.SpeechEnded()
		if p.sink != nil {
			p.sink.EndUtterance()
		}
	}
}

// Pause discards capture input without emitting frames.
func (p *Pipeline) Pause() { p.framer.Pause() }

// Resume re-enables frame emission.
func (p *Pipeline) Resume() { p.framer.Resume() }

// SetSuppressed raises or lowers the segmenter thresholds while synthesized
// speech plays.
func (p *Pipeline) SetSuppressed(on bool) { p.seg.SetSuppressed(on) }

// Calibrate re-estimates the noise floor from upcoming input.
func (p *Pipeline) Calibrate() { p.seg.Calibrate() }

// SetVADConfig applies new detection thresholds at runtime.
func (p *Pipeline) SetVADConfig(cfg vad.Config) { p.seg.SetConfig(cfg) }

// Speaking reports whether the segmenter currently classifies input as
// speech.
func (p *Pipeline) Speaking() bool { return p.seg.Speaking() }
