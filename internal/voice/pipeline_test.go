package voice

import (
	"context"
	"testing"
	"time"

	capturemock "github.com/vokalis/vokalis/pkg/capture/mock"
	"github.com/vokalis/vokalis/pkg/vad"
)

// countingSink records utterance lifecycle calls.
type countingSink struct {
	begins int
	frames int
	ends   int
}

func (s *countingSink) BeginUtterance()   { s.begins++ }
func (s *countingSink) WriteFrame([]byte) { s.frames++ }
func (s *countingSink) EndUtterance()     { s.ends++ }

// block returns one 20 ms capture block (960 samples at 48 kHz) of constant
// amplitude.
func block(level float32) []float32 {
	b := make([]float32, 960)
	for i := range b {
		b[i] = level
	}
	return b
}

func newTestPipeline(t *testing.T, sink UtteranceSink) (*Pipeline, *capturemock.Source, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	client := newClient(testClientConfig(), conn, Handlers{})
	t.Cleanup(func() { client.Close(context.Background()) })

	src := &capturemock.Source{Rate: 48000}
	opts := []PipelineOption{
		// A negligible smoothing factor keeps the noise floor at zero so
		// thresholds stay at their configured minimums for scripted input.
		WithVADConfig(vad.Config{EMAAlpha: 1e-12}),
	}
	if sink != nil {
		opts = append(opts, WithUtteranceSink(sink))
	}
	p, err := NewPipeline(src, client, opts...)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { p.Stop() })
	return p, src, conn
}

func TestPipelineShipsFramesAndDetectsUtterance(t *testing.T) {
	sink := &countingSink{}
	p, src, conn := newTestPipeline(t, sink)

	// Quiet lead-in fills the pre-roll ring.
	for i := 0; i < 8; i++ {
		src.Emit(block(0.001))
	}
	if p.Speaking() {
		t.Fatal("speaking during quiet lead-in")
	}

	// Six loud frames: five confirmation frames, onset on the sixth.
	for i := 0; i < 6; i++ {
		src.Emit(block(0.5))
	}
	if !p.Speaking() {
		t.Fatal("speech not detected after confirmation run")
	}
	if sink.begins != 1 {
		t.Fatalf("sink begins = %d, want 1", sink.begins)
	}
	// Pre-roll (8 frames) plus the onset frame.
	if sink.frames != 9 {
		t.Fatalf("sink frames at onset = %d, want 9", sink.frames)
	}

	// Two more speech frames, then hangover silence ends the utterance.
	src.Emit(block(0.5))
	src.Emit(block(0.5))
	for i := 0; i < 15; i++ {
		src.Emit(block(0.001))
	}
	if p.Speaking() {
		t.Fatal("still speaking after hangover")
	}
	if sink.ends != 1 {
		t.Fatalf("sink ends = %d, want 1", sink.ends)
	}
	if sink.frames != 25 {
		t.Fatalf("sink frames = %d, want 25", sink.frames)
	}

	// Every transport frame was shipped, plus the speech-end flush.
	waitFor(t, time.Second, func() bool { return conn.writeCount() == 32 }, "frames or flush missing")
	if ops := conn.controlOps(t); len(ops) != 1 || ops[0] != opFlush {
		t.Fatalf("control ops = %v, want one flush", ops)
	}
}

func TestPipelinePauseDropsInput(t *testing.T) {
	p, src, conn := newTestPipeline(t, nil)
	p.Pause()

	for i := 0; i < 10; i++ {
		src.Emit(block(0.5))
	}
	time.Sleep(20 * time.Millisecond)
	if got := conn.writeCount(); got != 0 {
		t.Fatalf("writes while paused = %d, want 0", got)
	}
}
