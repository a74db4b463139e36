package audio

import (
	"testing"
	"time"
)

// writeConstant feeds n raw samples of value v at the given device rate.
func writeConstant(f *Framer, v float32, n int) {
	block := make([]float32, 256)
	for i := range block {
		block[i] = v
	}
	for n > 0 {
		chunk := len(block)
		if n < chunk {
			chunk = n
		}
		f.Write(block[:chunk])
		n -= chunk
	}
}

func TestNewFramer_RejectsNonMultipleRate(t *testing.T) {
	if _, err := NewFramer(44100, func(Frame) {}); err == nil {
		t.Fatal("expected error for 44100 Hz device rate")
	}
	if _, err := NewFramer(0, func(Frame) {}); err == nil {
		t.Fatal("expected error for zero device rate")
	}
}

func TestNewFramer_RequiresCallback(t *testing.T) {
	if _, err := NewFramer(48000, nil); err == nil {
		t.Fatal("expected error for nil frame callback")
	}
}

func TestFramer_AssemblesExactFrames(t *testing.T) {
	var frames []Frame
	f, err := NewFramer(48000, func(fr Frame) { frames = append(frames, fr) })
	if err != nil {
		t.Fatalf("NewFramer: %v", err)
	}

	// 48000 raw samples = 1 s = 50 frames.
	writeConstant(f, 0.25, 48000)

	if len(frames) != 50 {
		t.Fatalf("emitted %d frames, want 50", len(frames))
	}
	for i, fr := range frames {
		if len(fr.Data) != FrameBytes {
			t.Fatalf("frame %d has %d bytes, want %d", i, len(fr.Data), FrameBytes)
		}
		if want := time.Duration(i) * FrameDuration; fr.Timestamp != want {
			t.Fatalf("frame %d timestamp = %v, want %v", i, fr.Timestamp, want)
		}
	}
}

func TestFramer_DecimationAverages(t *testing.T) {
	var frames []Frame
	f, err := NewFramer(48000, func(fr Frame) { frames = append(frames, fr) })
	if err != nil {
		t.Fatalf("NewFramer: %v", err)
	}

	// Constant input: every group of three averages back to the same value.
	writeConstant(f, 0.3, FrameSamples*3)

	if len(frames) != 1 {
		t.Fatalf("emitted %d frames, want 1", len(frames))
	}
	s := int16(frames[0].Data[0]) | int16(frames[0].Data[1])<<8
	want := QuantizeSample(0.3)
	// Allow 1 LSB of float rounding.
	if d := int(s) - int(want); d < -1 || d > 1 {
		t.Fatalf("decimated sample = %d, want ~%d", s, want)
	}
}

func TestFramer_ClampsOverdrivenInput(t *testing.T) {
	var frames []Frame
	f, err := NewFramer(16000, func(fr Frame) { frames = append(frames, fr) })
	if err != nil {
		t.Fatalf("NewFramer: %v", err)
	}

	writeConstant(f, 3.0, FrameSamples)

	if len(frames) != 1 {
		t.Fatalf("emitted %d frames, want 1", len(frames))
	}
	s := int16(frames[0].Data[0]) | int16(frames[0].Data[1])<<8
	if s != 32767 {
		t.Fatalf("overdriven sample = %d, want 32767", s)
	}
}

func TestFramer_PauseDropsResumeRealigns(t *testing.T) {
	var frames []Frame
	f, err := NewFramer(48000, func(fr Frame) { frames = append(frames, fr) })
	if err != nil {
		t.Fatalf("NewFramer: %v", err)
	}

	// Half a frame, then pause: nothing may be emitted.
	writeConstant(f, 0.2, FrameSamples*3/2)
	f.Pause()
	writeConstant(f, 0.9, 48000)
	if len(frames) != 0 {
		t.Fatalf("emitted %d frames while paused, want 0", len(frames))
	}

	// Resume and finish the frame.
	f.Resume()
	writeConstant(f, 0.2, FrameSamples*3/2)
	if len(frames) != 1 {
		t.Fatalf("emitted %d frames after resume, want 1", len(frames))
	}
}

func TestFramer_SampleTapSeesEveryRawSample(t *testing.T) {
	var tapped int
	f, err := NewFramer(48000, func(Frame) {}, WithSampleTap(func(float64) { tapped++ }))
	if err != nil {
		t.Fatalf("NewFramer: %v", err)
	}

	writeConstant(f, 0.1, 4800)
	if tapped != 4800 {
		t.Fatalf("tap saw %d samples, want 4800", tapped)
	}
}
