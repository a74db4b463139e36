package audio

import (
	"math"
	"testing"
)

func TestRMS_Silence(t *testing.T) {
	pcm := make([]byte, FrameBytes)
	if got := RMS(pcm); got != 0 {
		t.Fatalf("RMS of silence = %v, want 0", got)
	}
}

func TestRMS_FullScale(t *testing.T) {
	// A constant full-scale signal should have RMS ≈ 1.
	pcm := make([]byte, FrameBytes)
	for i := 0; i < FrameSamples; i++ {
		pcm[i*2] = 0xFF
		pcm[i*2+1] = 0x7F // 32767
	}
	got := RMS(pcm)
	if math.Abs(got-1.0) > 0.001 {
		t.Fatalf("RMS of full-scale = %v, want ~1.0", got)
	}
}

func TestRMS_Empty(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS(nil) = %v, want 0", got)
	}
}

func TestQuantizeSample(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want int16
	}{
		{"zero", 0, 0},
		{"positive full scale", 1.0, 32767},
		{"negative full scale", -1.0, -32768},
		{"clamped above", 2.5, 32767},
		{"clamped below", -3.0, -32768},
		{"half scale", 0.5, 16383},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QuantizeSample(tt.in); got != tt.want {
				t.Fatalf("QuantizeSample(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestFrameConstants(t *testing.T) {
	if FrameSamples != 320 {
		t.Fatalf("FrameSamples = %d, want 320", FrameSamples)
	}
	if FrameBytes != 640 {
		t.Fatalf("FrameBytes = %d, want 640", FrameBytes)
	}
}
