package main

import (
	"testing"
	"time"
)

func TestOnsetSink_BeginUtteranceDoesNotBlockOnOnset(t *testing.T) {
	release := make(chan struct{})
	fired := make(chan struct{})
	sink := &onsetSink{onset: func() {
		close(fired)
		<-release
	}}
	defer close(release)

	done := make(chan struct{})
	go func() {
		sink.BeginUtterance()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BeginUtterance blocked on a stalled onset handler")
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("onset handler never ran")
	}
}

func TestHTTPBaseURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "ws://localhost:8080/asr/stream", want: "http://localhost:8080"},
		{in: "wss://gateway.example.com/asr/stream", want: "https://gateway.example.com"},
		{in: "http://localhost:8080", want: "http://localhost:8080"},
		{in: "not a url at all", wantErr: true},
	}
	for _, tt := range tests {
		got, err := httpBaseURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("httpBaseURL(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("httpBaseURL(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("httpBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
