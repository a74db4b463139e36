package relay

import "encoding/json"

// Control is a client↔relay↔backend control message, sent as a text message
// on the same connection that carries binary audio frames.
type Control struct {
	Op string `json:"op"`
}

// Control operation names.
const (
	OpStart = "start"
	OpFlush = "flush"
	OpStop  = "stop"
)

// VADParams carries the backend's own VAD aggressiveness and timing
// parameters inside the start handshake.
type VADParams struct {
	// Aggressiveness selects the backend VAD mode (0 = least aggressive).
	Aggressiveness int `json:"aggr"`

	// PreRollMs is how much audio before a detected onset the backend keeps.
	PreRollMs int `json:"pre_ms"`

	// SilenceMs is the backend's end-of-utterance silence window.
	SilenceMs int `json:"silence_ms"`
}

// StartMessage is the single handshake sent upstream once the backend
// connection is ready and before any audio is forwarded.
type StartMessage struct {
	Op         string    `json:"op"`
	Format     string    `json:"format"`
	SampleRate int       `json:"sample_rate"`
	Language   string    `json:"language"`
	VAD        VADParams `json:"vad"`
}

// Event is a recognition event flowing backend → relay → client.
type Event struct {
	Event string `json:"event"`
	Text  string `json:"text,omitempty"`
}

// Recognition event names.
const (
	EventPartial = "partial"
	EventFinal   = "final"
	EventError   = "error"
)

// encodeControl marshals a bare control op. Marshalling a struct of one
// string cannot fail, so the error is discarded.
func encodeControl(op string) []byte {
	b, _ := json.Marshal(Control{Op: op})
	return b
}
