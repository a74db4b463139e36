package voice

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// fakeConn is a scripted websocket double for client tests.
type fakeConn struct {
	in chan []byte

	mu        sync.Mutex
	writes    [][]byte
	types     []websocket.MessageType
	writeGate chan struct{} // when non-nil, writes block until closed
	closed    bool
	closedCh  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:       make(chan []byte, 16),
		closedCh: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case msg, ok := <-c.in:
		if !ok {
			return 0, nil, websocket.CloseError{Code: websocket.StatusNormalClosure}
		}
		return websocket.MessageText, msg, nil
	case <-c.closedCh:
		return 0, nil, websocket.CloseError{Code: websocket.StatusNormalClosure}
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	gate := c.writeGate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), p...))
	c.types = append(c.types, typ)
	return nil
}

func (c *fakeConn) Close(code websocket.StatusCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

func (c *fakeConn) controlOps(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var ops []string
	for i, w := range c.writes {
		if c.types[i] != websocket.MessageText {
			continue
		}
		var ctrl struct {
			Op string `json:"op"`
		}
		if err := json.Unmarshal(w, &ctrl); err != nil {
			t.Fatalf("unmarshal control: %v", err)
		}
		ops = append(ops, ctrl.Op)
	}
	return ops
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func testClientConfig() ClientConfig {
	return ClientConfig{
		QueueDepth:    8,
		FailsafeFlush: time.Hour,
		CloseGrace:    time.Millisecond,
	}
}

func TestClientShipsFrames(t *testing.T) {
	conn := newFakeConn()
	c := newClient(testClientConfig(), conn, Handlers{})
	defer c.Close(context.Background())

	c.SendFrame(make([]byte, 640))
	c.SendFrame(make([]byte, 640))
	waitFor(t, time.Second, func() bool { return conn.writeCount() == 2 }, "frames not written")

	conn.mu.Lock()
	defer conn.mu.Unlock()
	for i, typ := range conn.types {
		if typ != websocket.MessageBinary {
			t.Errorf("write %d type = %v, want binary", i, typ)
		}
	}
}

func TestClientDropsWhenQueueFull(t *testing.T) {
	conn := newFakeConn()
	gate := make(chan struct{})
	conn.writeGate = gate

	cfg := testClientConfig()
	cfg.QueueDepth = 2
	c := newClient(cfg, conn, Handlers{})

	// One frame may be in flight in the write loop plus two queued; the
	// rest must be dropped without blocking this goroutine.
	for i := 0; i < 10; i++ {
		c.SendFrame(make([]byte, 640))
	}
	if got := c.Dropped(); got < 7 {
		t.Fatalf("Dropped() = %d, want at least 7", got)
	}

	close(gate)
	c.Close(context.Background())
}

func TestClientSpeechEndSendsFlush(t *testing.T) {
	conn := newFakeConn()
	c := newClient(testClientConfig(), conn, Handlers{})
	defer c.Close(context.Background())

	c.SpeechStarted()
	c.SpeechEnded()
	waitFor(t, time.Second, func() bool {
		ops := conn.controlOps(t)
		return len(ops) == 1 && ops[0] == opFlush
	}, "speech end flush not sent")
}

func TestClientFailsafeFlush(t *testing.T) {
	conn := newFakeConn()
	cfg := testClientConfig()
	cfg.FailsafeFlush = 20 * time.Millisecond
	c := newClient(cfg, conn, Handlers{})
	defer c.Close(context.Background())

	c.SpeechStarted()
	waitFor(t, time.Second, func() bool {
		ops := conn.controlOps(t)
		return len(ops) == 1 && ops[0] == opFlush
	}, "failsafe flush not sent")
}

func TestClientFailsafeDisarmedBySpeechEnd(t *testing.T) {
	conn := newFakeConn()
	cfg := testClientConfig()
	cfg.FailsafeFlush = 40 * time.Millisecond
	c := newClient(cfg, conn, Handlers{})
	defer c.Close(context.Background())

	c.SpeechStarted()
	c.SpeechEnded()
	time.Sleep(80 * time.Millisecond)

	// Only the speech-end flush; the failsafe must not add a second one.
	if ops := conn.controlOps(t); len(ops) != 1 {
		t.Fatalf("control ops = %v, want exactly one flush", ops)
	}
}

func TestClientCloseSequence(t *testing.T) {
	conn := newFakeConn()
	c := newClient(testClientConfig(), conn, Handlers{})

	c.SendFrame(make([]byte, 640))
	waitFor(t, time.Second, func() bool { return conn.writeCount() == 1 }, "frame not written")

	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ops := conn.controlOps(t)
	if len(ops) != 2 || ops[0] != opFlush || ops[1] != opStop {
		t.Fatalf("control ops = %v, want [flush stop]", ops)
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Error("connection not closed")
	}

	// Close is idempotent and frames after close are dropped.
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	before := conn.writeCount()
	c.SendFrame(make([]byte, 640))
	time.Sleep(10 * time.Millisecond)
	if conn.writeCount() != before {
		t.Error("frame written after close")
	}
}

func TestClientDispatchesEvents(t *testing.T) {
	conn := newFakeConn()
	var mu sync.Mutex
	var partials, finals, errs []string
	c := newClient(testClientConfig(), conn, Handlers{
		OnPartial: func(s string) { mu.Lock(); partials = append(partials, s); mu.Unlock() },
		OnFinal:   func(s string) { mu.Lock(); finals = append(finals, s); mu.Unlock() },
		OnError:   func(s string) { mu.Lock(); errs = append(errs, s); mu.Unlock() },
	})
	defer c.Close(context.Background())

	conn.in <- []byte(`{"event":"partial","text":"hel"}`)
	conn.in <- []byte(`not json at all`)
	conn.in <- []byte(`{"event":"final","text":"hello"}`)
	conn.in <- []byte(`{"event":"error","text":"backend gone"}`)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(partials) == 1 && len(finals) == 1 && len(errs) == 1
	}, "events not dispatched")

	mu.Lock()
	defer mu.Unlock()
	if partials[0] != "hel" || finals[0] != "hello" || errs[0] != "backend gone" {
		t.Fatalf("events = %v %v %v", partials, finals, errs)
	}
}
