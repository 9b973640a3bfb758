package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testMatchConfig keeps the tick loops idle so tests drive ticks by hand
func testMatchConfig() MatchConfig {
	cfg := DefaultMatchConfig()
	cfg.PhysicsTick = time.Hour
	cfg.BroadcastTick = time.Hour
	cfg.BotTick = time.Hour
	return cfg
}

// mockConn captures everything sent to a client
type mockConn struct {
	mu     sync.Mutex
	text   [][]byte
	binary [][]byte
	closed bool
	bin    bool
}

func (m *mockConn) SendRaw(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = append(m.text, data)
}

func (m *mockConn) SendBinary(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binary = append(m.binary, data)
}

func (m *mockConn) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

func (m *mockConn) Binary() bool { return m.bin }

func (m *mockConn) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// texts returns the bare, non-JSON text frames
func (m *mockConn) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, raw := range m.text {
		if !json.Valid(raw) {
			out = append(out, string(raw))
		}
	}
	return out
}

// messages decodes the JSON frames with the given type
func (m *mockConn) messages(t *testing.T, typ string) []map[string]any {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]any
	for _, raw := range m.text {
		if !json.Valid(raw) {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg["type"] == typ {
			out = append(out, msg)
		}
	}
	return out
}

// types lists the type of every JSON frame in order
func (m *mockConn) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, raw := range m.text {
		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(raw, &msg) == nil {
			out = append(out, msg.Type)
		}
	}
	return out
}

func (m *mockConn) binaryCoordinates(t *testing.T) []CoordinatesMsg {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CoordinatesMsg, 0, len(m.binary))
	for _, raw := range m.binary {
		var msg CoordinatesMsg
		if err := msgpack.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("msgpack unmarshal: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func (m *mockConn) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.text) + len(m.binary)
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeTimers records scheduled callbacks instead of running them
type fakeTimers struct {
	mu     sync.Mutex
	fns    []func()
	delays []time.Duration
}

type fakeTimer struct{}

func (fakeTimer) Stop() bool { return true }

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) Stopper {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns = append(f.fns, fn)
	f.delays = append(f.delays, d)
	return fakeTimer{}
}

func (f *fakeTimers) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fns)
}

// fire runs the i-th scheduled callback
func (f *fakeTimers) fire(i int) {
	f.mu.Lock()
	fn := f.fns[i]
	f.mu.Unlock()
	fn()
}
