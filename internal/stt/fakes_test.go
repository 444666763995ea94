package stt

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/encounter-scribe/internal/audio"
	"github.com/lexiqai/encounter-scribe/internal/resilience"
)

type fakeTransport struct {
	mu          sync.Mutex
	connectErr  error
	urls        []string
	headers     []http.Header
	handlers    []TransportHandler
	binary      [][]byte
	text        []string
	sendErr     error
	disconnects int
}

func (f *fakeTransport) Connect(ctx context.Context, url string, header http.Header, handler TransportHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.urls = append(f.urls, url)
	f.headers = append(f.headers, header)
	if f.connectErr != nil {
		return f.connectErr
	}
	f.handlers = append(f.handlers, handler)
	return nil
}

func (f *fakeTransport) SendBinary(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.binary = append(f.binary, data)
	return nil
}

func (f *fakeTransport) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = append(f.text, text)
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) setConnectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeTransport) connectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

// handler returns the handler of the most recent successful Connect.
func (f *fakeTransport) handler(t *testing.T) TransportHandler {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handlers) == 0 {
		t.Fatal("Expected transport to have been connected")
	}
	return f.handlers[len(f.handlers)-1]
}

func (f *fakeTransport) sentBinary() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.binary...)
}

func (f *fakeTransport) sentText() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.text...)
}

// waitForText blocks until the client has sent the given text frame.
func (f *fakeTransport) waitForText(t *testing.T, text string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, sent := range f.sentText() {
			if sent == text {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", text)
}

// expectFrames asserts the binary frames on the wire are exactly the given chunks, in order.
func expectFrames(t *testing.T, f *fakeTransport, chunks ...[]int16) {
	t.Helper()
	got := f.sentBinary()
	if len(got) != len(chunks) {
		t.Fatalf("Expected %d frames on the wire, got %d", len(chunks), len(got))
	}
	for i, chunk := range chunks {
		if !bytes.Equal(got[i], audio.EncodePCM16(chunk)) {
			t.Errorf("Expected frame %d to be %v, got %v", i, chunk, got[i])
		}
	}
}

type fakeTimer struct {
	sched   *fakeScheduler
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{sched: s, delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

// armed returns timers that have neither fired nor been stopped.
func (s *fakeScheduler) armed() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeScheduler) fire(t *fakeTimer) {
	s.mu.Lock()
	if t.stopped || t.fired {
		s.mu.Unlock()
		return
	}
	t.fired = true
	s.mu.Unlock()
	t.fn()
}

// onlyArmed asserts exactly one timer with the given delay is armed and returns it.
func (s *fakeScheduler) onlyArmed(t *testing.T, delay time.Duration) *fakeTimer {
	t.Helper()
	armed := s.armed()
	if len(armed) != 1 {
		t.Fatalf("Expected exactly 1 armed timer, got %d", len(armed))
	}
	if armed[0].delay != delay {
		t.Fatalf("Expected timer delay %v, got %v", delay, armed[0].delay)
	}
	return armed[0]
}

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, mutate func(*Config)) (*StreamingClient, *fakeTransport, *fakeScheduler) {
	t.Helper()

	cfg := DefaultConfig("test-key")
	if mutate != nil {
		mutate(&cfg)
	}

	transport := &fakeTransport{}
	sched := &fakeScheduler{}
	client := NewStreamingClient(cfg, transport,
		WithLogger(zerolog.Nop()),
		WithScheduler(sched.AfterFunc),
		WithClock(func() time.Time { return fixedNow }),
	)
	t.Cleanup(func() { _ = client.Close() })
	return client, transport, sched
}

// connectClient drives the client to Connected and consumes the connection event.
func connectClient(t *testing.T, c *StreamingClient, transport *fakeTransport) {
	t.Helper()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	transport.handler(t).OnConnected()
	ev := nextEvent(t, c)
	if ev.Kind != EventConnectionChanged || !ev.Connected {
		t.Fatalf("Expected connected event, got %+v", ev)
	}
}

func nextEvent(t *testing.T, c *StreamingClient) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatal("Event channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
	return Event{}
}

func expectNoEvent(t *testing.T, c *StreamingClient) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Fatalf("Expected no event, got %s %+v", ev.Kind, ev)
	case <-time.After(50 * time.Millisecond):
	}
}

var errDial = errors.New("dial tcp: connection refused")

func fastPolicy(maxAttempts int) resilience.ReconnectPolicy {
	p := resilience.DefaultReconnectPolicy()
	p.MaxAttempts = maxAttempts
	return p
}
