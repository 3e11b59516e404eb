package interpreter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/eventstore"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
	"github.com/loqalabs/loqa-interpreter/internal/stt"
	"github.com/loqalabs/loqa-interpreter/internal/translate"
	"github.com/loqalabs/loqa-interpreter/internal/tts"
	"github.com/loqalabs/loqa-interpreter/internal/voices"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type frame struct {
	messageType int
	data        []byte
}

// fakeConn is an in-memory client connection.
type fakeConn struct {
	inbound chan frame

	gone         chan struct{}
	goneOnce     sync.Once
	deadline     chan struct{}
	deadlineOnce sync.Once

	mu           sync.Mutex
	writes       []frame
	disconnected bool
	lateWrites   int
	closed       bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:  make(chan frame, 256),
		gone:     make(chan struct{}),
		deadline: make(chan struct{}),
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return false }

var _ net.Error = timeoutError{}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.gone:
		return 0, nil, io.EOF
	case <-c.deadline:
		return 0, nil, timeoutError{}
	default:
	}
	select {
	case f := <-c.inbound:
		return f.messageType, f.data, nil
	case <-c.gone:
		return 0, nil, io.EOF
	case <-c.deadline:
		return 0, nil, timeoutError{}
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		c.lateWrites++
		return errors.New("broken pipe")
	}
	c.writes = append(c.writes, frame{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	if !t.After(time.Now()) {
		c.deadlineOnce.Do(func() { close(c.deadline) })
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) sendJSON(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	c.inbound <- frame{messageType: websocket.TextMessage, data: data}
}

func (c *fakeConn) sendText(text string) {
	c.inbound <- frame{messageType: websocket.TextMessage, data: []byte(text)}
}

func (c *fakeConn) sendAudio(data []byte) {
	c.inbound <- frame{messageType: websocket.BinaryMessage, data: data}
}

// disconnect simulates the client going away.
func (c *fakeConn) disconnect() {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
	c.goneOnce.Do(func() { close(c.gone) })
}

func (c *fakeConn) frames() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame(nil), c.writes...)
}

func (c *fakeConn) events() []protocol.Event {
	var out []protocol.Event
	for _, f := range c.frames() {
		if f.messageType != websocket.TextMessage {
			continue
		}
		var evt protocol.Event
		if err := json.Unmarshal(f.data, &evt); err == nil {
			out = append(out, evt)
		}
	}
	return out
}

func (c *fakeConn) eventsOfType(eventType string) []protocol.Event {
	var out []protocol.Event
	for _, evt := range c.events() {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

func (c *fakeConn) binaryCount() int {
	n := 0
	for _, f := range c.frames() {
		if f.messageType == websocket.BinaryMessage {
			n++
		}
	}
	return n
}

func (c *fakeConn) lateWriteCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lateWrites
}

// fakeRecognizer hands out connections the test drives directly.
type fakeRecognizer struct {
	mu    sync.Mutex
	err   error
	conns []*fakeRecConn
	opts  []stt.Options
}

func (r *fakeRecognizer) Connect(_ context.Context, opts stt.Options) (stt.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts = append(r.opts, opts)
	if r.err != nil {
		return nil, r.err
	}
	c := &fakeRecConn{events: make(chan stt.Event, 32)}
	c.connected.Store(true)
	r.conns = append(r.conns, c)
	return c, nil
}

func (r *fakeRecognizer) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *fakeRecognizer) connCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *fakeRecognizer) attempts() []stt.Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]stt.Options(nil), r.opts...)
}

func (r *fakeRecognizer) conn(t *testing.T, i int) *fakeRecConn {
	t.Helper()
	waitFor(t, "recognizer connection", func() bool { return r.connCount() > i })
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[i]
}

type fakeRecConn struct {
	events    chan stt.Event
	connected atomic.Bool
	frames    atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
}

func (c *fakeRecConn) SendAudio([]byte) error {
	if !c.connected.Load() {
		return stt.ErrNotConnected
	}
	c.frames.Add(1)
	return nil
}

func (c *fakeRecConn) Events() <-chan stt.Event { return c.events }

func (c *fakeRecConn) Connected() bool { return c.connected.Load() }

func (c *fakeRecConn) Close() error {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		c.closed.Store(true)
		close(c.events)
	})
	return nil
}

func (c *fakeRecConn) final(text string) {
	c.events <- stt.Event{Kind: stt.EventTranscript, Text: text, Final: true}
}

// fakeTranslator streams the configured chunks for every request.
type fakeTranslator struct {
	mu       sync.Mutex
	chunks   func(text string) []string
	single   string
	err      error
	gate     chan struct{}
	requests []translate.Request
	singles  int
	closed   atomic.Bool
}

func (f *fakeTranslator) TranslateStream(ctx context.Context, req translate.Request, consume func(string) error) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	gate, err, chunks := f.gate, f.err, f.chunks
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}
	if chunks == nil {
		return nil
	}
	for _, chunk := range chunks(req.Text) {
		if err := consume(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTranslator) Translate(context.Context, translate.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.singles++
	return f.single, nil
}

func (f *fakeTranslator) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeTranslator) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Text)
	}
	return out
}

func (f *fakeTranslator) set(fn func(*fakeTranslator)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func spanishChunks(string) []string {
	return []string{"Buenos", " días a todos,", " ¿cómo están hoy?"}
}

type synthCall struct {
	name  string
	voice string
	text  string
	start time.Time
	end   time.Time
}

// callLog is shared by fake synthesizers to observe ordering.
type callLog struct {
	mu      sync.Mutex
	started []string
	calls   []synthCall
}

func (l *callLog) begin(name string) {
	l.mu.Lock()
	l.started = append(l.started, name)
	l.mu.Unlock()
}

func (l *callLog) finish(c synthCall) {
	l.mu.Lock()
	l.calls = append(l.calls, c)
	l.mu.Unlock()
}

func (l *callLog) startedNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.started...)
}

func (l *callLog) finished() []synthCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]synthCall(nil), l.calls...)
}

type fakeSynth struct {
	name   string
	audio  []byte
	err    error
	delay  time.Duration
	gate   chan struct{}
	log    *callLog
	closed atomic.Bool
}

func (s *fakeSynth) Name() string { return s.name }

func (s *fakeSynth) Synthesize(_ context.Context, req tts.Request) ([]byte, error) {
	start := time.Now()
	if s.log != nil {
		s.log.begin(s.name)
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.log != nil {
		s.log.finish(synthCall{name: s.name, voice: req.Voice, text: req.Text, start: start, end: time.Now()})
	}
	return s.audio, s.err
}

func (s *fakeSynth) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeVoices struct {
	profiles map[string]voices.Profile
}

func (f fakeVoices) Lookup(_ context.Context, userID string) (voices.Profile, bool, error) {
	p, ok := f.profiles[userID]
	return p, ok, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	started []string
	events  []string
	reasons []string
}

func (r *fakeRecorder) StartSession(_ context.Context, sess eventstore.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, sess.ID)
	return nil
}

func (r *fakeRecorder) UpdateSession(context.Context, string, string, string, string) error {
	return nil
}

func (r *fakeRecorder) AppendEvent(_ context.Context, evt eventstore.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt.Type)
	return nil
}

func (r *fakeRecorder) EndSession(_ context.Context, _ string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	return nil
}

type fakeObserver struct {
	mu     sync.Mutex
	events []protocol.SessionEvent
}

func (o *fakeObserver) Observe(evt protocol.SessionEvent) {
	o.mu.Lock()
	o.events = append(o.events, evt)
	o.mu.Unlock()
}

func (o *fakeObserver) snapshot() []protocol.SessionEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]protocol.SessionEvent(nil), o.events...)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Session.TranslateViaRecognizer = false
	cfg.Session.MaxAudioFramesPerSec = 0
	cfg.Session.PartialMinIntervalMS = 0
	return cfg
}

// harness runs one session on a fake connection.
type harness struct {
	srv  *Server
	conn *fakeConn
	sess *Session
	done chan struct{}
}

func startSession(t *testing.T, cfg config.Config, p Providers, opts Options) *harness {
	t.Helper()
	opts.Config = cfg
	opts.Logger = newLogger()
	opts.Providers = func() (Providers, error) { return p, nil }
	srv := NewServer(opts)

	h := &harness{srv: srv, conn: newFakeConn(), done: make(chan struct{})}
	h.sess = srv.newSession(h.conn, p)
	go func() {
		defer close(h.done)
		h.sess.Run(srv.ctx)
	}()
	t.Cleanup(func() {
		h.conn.disconnect()
		h.wait(t)
	})
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish")
	}
}

func (h *harness) configure(t *testing.T, source, target string) {
	t.Helper()
	h.conn.sendJSON(t, map[string]any{"type": "config", "source_lang": source, "target_lang": target})
}
