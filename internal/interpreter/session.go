package interpreter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/eventstore"
	"github.com/loqalabs/loqa-interpreter/internal/lang"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
	"github.com/loqalabs/loqa-interpreter/internal/stt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// Close reasons recorded on the session timeline.
const (
	ReasonClientDisconnect = "client_disconnect"
	ReasonServerShutdown   = "server_shutdown"
	ReasonTransportError   = "transport_error"
)

// settings is the client-chosen configuration. It is written only by the
// inbound task and snapshotted by jobs.
type settings struct {
	SourceLang string
	TargetLang string
	Provider   TTSProvider
	UserID     string
	Voice      string
	configured bool
}

// Session is one live client connection.
type Session struct {
	id                     string
	cfg                    config.SessionConfig
	sampleRate             int
	translateViaRecognizer bool

	providers Providers
	chain     *synthesisChain
	voices    VoiceLookup
	recorder  Recorder
	nodeID    string
	metrics   *instruments
	log       *slog.Logger
	now       func() time.Time

	conn    Conn
	out     *outbound
	acc     *Accumulator
	queue   *CoalescingQueue
	jobMu   sync.Mutex
	limiter *rate.Limiter

	state        atomic.Int32
	shuttingDown atomic.Bool

	settingsMu sync.RWMutex
	settings   settings

	// Owned by the inbound task.
	recognizer   stt.Connection
	dispatchDone chan struct{}

	consumerDone chan struct{}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Session) snapshot() settings {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings
}

// Run serves the connection until the client leaves or ctx is cancelled.
// Cancellation drains the session while the client is still connected so the
// last utterance is delivered before the close frame.
func (s *Session) Run(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	s.metrics.activeSessions.Add(base, 1)
	defer s.metrics.activeSessions.Add(base, -1)

	s.record(func(r Recorder) error {
		return r.StartSession(base, eventstore.Session{ID: s.id, NodeID: s.nodeID, StartedAt: s.now()})
	})
	s.log.Info("session started")

	go s.consume(base)

	stop := context.AfterFunc(ctx, func() {
		s.shuttingDown.Store(true)
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	reason := s.readLoop(base)
	s.drain(base, reason)
}

func (s *Session) readLoop(ctx context.Context) string {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			switch {
			case s.shuttingDown.Load():
				return ReasonServerShutdown
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived),
				errors.Is(err, io.EOF):
				return ReasonClientDisconnect
			default:
				s.log.Info("client read failed", slogError(err))
				return ReasonTransportError
			}
		}
		switch messageType {
		case websocket.TextMessage:
			s.handleText(ctx, data)
		case websocket.BinaryMessage:
			s.handleAudio(ctx, data)
		}
	}
}

func (s *Session) handleText(ctx context.Context, data []byte) {
	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		s.log.Warn("rejected client message", slogError(err))
		s.out.sendEvent(protocol.ErrorEvent(err.Error()))
		return
	}
	s.configure(ctx, msg)
}

func (s *Session) configure(ctx context.Context, msg protocol.ConfigMessage) {
	prev := s.snapshot()
	next := prev

	next.SourceLang = lang.Normalize(msg.SourceLang)
	if next.SourceLang == "" {
		next.SourceLang = s.cfg.DefaultSourceLanguage
	}
	next.TargetLang = lang.Normalize(msg.TargetLang)
	if next.TargetLang == "" {
		next.TargetLang = s.cfg.DefaultTargetLanguage
	}
	if msg.TTSProvider != "" {
		if provider, ok := ParseTTSProvider(msg.TTSProvider); ok {
			next.Provider = provider
		} else {
			s.log.Warn("unknown tts provider requested", slog.String("tts_provider", msg.TTSProvider))
		}
	}
	next.UserID = msg.UserID
	next.Voice = s.lookupVoice(ctx, msg.UserID)
	next.configured = true

	if err := s.closeRecognizer(); err != nil {
		s.log.Warn("closing previous recognizer failed", slogError(err))
	}
	if prev.configured && prev.SourceLang != next.SourceLang {
		s.acc.Reset()
	}

	s.settingsMu.Lock()
	s.settings = next
	s.settingsMu.Unlock()

	connected := s.connectRecognizer(ctx, next)
	s.setState(StateConfigured)

	s.log.Info("session configured",
		slog.String("source_lang", next.SourceLang),
		slog.String("target_lang", next.TargetLang),
		slog.String("tts_provider", next.Provider.String()),
		slog.Bool("voice_clone", next.Voice != ""),
		slog.Bool("recognizer_connected", connected),
		slog.Bool("reconfigured", prev.configured))

	s.record(func(r Recorder) error {
		return r.UpdateSession(ctx, s.id, next.UserID, next.SourceLang, next.TargetLang)
	})
	s.appendEvent(ctx, eventstore.TypeConfigured, map[string]any{
		"source_lang":          next.SourceLang,
		"target_lang":          next.TargetLang,
		"tts_provider":         next.Provider.String(),
		"voice_clone":          next.Voice != "",
		"recognizer_connected": connected,
	})
}

// lookupVoice resolves a ready cloned voice. Any failure means no clone.
func (s *Session) lookupVoice(ctx context.Context, userID string) string {
	if userID == "" || s.voices == nil {
		return ""
	}
	if s.cfg.LookupTimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.LookupTimeoutMS)*time.Millisecond)
		defer cancel()
	}
	profile, ok, err := s.voices.Lookup(ctx, userID)
	if err != nil {
		s.log.Warn("voice profile lookup failed", slog.String("user_id", userID), slogError(err))
		return ""
	}
	if !ok || !profile.Ready() {
		return ""
	}
	return profile.VoiceID
}

func (s *Session) connectRecognizer(ctx context.Context, st settings) bool {
	opts := stt.Options{Language: st.SourceLang, SampleRate: s.sampleRate}
	if s.translateViaRecognizer {
		opts.TargetLanguage = st.TargetLang
	}
	conn, err := s.providers.Recognizer.Connect(ctx, opts)
	if err != nil {
		s.log.Error("speech recognizer connect failed", slogError(err))
		s.out.sendEvent(protocol.ErrorEvent("speech recognizer unavailable: " + err.Error()))
		s.appendEvent(ctx, eventstore.TypeError, map[string]any{"stage": "recognizer", "error": err.Error()})
		return false
	}
	done := make(chan struct{})
	s.recognizer = conn
	s.dispatchDone = done
	go s.dispatch(conn, done)
	return true
}

// closeRecognizer closes the live recognizer and waits for its dispatcher.
func (s *Session) closeRecognizer() error {
	if s.recognizer == nil {
		return nil
	}
	err := s.recognizer.Close()
	<-s.dispatchDone
	s.recognizer = nil
	s.dispatchDone = nil
	return err
}

func (s *Session) handleAudio(ctx context.Context, frame []byte) {
	if s.recognizer == nil || !s.recognizer.Connected() {
		s.metrics.droppedFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "not_connected")))
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.droppedFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "rate_limited")))
		return
	}
	if err := s.recognizer.SendAudio(frame); err != nil {
		s.log.Debug("audio frame not forwarded", slogError(err))
		return
	}
	s.state.CompareAndSwap(int32(StateConfigured), int32(StateStreaming))
}

// dispatch delivers recognizer events in order until the connection ends.
func (s *Session) dispatch(conn stt.Connection, done chan struct{}) {
	defer close(done)
	for evt := range conn.Events() {
		s.onRecognizerEvent(evt)
	}
}

func (s *Session) onRecognizerEvent(evt stt.Event) {
	text := strings.TrimSpace(evt.Text)
	if text == "" {
		return
	}
	switch evt.Kind {
	case stt.EventTranscript:
		s.out.sendEvent(protocol.TranscriptEvent(evt.Text, evt.Final))
		if evt.Final && !s.translateViaRecognizer {
			if pending, ok := s.acc.Add(text); ok {
				s.enqueue(Job{Text: pending})
			}
		}
	case stt.EventTranslation:
		if !evt.Final {
			s.out.sendEvent(protocol.PartialTranslationEvent(text))
			return
		}
		s.out.sendEvent(protocol.TranslationEvent(text))
		s.enqueue(Job{Text: text, SynthesizeOnly: true})
	}
}

func (s *Session) enqueue(job Job) {
	evicted, accepted := s.queue.Replace(job)
	if !accepted {
		return
	}
	ctx := context.Background()
	s.metrics.jobsEnqueued.Add(ctx, 1)
	if evicted {
		s.metrics.jobsEvicted.Add(ctx, 1)
		s.log.Debug("waiting job replaced by newer text")
	}
}

// consume is the session's single job runner.
func (s *Session) consume(ctx context.Context) {
	defer close(s.consumerDone)
	for {
		job, ok := s.queue.Next()
		if !ok {
			return
		}
		s.jobMu.Lock()
		s.runJob(ctx, job)
		s.jobMu.Unlock()
	}
}

// drain tears the session down. Each step runs regardless of earlier failures.
func (s *Session) drain(ctx context.Context, reason string) {
	s.setState(StateDraining)
	keepOpen := reason == ReasonServerShutdown && s.out.isOpen()
	if !keepOpen {
		s.out.markClosed()
	}

	if pending, ok := s.acc.Flush(); ok {
		if keepOpen {
			s.enqueue(Job{Text: pending})
		} else {
			s.log.Debug("discarding untranslated text", slog.Int("chars", len(pending)))
		}
	}
	s.queue.Stop(!keepOpen)
	<-s.consumerDone

	var errs []error
	if err := s.closeRecognizer(); err != nil {
		errs = append(errs, err)
	}
	if err := s.providers.close(); err != nil {
		errs = append(errs, err)
	}
	if keepOpen {
		s.out.closeGracefully(websocket.CloseGoingAway, "server shutting down")
	}
	if err := s.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Warn("session cleanup incomplete", slogError(err))
	}

	s.setState(StateClosed)
	s.appendEvent(ctx, eventstore.TypeClosed, map[string]any{"reason": reason})
	s.record(func(r Recorder) error { return r.EndSession(ctx, s.id, reason) })
	if s.out.mirror != nil {
		s.out.mirror(protocol.SessionEvent{Type: protocol.TypeClosed, Message: reason})
	}
	s.log.Info("session closed", slog.String("reason", reason))
}

func (s *Session) record(fn func(Recorder) error) {
	if s.recorder == nil {
		return
	}
	if err := fn(s.recorder); err != nil {
		s.log.Warn("session timeline write failed", slogError(err))
	}
}

func (s *Session) appendEvent(ctx context.Context, eventType string, payload map[string]any) {
	if s.recorder == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("encode timeline event failed", slogError(err))
		return
	}
	s.record(func(r Recorder) error {
		return r.AppendEvent(ctx, eventstore.Event{SessionID: s.id, Type: eventType, Payload: data, CreatedAt: s.now()})
	})
}
