package interpreter

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-interpreter/internal/eventstore"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
	"github.com/loqalabs/loqa-interpreter/internal/stt"
	"github.com/loqalabs/loqa-interpreter/internal/voices"
)

func defaultProviders() (Providers, *fakeRecognizer, *fakeTranslator, *fakeSynth) {
	rec := &fakeRecognizer{}
	tr := &fakeTranslator{chunks: spanishChunks}
	primary := &fakeSynth{name: "primary", audio: []byte("RIFF-primary")}
	secondary := &fakeSynth{name: "secondary"}
	return Providers{Recognizer: rec, Translator: tr, Primary: primary, Secondary: secondary}, rec, tr, primary
}

func TestScenarioEnglishToSpanish(t *testing.T) {
	p, rec, tr, _ := defaultProviders()
	observer := &fakeObserver{}
	h := startSession(t, testConfig(t), p, Options{Observer: observer})

	h.configure(t, "en", "es")
	rc := rec.conn(t, 0)
	rc.final("Good morning everyone, how are you today?")

	waitFor(t, "audio frame", func() bool { return h.conn.binaryCount() == 1 })

	transcriptAt, translatedAt, audioAt := -1, -1, -1
	finals, translations := 0, 0
	for i, f := range h.conn.frames() {
		if f.messageType == websocket.BinaryMessage {
			audioAt = i
			continue
		}
		switch {
		case strings.Contains(string(f.data), `"type":"transcript"`) && strings.Contains(string(f.data), `"is_final":true`):
			transcriptAt = i
			finals++
		case strings.Contains(string(f.data), `"type":"translated_text"`):
			translatedAt = i
			translations++
		}
	}
	if finals != 1 || translations != 1 {
		t.Fatalf("expected one final transcript and one translation, got %d/%d", finals, translations)
	}
	if !(transcriptAt < translatedAt && translatedAt < audioAt) {
		t.Fatalf("unexpected order transcript=%d translation=%d audio=%d", transcriptAt, translatedAt, audioAt)
	}

	translated := h.conn.eventsOfType(protocol.TypeTranslatedText)[0].Text
	if translated != "Buenos días a todos, ¿cómo están hoy?" {
		t.Fatalf("unexpected translation %q", translated)
	}
	if partials := h.conn.eventsOfType(protocol.TypeTranslatedTextPartial); len(partials) == 0 || partials[0].Text != "Buenos" {
		t.Fatalf("expected streamed partials, got %+v", partials)
	}

	tr.mu.Lock()
	req := tr.requests[0]
	tr.mu.Unlock()
	if req.SourceLanguage != "English" || req.TargetLanguage != "Spanish" {
		t.Fatalf("expected display names in request, got %+v", req)
	}
	if opts := rec.attempts()[0]; opts.Language != "en" || opts.TargetLanguage != "" {
		t.Fatalf("unexpected recognizer options %+v", opts)
	}

	mirrored := observer.snapshot()
	if len(mirrored) == 0 || mirrored[0].Type != protocol.TypeTranscript || mirrored[0].SessionID != h.sess.ID() || mirrored[0].TargetLang != "es" {
		t.Fatalf("unexpected mirrored events %+v", mirrored)
	}
}

func TestPartialTranscriptsAreForwardedNotBuffered(t *testing.T) {
	p, rec, tr, _ := defaultProviders()
	h := startSession(t, testConfig(t), p, Options{})

	h.configure(t, "en", "es")
	rc := rec.conn(t, 0)
	rc.events <- stt.Event{Kind: stt.EventTranscript, Text: "good morn"}
	rc.events <- stt.Event{Kind: stt.EventTranscript, Text: "short"}
	rc.events <- stt.Event{Kind: stt.EventTranscript, Text: "Fine", Final: true}

	waitFor(t, "transcripts", func() bool { return len(h.conn.eventsOfType(protocol.TypeTranscript)) == 3 })
	events := h.conn.eventsOfType(protocol.TypeTranscript)
	if *events[0].IsFinal || *events[1].IsFinal || !*events[2].IsFinal {
		t.Fatalf("unexpected finality %+v", events)
	}
	if h.sess.acc.Pending() != "Fine" {
		t.Fatalf("expected only final text buffered, got %q", h.sess.acc.Pending())
	}
	if len(tr.texts()) != 0 {
		t.Fatal("no job should run below the threshold")
	}
}

func TestPostDisconnectSilence(t *testing.T) {
	p, rec, _, primary := defaultProviders()
	primary.gate = make(chan struct{})
	log := &callLog{}
	primary.log = log
	recorder := &fakeRecorder{}
	h := startSession(t, testConfig(t), p, Options{Recorder: recorder})

	h.configure(t, "en", "es")
	rc := rec.conn(t, 0)
	rc.final("Hello there everyone.")
	waitFor(t, "synthesis start", func() bool { return len(log.startedNames()) == 1 })

	h.conn.disconnect()
	waitFor(t, "connection closed", func() bool { return !h.sess.out.isOpen() })

	rc.final("Are you still there?")
	close(primary.gate)
	h.wait(t)

	if n := h.conn.lateWriteCount(); n != 0 {
		t.Fatalf("expected no sends after disconnect, got %d", n)
	}
	if h.conn.binaryCount() != 0 {
		t.Fatal("audio must not be delivered after disconnect")
	}
	if h.sess.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", h.sess.State())
	}
	if !rc.closed.Load() || !primary.closed.Load() {
		t.Fatal("expected recognizer and synthesizer closed")
	}
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.reasons) != 1 || recorder.reasons[0] != ReasonClientDisconnect {
		t.Fatalf("unexpected close reasons %v", recorder.reasons)
	}
	if !slices.Contains(recorder.events, eventstore.TypeConfigured) || !slices.Contains(recorder.events, eventstore.TypeJob) || !slices.Contains(recorder.events, eventstore.TypeClosed) {
		t.Fatalf("unexpected timeline %v", recorder.events)
	}
}

func TestJobsNeverOverlap(t *testing.T) {
	p, rec, _, primary := defaultProviders()
	log := &callLog{}
	primary.log = log
	primary.delay = 40 * time.Millisecond
	h := startSession(t, testConfig(t), p, Options{})

	h.configure(t, "en", "es")
	rc := rec.conn(t, 0)
	rc.final("First sentence here.")
	waitFor(t, "first synthesis", func() bool { return len(log.startedNames()) == 1 })
	rc.final("Second sentence here.")

	waitFor(t, "both syntheses", func() bool { return len(log.finished()) == 2 })
	calls := log.finished()
	if calls[1].start.Before(calls[0].end) {
		t.Fatalf("synthesis overlapped: second started %v before first ended %v", calls[1].start, calls[0].end)
	}
}

func TestWaitingJobsCoalesce(t *testing.T) {
	p, rec, tr, _ := defaultProviders()
	gate := make(chan struct{})
	tr.set(func(f *fakeTranslator) { f.gate = gate })
	h := startSession(t, testConfig(t), p, Options{})

	h.configure(t, "en", "es")
	rc := rec.conn(t, 0)
	rc.final("Alpha one.")
	waitFor(t, "first translation", func() bool { return len(tr.texts()) == 1 })

	rc.final("Bravo two.")
	rc.final("Charlie three.")
	waitFor(t, "latest job waiting", func() bool {
		h.sess.queue.mu.Lock()
		defer h.sess.queue.mu.Unlock()
		return h.sess.queue.slot != nil && h.sess.queue.slot.Text == "Charlie three."
	})
	close(gate)

	waitFor(t, "two jobs", func() bool { return h.conn.binaryCount() == 2 })
	if got := tr.texts(); !slices.Equal(got, []string{"Alpha one.", "Charlie three."}) {
		t.Fatalf("expected superseded job dropped, translated %v", got)
	}
}

func TestFallbackChainWithClonedVoice(t *testing.T) {
	log := &callLog{}
	rec := &fakeRecognizer{}
	p := Providers{
		Recognizer: rec,
		Translator: &fakeTranslator{chunks: func(string) []string { return []string{"Hola"} }},
		Clone:      &fakeSynth{name: "clone", err: errors.New("voice not found"), log: log},
		Primary:    &fakeSynth{name: "primary", err: errors.New("status 500"), log: log},
		Secondary:  &fakeSynth{name: "secondary", audio: []byte("secondary-audio"), log: log},
	}
	lookup := fakeVoices{profiles: map[string]voices.Profile{
		"alice": {UserID: "alice", VoiceID: "voice-123", Status: voices.StatusReady},
	}}
	h := startSession(t, testConfig(t), p, Options{Voices: lookup})

	h.conn.sendJSON(t, map[string]any{"type": "config", "source_lang": "en", "target_lang": "es", "user_id": "alice"})
	rec.conn(t, 0).final("Hello.")
	waitFor(t, "audio", func() bool { return h.conn.binaryCount() == 1 })

	if got := log.startedNames(); !slices.Equal(got, []string{"clone", "primary", "secondary"}) {
		t.Fatalf("unexpected provider order %v", got)
	}
	if calls := log.finished(); calls[0].voice != "voice-123" || calls[1].voice != "" {
		t.Fatalf("voice identity must reach only the clone: %+v", calls)
	}
	for _, f := range h.conn.frames() {
		if f.messageType == websocket.BinaryMessage && string(f.data) != "secondary-audio" {
			t.Fatalf("unexpected audio %q", f.data)
		}
	}
	if len(h.conn.eventsOfType(protocol.TypeError)) != 0 {
		t.Fatal("a provider failure followed by audio must not surface an error")
	}
}

func TestSecondaryProviderSelectedFirst(t *testing.T) {
	log := &callLog{}
	rec := &fakeRecognizer{}
	p := Providers{
		Recognizer: rec,
		Translator: &fakeTranslator{chunks: spanishChunks},
		Primary:    &fakeSynth{name: "primary", audio: []byte("p"), log: log},
		Secondary:  &fakeSynth{name: "secondary", audio: []byte("s"), log: log},
	}
	h := startSession(t, testConfig(t), p, Options{})

	h.conn.sendJSON(t, map[string]any{"type": "config", "source_lang": "en", "target_lang": "es", "tts_provider": "secondary"})
	rec.conn(t, 0).final("Hello.")
	waitFor(t, "audio", func() bool { return h.conn.binaryCount() == 1 })
	if got := log.startedNames(); !slices.Equal(got, []string{"secondary"}) {
		t.Fatalf("expected secondary only, got %v", got)
	}
}

func TestSynthesisFailureReportsError(t *testing.T) {
	rec := &fakeRecognizer{}
	p := Providers{
		Recognizer: rec,
		Translator: &fakeTranslator{chunks: spanishChunks},
		Primary:    &fakeSynth{name: "primary", err: errors.New("status 503")},
		Secondary:  &fakeSynth{name: "secondary"},
	}
	h := startSession(t, testConfig(t), p, Options{})

	h.configure(t, "en", "es")
	rec.conn(t, 0).final("Hello.")
	waitFor(t, "error event", func() bool { return len(h.conn.eventsOfType(protocol.TypeError)) == 1 })
	if msg := h.conn.eventsOfType(protocol.TypeError)[0].Message; !strings.Contains(msg, "status 503") {
		t.Fatalf("unexpected error message %q", msg)
	}
	if len(h.conn.eventsOfType(protocol.TypeTranslatedText)) != 1 || h.conn.binaryCount() != 0 {
		t.Fatal("expected translation without audio")
	}
}

func TestNoAudioIsSilent(t *testing.T) {
	rec := &fakeRecognizer{}
	p := Providers{
		Recognizer: rec,
		Translator: &fakeTranslator{chunks: spanishChunks},
		Primary:    &fakeSynth{name: "primary"},
		Secondary:  &fakeSynth{name: "secondary"},
	}
	recorder := &fakeRecorder{}
	h := startSession(t, testConfig(t), p, Options{Recorder: recorder})

	h.configure(t, "en", "es")
	rec.conn(t, 0).final("Hello.")
	waitFor(t, "job recorded", func() bool {
		recorder.mu.Lock()
		defer recorder.mu.Unlock()
		return slices.Contains(recorder.events, eventstore.TypeJob)
	})
	if len(h.conn.eventsOfType(protocol.TypeError)) != 0 || h.conn.binaryCount() != 0 {
		t.Fatal("expected neither audio nor error")
	}
}

func TestTranslationErrorAbandonsJobOnly(t *testing.T) {
	p, rec, tr, _ := defaultProviders()
	tr.set(func(f *fakeTranslator) { f.err = errors.New("minimax: status 429") })
	h := startSession(t, testConfig(t), p, Options{})

	h.configure(t, "en", "es")
	rc := rec.conn(t, 0)
	rc.final("First attempt.")
	waitFor(t, "error event", func() bool { return len(h.conn.eventsOfType(protocol.TypeError)) == 1 })
	if h.conn.binaryCount() != 0 || len(h.conn.eventsOfType(protocol.TypeTranslatedText)) != 0 {
		t.Fatal("failed job must not produce output")
	}

	tr.set(func(f *fakeTranslator) { f.err = nil })
	rc.final("Second attempt.")
	waitFor(t, "recovered job", func() bool { return h.conn.binaryCount() == 1 })
}

func TestEmptyStreamFallsBackToSingleShot(t *testing.T) {
	p, rec, tr, _ := defaultProviders()
	tr.set(func(f *fakeTranslator) {
		f.chunks = nil
		f.single = "  Hola a todos  "
	})
	h := startSession(t, testConfig(t), p, Options{})

	h.configure(t, "en", "es")
	rec.conn(t, 0).final("Hello everyone.")
	waitFor(t, "translation", func() bool { return len(h.conn.eventsOfType(protocol.TypeTranslatedText)) == 1 })

	if got := h.conn.eventsOfType(protocol.TypeTranslatedText)[0].Text; got != "Hola a todos" {
		t.Fatalf("unexpected translation %q", got)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.singles != 1 {
		t.Fatalf("expected one single-shot call, got %d", tr.singles)
	}
}

func TestRepeatedTokensSurviveStreaming(t *testing.T) {
	p, rec, tr, primary := defaultProviders()
	log := &callLog{}
	primary.log = log
	tr.set(func(f *fakeTranslator) {
		f.chunks = func(string) []string {
			return []string{"你", "你好", "你好，", "你好，你", "你好，你好", "你好，你好吗", "你好，你好吗"}
		}
	})
	h := startSession(t, testConfig(t), p, Options{})

	h.configure(t, "en", "zh")
	rec.conn(t, 0).final("Hello, how are you?")
	waitFor(t, "audio", func() bool { return h.conn.binaryCount() == 1 })

	if got := h.conn.eventsOfType(protocol.TypeTranslatedText)[0].Text; got != "你好，你好吗" {
		t.Fatalf("unexpected translation %q", got)
	}
	partials := h.conn.eventsOfType(protocol.TypeTranslatedTextPartial)
	if len(partials) == 0 || partials[len(partials)-1].Text != "你好，你好吗" {
		t.Fatalf("unexpected partials %+v", partials)
	}
	if calls := log.finished(); len(calls) != 1 || calls[0].text != "你好，你好吗" {
		t.Fatalf("unexpected synthesis calls %+v", calls)
	}
}

func TestTranscriptEchoedVerbatim(t *testing.T) {
	p, rec, _, _ := defaultProviders()
	h := startSession(t, testConfig(t), p, Options{})

	h.configure(t, "en", "es")
	rc := rec.conn(t, 0)
	rc.events <- stt.Event{Kind: stt.EventTranscript, Text: " good "}
	rc.events <- stt.Event{Kind: stt.EventTranscript, Text: " Fine ", Final: true}

	waitFor(t, "transcripts", func() bool { return len(h.conn.eventsOfType(protocol.TypeTranscript)) == 2 })
	events := h.conn.eventsOfType(protocol.TypeTranscript)
	if events[0].Text != " good " || events[1].Text != " Fine " {
		t.Fatalf("expected untrimmed text, got %+v", events)
	}
	if h.sess.acc.Pending() != "Fine" {
		t.Fatalf("expected trimmed text buffered, got %q", h.sess.acc.Pending())
	}
}

func TestRecognizerTranslationMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.TranslateViaRecognizer = true
	p, rec, tr, _ := defaultProviders()
	h := startSession(t, cfg, p, Options{})

	h.configure(t, "en", "es")
	rc := rec.conn(t, 0)
	if opts := rec.attempts()[0]; opts.TargetLanguage != "es" {
		t.Fatalf("expected recognizer translation target, got %+v", opts)
	}

	rc.events <- stt.Event{Kind: stt.EventTranslation, Text: "Buenos"}
	rc.final("Good morning.")
	rc.events <- stt.Event{Kind: stt.EventTranslation, Text: "Buenos días.", Final: true}

	waitFor(t, "audio", func() bool { return h.conn.binaryCount() == 1 })
	if partials := h.conn.eventsOfType(protocol.TypeTranslatedTextPartial); len(partials) != 1 || partials[0].Text != "Buenos" {
		t.Fatalf("unexpected partials %+v", partials)
	}
	if finals := h.conn.eventsOfType(protocol.TypeTranslatedText); len(finals) != 1 || finals[0].Text != "Buenos días." {
		t.Fatalf("unexpected translations %+v", finals)
	}
	if len(tr.texts()) != 0 {
		t.Fatal("translator must not run when the recognizer translates")
	}
	if h.sess.acc.Pending() != "" {
		t.Fatal("accumulator must stay empty when the recognizer translates")
	}
}

func TestMalformedFrameReportsError(t *testing.T) {
	p, _, _, _ := defaultProviders()
	h := startSession(t, testConfig(t), p, Options{})

	h.conn.sendText("{not json")
	h.conn.sendText(`{"type":"ping"}`)
	waitFor(t, "error events", func() bool { return len(h.conn.eventsOfType(protocol.TypeError)) == 2 })
	if h.sess.State() != StateConnecting {
		t.Fatalf("session must stay unconfigured, got %s", h.sess.State())
	}
}

func TestRecognizerConnectFailureKeepsSession(t *testing.T) {
	p, rec, _, _ := defaultProviders()
	rec.setErr(errors.New("handshake refused"))
	h := startSession(t, testConfig(t), p, Options{})

	h.configure(t, "en", "es")
	waitFor(t, "error event", func() bool { return len(h.conn.eventsOfType(protocol.TypeError)) == 1 })
	if msg := h.conn.eventsOfType(protocol.TypeError)[0].Message; !strings.Contains(msg, "handshake refused") {
		t.Fatalf("unexpected message %q", msg)
	}
	h.conn.sendAudio(make([]byte, 640))

	rec.setErr(nil)
	h.configure(t, "en", "es")
	rc := rec.conn(t, 0)
	h.conn.sendAudio(make([]byte, 640))
	waitFor(t, "audio forwarded", func() bool { return rc.frames.Load() == 1 })
}

func TestAudioBeforeConfigIsDropped(t *testing.T) {
	p, rec, _, _ := defaultProviders()
	h := startSession(t, testConfig(t), p, Options{})

	h.conn.sendAudio(make([]byte, 640))
	h.configure(t, "en", "es")
	rc := rec.conn(t, 0)
	waitFor(t, "configured", func() bool { return h.sess.State() == StateConfigured })

	h.conn.sendAudio(make([]byte, 640))
	h.conn.sendAudio(make([]byte, 640))
	waitFor(t, "frames", func() bool { return rc.frames.Load() == 2 })
	waitFor(t, "streaming", func() bool { return h.sess.State() == StateStreaming })
}

func TestAudioRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.MaxAudioFramesPerSec = 2
	p, rec, _, _ := defaultProviders()
	h := startSession(t, cfg, p, Options{})

	h.configure(t, "en", "es")
	rc := rec.conn(t, 0)
	for i := 0; i < 10; i++ {
		h.conn.sendAudio(make([]byte, 640))
	}
	waitFor(t, "burst forwarded", func() bool { return rc.frames.Load() >= 2 })
	time.Sleep(50 * time.Millisecond)
	if n := rc.frames.Load(); n >= 10 {
		t.Fatalf("expected frames over budget dropped, forwarded %d", n)
	}
}

func TestReconfigureReplacesRecognizer(t *testing.T) {
	p, rec, _, _ := defaultProviders()
	h := startSession(t, testConfig(t), p, Options{})

	h.configure(t, "en", "es")
	first := rec.conn(t, 0)
	first.final("hello there")
	waitFor(t, "buffered", func() bool { return h.sess.acc.Pending() == "hello there" })

	h.configure(t, "en", "fr")
	second := rec.conn(t, 1)
	if !first.closed.Load() {
		t.Fatal("expected previous recognizer closed")
	}
	if h.sess.acc.Pending() != "hello there" {
		t.Fatal("same source language must keep buffered text")
	}
	if st := h.sess.snapshot(); st.TargetLang != "fr" {
		t.Fatalf("expected target updated, got %+v", st)
	}

	h.configure(t, "de", "fr")
	rec.conn(t, 2)
	if !second.closed.Load() {
		t.Fatal("expected second recognizer closed")
	}
	if h.sess.acc.Pending() != "" {
		t.Fatalf("source change must reset buffered text, got %q", h.sess.acc.Pending())
	}
}

func TestReconfigureDoesNotCancelRunningJob(t *testing.T) {
	p, rec, tr, _ := defaultProviders()
	gate := make(chan struct{})
	tr.set(func(f *fakeTranslator) { f.gate = gate })
	h := startSession(t, testConfig(t), p, Options{})

	h.configure(t, "en", "es")
	rec.conn(t, 0).final("Keep going.")
	waitFor(t, "translation started", func() bool { return len(tr.texts()) == 1 })

	h.configure(t, "en", "fr")
	rec.conn(t, 1)
	close(gate)
	waitFor(t, "audio", func() bool { return h.conn.binaryCount() == 1 })
}

func TestServerShutdownDeliversPendingText(t *testing.T) {
	p, rec, tr, _ := defaultProviders()
	h := startSession(t, testConfig(t), p, Options{})

	h.configure(t, "en", "es")
	rec.conn(t, 0).final("hello there")
	waitFor(t, "buffered", func() bool { return h.sess.acc.Pending() == "hello there" })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	h.wait(t)

	if got := tr.texts(); !slices.Equal(got, []string{"hello there"}) {
		t.Fatalf("expected pending text translated, got %v", got)
	}
	frames := h.conn.frames()
	if h.conn.binaryCount() != 1 {
		t.Fatal("expected final audio delivered before close")
	}
	if last := frames[len(frames)-1]; last.messageType != websocket.CloseMessage {
		t.Fatalf("expected close frame last, got type %d", last.messageType)
	}
}

func TestDisconnectPurgesPendingText(t *testing.T) {
	p, rec, tr, _ := defaultProviders()
	h := startSession(t, testConfig(t), p, Options{})

	h.configure(t, "en", "es")
	rec.conn(t, 0).final("hello there")
	waitFor(t, "buffered", func() bool { return h.sess.acc.Pending() == "hello there" })

	h.conn.disconnect()
	h.wait(t)
	if len(tr.texts()) != 0 {
		t.Fatal("pending text must not be translated after the client left")
	}
	if !tr.closed.Load() {
		t.Fatal("expected translator closed")
	}
}
