package stt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-interpreter/internal/lang"
)

// mockFramesPerUtterance is roughly one second of 20ms frames.
const mockFramesPerUtterance = 50

type mockRecognizer struct{}

// NewMockRecognizer returns a recognizer that produces a synthetic utterance
// for every second of audio it receives.
func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Connect(_ context.Context, opts Options) (Connection, error) {
	c := &mockConnection{
		target: lang.Normalize(opts.TargetLanguage),
		events: make(chan Event, 64),
	}
	c.connected.Store(true)
	return c, nil
}

type mockConnection struct {
	target    string
	mu        sync.Mutex
	frames    int
	bytes     int
	events    chan Event
	connected atomic.Bool
	closeOnce sync.Once
}

func (c *mockConnection) SendAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.frames++
	c.bytes += len(pcm)
	if c.frames%10 == 0 {
		c.emit(Event{Kind: EventTranscript, Text: fmt.Sprintf("mock partial %d", c.frames/10)})
	}
	if c.frames%mockFramesPerUtterance != 0 {
		return nil
	}
	text := fmt.Sprintf("Mock utterance number %d with %d bytes.", c.frames/mockFramesPerUtterance, c.bytes)
	c.emit(Event{Kind: EventTranscript, Text: text, Final: true})
	if c.target != "" {
		c.emit(Event{Kind: EventTranslation, Text: fmt.Sprintf("[%s] %s", c.target, text), Final: true})
	}
	c.bytes = 0
	return nil
}

func (c *mockConnection) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

func (c *mockConnection) Events() <-chan Event {
	return c.events
}

func (c *mockConnection) Connected() bool {
	return c.connected.Load()
}

func (c *mockConnection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.connected.Store(false)
		close(c.events)
		c.mu.Unlock()
	})
	return nil
}
