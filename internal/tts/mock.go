package tts

import (
	"context"
	"strings"
	"time"
)

// mockSynth produces silence proportional to the text length, wrapped as WAV.
type mockSynth struct {
	sampleRate int
}

func NewMockSynth(sampleRate int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate}
}

func (m *mockSynth) Name() string { return "mock" }

func (m *mockSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, nil
	}
	// 50ms of audio per rune.
	samples := m.sampleRate / 20 * len([]rune(text))
	return encodeWAV(make([]byte, samples*2), m.sampleRate, 1)
}

func (m *mockSynth) Close() error { return nil }
