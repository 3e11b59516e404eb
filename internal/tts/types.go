package tts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
)

// Request describes one synthesis. Voice overrides the provider's default
// voice for Language when set.
type Request struct {
	Text     string
	Language string
	Voice    string
}

// Synthesizer turns text into encoded audio. A nil payload with a nil error
// means the provider has nothing to offer for this request, for example an
// unsupported language, and the caller should try another provider.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req Request) ([]byte, error)
	Close() error
}

// StatusError reports a non-success response from a synthesis backend.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// New builds a stock-voice synthesizer by provider name.
func New(name string, cfg config.TTSConfig, log *slog.Logger) (Synthesizer, error) {
	timeout := time.Duration(cfg.RequestTimeout) * time.Millisecond
	switch name {
	case "minimax":
		return NewMiniMax(cfg.MiniMax, timeout, time.Duration(cfg.EventTimeout)*time.Millisecond, log)
	case "speechmatics":
		return NewSpeechmatics(cfg.Speechmatics, timeout, log)
	case "exec":
		return NewExecSynth(cfg.Exec.Command, cfg.Exec.SampleRate, cfg.Exec.Channels)
	case "mock":
		return NewMockSynth(16000), nil
	default:
		return nil, fmt.Errorf("unsupported tts provider %q", name)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
