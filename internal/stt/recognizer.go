package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-interpreter/internal/config"
)

// EventKind distinguishes recognizer output channels.
type EventKind int

const (
	// EventTranscript carries source-language text.
	EventTranscript EventKind = iota
	// EventTranslation carries text the recognizer translated itself.
	EventTranslation
)

func (k EventKind) String() string {
	switch k {
	case EventTranscript:
		return "transcript"
	case EventTranslation:
		return "translation"
	default:
		return "unknown"
	}
}

// Event is one recognizer result, delivered in recognizer order.
type Event struct {
	Kind  EventKind
	Text  string
	Final bool
}

// Options configure one recognizer connection.
type Options struct {
	// Language is the client-facing source language code.
	Language string
	// TargetLanguage enables the recognizer's own translation channel when set.
	TargetLanguage string
	SampleRate     int
}

// Recognizer opens streaming recognition connections.
type Recognizer interface {
	Connect(ctx context.Context, opts Options) (Connection, error)
}

// Connection is a live recognition stream. Events is closed once the
// connection stops producing results.
type Connection interface {
	SendAudio(pcm []byte) error
	Events() <-chan Event
	Connected() bool
	Close() error
}

// ErrNotConnected is returned when audio is sent to a closed connection.
var ErrNotConnected = errors.New("recognizer not connected")

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// New builds the recognizer selected by cfg.Mode.
func New(cfg config.STTConfig, log *slog.Logger) (Recognizer, error) {
	switch cfg.Mode {
	case "speechmatics":
		return NewSpeechmatics(cfg, log)
	case "exec":
		return NewExecRecognizer(cfg, log)
	case "mock":
		return NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}
