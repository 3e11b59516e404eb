package translate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
)

// Request describes one translation. Languages are display names such as
// "Spanish", which is what the prompt expects.
type Request struct {
	Text           string
	SourceLanguage string
	TargetLanguage string
}

// Translator is the text translation collaborator. TranslateStream calls
// consume with the running translation each time the backend produces more
// of it, so every piece extends the one before.
type Translator interface {
	Translate(ctx context.Context, req Request) (string, error)
	TranslateStream(ctx context.Context, req Request, consume func(string) error) error
	Close() error
}

// StatusError reports a non-success response from a translation backend.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// SystemPrompt is the interpreter instruction sent with every request.
func SystemPrompt(source, target string) string {
	return "You are a real-time interpreter translating " +
		"from " + source + " to " + target + ". " +
		"Translate the following spoken text naturally and accurately. " +
		"Preserve the speaker's tone, intent, and emotional nuance. " +
		"Output ONLY the translation, nothing else. No explanations, no quotes."
}

// New builds the translator selected by cfg.Mode.
func New(cfg config.TranslationConfig, log *slog.Logger) (Translator, error) {
	timeout := time.Duration(cfg.RequestTimeout) * time.Millisecond
	switch cfg.Mode {
	case "minimax":
		return NewMiniMax(cfg, timeout, log)
	case "ollama":
		return NewOllama(cfg.Endpoint, cfg.Model, cfg.Temperature, cfg.MaxTokens, timeout), nil
	case "exec":
		return NewExec(cfg.Command)
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported translation mode %q", cfg.Mode)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
