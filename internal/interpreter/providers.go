package interpreter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/eventstore"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
	"github.com/loqalabs/loqa-interpreter/internal/stt"
	"github.com/loqalabs/loqa-interpreter/internal/translate"
	"github.com/loqalabs/loqa-interpreter/internal/tts"
	"github.com/loqalabs/loqa-interpreter/internal/voices"
	"golang.org/x/sync/errgroup"
)

// Providers are the collaborator clients owned by one session.
type Providers struct {
	Recognizer stt.Recognizer
	Translator translate.Translator
	Primary    tts.Synthesizer
	Secondary  tts.Synthesizer
	// Clone speaks with a user's cloned voice. Optional.
	Clone tts.Synthesizer
}

// ProviderFactory builds a fresh set of clients for a new session. An error
// means the relay is misconfigured and no session can be established.
type ProviderFactory func() (Providers, error)

// NewProviderFactory builds clients from configuration.
func NewProviderFactory(cfg config.Config, log *slog.Logger) ProviderFactory {
	return func() (p Providers, err error) {
		defer func() {
			if err != nil {
				_ = p.close()
			}
		}()
		recognizer, err := stt.New(cfg.STT, log)
		if err != nil {
			return p, fmt.Errorf("speech recognizer: %w", err)
		}
		p.Recognizer = recognizer
		translator, err := translate.New(cfg.Translation, log)
		if err != nil {
			return p, fmt.Errorf("translator: %w", err)
		}
		p.Translator = translator
		primary, err := tts.New(cfg.TTS.Primary, cfg.TTS, log)
		if err != nil {
			return p, fmt.Errorf("primary synthesizer: %w", err)
		}
		p.Primary = primary
		secondary, err := tts.New(cfg.TTS.Secondary, cfg.TTS, log)
		if err != nil {
			return p, fmt.Errorf("secondary synthesizer: %w", err)
		}
		p.Secondary = secondary
		if cfg.TTS.ElevenLabs.Enabled {
			clone, err := tts.NewElevenLabs(cfg.TTS.ElevenLabs, time.Duration(cfg.TTS.RequestTimeout)*time.Millisecond, log)
			if err != nil {
				return p, fmt.Errorf("voice clone synthesizer: %w", err)
			}
			p.Clone = clone
		}
		return p, nil
	}
}

// close releases every client concurrently and reports all failures.
func (p Providers) close() error {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, c := range []io.Closer{p.Translator, p.Primary, p.Secondary, p.Clone} {
		if c == nil {
			continue
		}
		g.Go(func() error {
			if err := c.Close(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// VoiceLookup resolves a user's cloned voice profile.
type VoiceLookup interface {
	Lookup(ctx context.Context, userID string) (voices.Profile, bool, error)
}

// Recorder keeps the session timeline.
type Recorder interface {
	StartSession(ctx context.Context, sess eventstore.Session) error
	UpdateSession(ctx context.Context, id, userID, sourceLang, targetLang string) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
	EndSession(ctx context.Context, id, reason string) error
}

// Observer receives a copy of every event delivered to a client.
type Observer interface {
	Observe(evt protocol.SessionEvent)
}
