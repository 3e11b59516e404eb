package interpreter

import (
	"context"
	"errors"
	"log/slog"

	"github.com/loqalabs/loqa-interpreter/internal/tts"
)

// synthesisChain tries the cloned voice, then the selected provider, then the
// other one. The first non-empty payload wins.
type synthesisChain struct {
	clone     tts.Synthesizer
	primary   tts.Synthesizer
	secondary tts.Synthesizer
	metrics   *instruments
	log       *slog.Logger
}

type synthesisResult struct {
	Audio    []byte
	Provider string
}

// Synthesize returns an error only when no provider produced audio and at
// least one stock provider failed. Clone failures are logged and skipped.
func (c *synthesisChain) Synthesize(ctx context.Context, text, language, voice string, selected TTSProvider) (synthesisResult, error) {
	if voice != "" && c.clone != nil {
		audio, err := c.attempt(ctx, c.clone, tts.Request{Text: text, Language: language, Voice: voice})
		if err != nil {
			c.log.Warn("cloned voice synthesis failed", slog.String("provider", c.clone.Name()), slogError(err))
		} else if len(audio) > 0 {
			return synthesisResult{Audio: audio, Provider: c.clone.Name()}, nil
		}
	}

	order := []tts.Synthesizer{c.primary, c.secondary}
	if selected == ProviderSecondary {
		order[0], order[1] = order[1], order[0]
	}

	var errs []error
	for _, synth := range order {
		if synth == nil {
			continue
		}
		audio, err := c.attempt(ctx, synth, tts.Request{Text: text, Language: language})
		if err != nil {
			c.log.Warn("synthesis failed", slog.String("provider", synth.Name()), slogError(err))
			errs = append(errs, err)
			continue
		}
		if len(audio) > 0 {
			return synthesisResult{Audio: audio, Provider: synth.Name()}, nil
		}
		c.log.Debug("synthesizer returned no audio", slog.String("provider", synth.Name()), slog.String("language", language))
	}
	return synthesisResult{}, errors.Join(errs...)
}

func (c *synthesisChain) attempt(ctx context.Context, synth tts.Synthesizer, req tts.Request) ([]byte, error) {
	audio, err := synth.Synthesize(ctx, req)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case len(audio) == 0:
		outcome = "empty"
	}
	c.metrics.synthesisAttempt(ctx, synth.Name(), outcome)
	return audio, err
}
