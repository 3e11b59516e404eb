package interpreter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/eventstore"
	"github.com/loqalabs/loqa-interpreter/internal/lang"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
	"github.com/loqalabs/loqa-interpreter/internal/translate"
	"github.com/loqalabs/loqa-interpreter/internal/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// runJob translates (unless the text is already translated) and speaks one
// job. Failures are reported to the client and end the job, not the session.
func (s *Session) runJob(ctx context.Context, job Job) {
	st := s.snapshot()
	ctx, span := s.metrics.tracer.Start(ctx, "interpreter.job", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.String("source_lang", st.SourceLang),
		attribute.String("target_lang", st.TargetLang),
		attribute.Bool("synthesize_only", job.SynthesizeOnly),
	))
	defer span.End()

	outcome := "ok"
	record := map[string]any{"text": job.Text}
	defer func() {
		record["outcome"] = outcome
		s.metrics.jobDone(ctx, outcome)
		s.appendEvent(ctx, eventstore.TypeJob, record)
	}()

	translated := job.Text
	if !job.SynthesizeOnly {
		started := s.now()
		out, err := s.translate(ctx, job.Text, st)
		if err != nil {
			outcome = "translate_error"
			record["error"] = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, "translation failed")
			s.log.Warn("translation failed", slogError(err))
			s.out.sendEvent(protocol.ErrorEvent("translation failed: " + err.Error()))
			return
		}
		s.metrics.translationLatency.Record(ctx, float64(s.now().Sub(started).Milliseconds()))
		if out == "" {
			outcome = "empty_translation"
			return
		}
		translated = out
		record["translation"] = translated
		s.out.sendEvent(protocol.TranslationEvent(translated))
	}

	res, err := s.synthesize(ctx, translated, st)
	switch {
	case len(res.Audio) > 0:
		record["provider"] = res.Provider
		record["audio_bytes"] = len(res.Audio)
		s.out.sendAudio(res.Audio)
		if d, ok := tts.Duration(res.Audio); ok {
			s.metrics.audioSeconds.Add(ctx, d.Seconds())
		}
	case err != nil:
		outcome = "synthesis_error"
		record["error"] = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		s.out.sendEvent(protocol.ErrorEvent("speech synthesis failed: " + err.Error()))
	default:
		outcome = "no_audio"
		s.log.Info("no synthesizer produced audio", slog.String("target_lang", st.TargetLang))
	}
}

// translate streams a translation, emitting throttled partials, and falls
// back to one single-shot request when the stream yields nothing.
func (s *Session) translate(ctx context.Context, text string, st settings) (string, error) {
	ctx, span := s.metrics.tracer.Start(ctx, "translate")
	defer span.End()

	req := translate.Request{
		Text:           text,
		SourceLanguage: lang.DisplayName(st.SourceLang),
		TargetLanguage: lang.DisplayName(st.TargetLang),
	}

	var norm DeltaNormalizer
	throttle := newPartialThrottle(s.cfg.PartialMinDeltaChars, time.Duration(s.cfg.PartialMinIntervalMS)*time.Millisecond, s.now)
	err := s.providers.Translator.TranslateStream(ctx, req, func(chunk string) error {
		if norm.Push(chunk) == "" {
			return nil
		}
		current := strings.TrimSpace(norm.Text())
		if current != "" && throttle.Allow(current) {
			s.out.sendEvent(protocol.PartialTranslationEvent(current))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if final := strings.TrimSpace(norm.Text()); final != "" {
		return final, nil
	}
	span.AddEvent("single-shot fallback")
	out, err := s.providers.Translator.Translate(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (s *Session) synthesize(ctx context.Context, text string, st settings) (synthesisResult, error) {
	ctx, span := s.metrics.tracer.Start(ctx, "synthesize", trace.WithAttributes(
		attribute.String("tts_provider", st.Provider.String()),
		attribute.Bool("voice_clone", st.Voice != ""),
	))
	defer span.End()

	res, err := s.chain.Synthesize(ctx, text, st.TargetLang, st.Voice, st.Provider)
	if res.Provider != "" {
		span.SetAttributes(attribute.String("provider", res.Provider))
	}
	return res, err
}
