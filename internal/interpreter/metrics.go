package interpreter

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-interpreter/interpreter"

type instruments struct {
	tracer trace.Tracer

	activeSessions     metric.Int64UpDownCounter
	jobsEnqueued       metric.Int64Counter
	jobsEvicted        metric.Int64Counter
	jobsCompleted      metric.Int64Counter
	translationLatency metric.Float64Histogram
	synthesisAttempts  metric.Int64Counter
	droppedFrames      metric.Int64Counter
	audioSeconds       metric.Float64Counter
}

func newInstruments(log *slog.Logger) *instruments {
	meter := otel.Meter(instrumentationName)
	in := &instruments{tracer: otel.Tracer(instrumentationName)}

	var errs []error
	var err error
	in.activeSessions, err = meter.Int64UpDownCounter("interpreter.sessions.active", metric.WithDescription("Live interpreting sessions"))
	errs = append(errs, err)
	in.jobsEnqueued, err = meter.Int64Counter("interpreter.jobs.enqueued", metric.WithDescription("Translation jobs queued"))
	errs = append(errs, err)
	in.jobsEvicted, err = meter.Int64Counter("interpreter.jobs.evicted", metric.WithDescription("Waiting jobs replaced by newer text"))
	errs = append(errs, err)
	in.jobsCompleted, err = meter.Int64Counter("interpreter.jobs.completed", metric.WithDescription("Jobs finished by outcome"))
	errs = append(errs, err)
	in.translationLatency, err = meter.Float64Histogram("interpreter.translation.latency", metric.WithUnit("ms"), metric.WithDescription("Time to final translation"))
	errs = append(errs, err)
	in.synthesisAttempts, err = meter.Int64Counter("interpreter.synthesis.attempts", metric.WithDescription("Synthesis calls by provider and outcome"))
	errs = append(errs, err)
	in.droppedFrames, err = meter.Int64Counter("interpreter.audio.dropped_frames", metric.WithDescription("Inbound audio frames dropped"))
	errs = append(errs, err)
	in.audioSeconds, err = meter.Float64Counter("interpreter.audio.synthesized", metric.WithUnit("s"), metric.WithDescription("Seconds of synthesized WAV audio delivered"))
	errs = append(errs, err)

	for _, err := range errs {
		if err != nil {
			log.Warn("failed to create instrument", slogError(err))
		}
	}
	return in
}

func (in *instruments) jobDone(ctx context.Context, outcome string) {
	in.jobsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (in *instruments) synthesisAttempt(ctx context.Context, provider, outcome string) {
	in.synthesisAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
