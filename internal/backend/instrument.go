package backend

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Recorder receives one observation per backend call.
type Recorder interface {
	ObserveBackendCall(provider, op string, elapsed time.Duration, err error)
}

type instrumented struct {
	next     Backend
	recorder Recorder
}

// Instrument wraps b with a tracing span and a Recorder callback per call.
func Instrument(b Backend, recorder Recorder) Backend {
	return &instrumented{next: b, recorder: recorder}
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) Complete(ctx context.Context, messages []Message) (string, error) {
	ctx, span := startSpan(ctx, i.next.Name(), "complete")
	span.SetAttributes(attribute.Int("backend.messages", len(messages)))
	start := time.Now()
	out, err := i.next.Complete(ctx, messages)
	i.finish(span, "complete", start, err)
	return out, err
}

func (i *instrumented) Summarize(ctx context.Context, prompt string) (string, error) {
	ctx, span := startSpan(ctx, i.next.Name(), "summarize")
	start := time.Now()
	out, err := i.next.Summarize(ctx, prompt)
	i.finish(span, "summarize", start, err)
	return out, err
}

func startSpan(ctx context.Context, provider, op string) (context.Context, trace.Span) {
	return otel.Tracer("guardian").Start(ctx, "backend."+op,
		trace.WithAttributes(attribute.String("backend.provider", provider)),
	)
}

func (i *instrumented) finish(span trace.Span, op string, start time.Time, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var be *Error
		if errors.As(err, &be) {
			span.SetAttributes(
				attribute.Int("http.status_code", be.Status),
				attribute.Bool("backend.retryable", be.Retryable),
			)
		}
	}
	if i.recorder != nil {
		i.recorder.ObserveBackendCall(i.next.Name(), op, time.Since(start), err)
	}
}
