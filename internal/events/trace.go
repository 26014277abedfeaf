package events

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TraceSink records each run as one span, with stages and slot attempts as
// span events.
type TraceSink struct {
	Tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

func NewTraceSink() *TraceSink {
	return &TraceSink{
		Tracer: otel.Tracer("github.com/example/court-scheduler/internal/session"),
		spans:  make(map[string]trace.Span),
	}
}

func (s *TraceSink) Emit(ctx context.Context, e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Kind == RunStarted {
		_, span := s.Tracer.Start(ctx, "booking.run", trace.WithAttributes(
			attribute.String("booking.run_id", e.RunID),
		))
		s.spans[e.RunID] = span
		return
	}
	span, ok := s.spans[e.RunID]
	if !ok {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("booking.stage", e.Stage.String())}
	if e.Slot != nil {
		attrs = append(attrs, attribute.String("booking.court", e.Slot.Court))
	}
	switch e.Kind {
	case PlayerSubmitted:
		// Names stay out of traces.
		attrs = append(attrs, attribute.String("booking.field", e.Field), attribute.Bool("booking.accepted", e.Accepted))
	case SlotsFound:
		attrs = append(attrs, attribute.Int("booking.slots", len(e.Slots)))
	}
	if e.Err != nil {
		span.RecordError(e.Err, trace.WithAttributes(attrs...))
	}
	span.AddEvent(string(e.Kind), trace.WithAttributes(attrs...))

	if e.Kind == RunFinished {
		if e.Outcome != nil && e.Outcome.Confirmed {
			span.SetStatus(codes.Ok, "confirmed")
		} else if e.Outcome != nil && e.Outcome.Failure != nil {
			span.SetStatus(codes.Error, e.Outcome.Failure.Error())
		}
		span.End()
		delete(s.spans, e.RunID)
	}
}
