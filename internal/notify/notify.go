// Package notify hands RSVP transition events to whoever tells fans about
// them. Emitting is fire-and-forget: a failed or dropped delivery never
// undoes the transition that produced it.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Shivanand-hulikatti/concert-rsvp/internal/model"
)

// Emitter accepts transition events after they are committed.
type Emitter interface {
	Emit(ctx context.Context, t model.Transition)
}

// Sink delivers one event somewhere.
type Sink interface {
	Deliver(ctx context.Context, t model.Transition) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, t model.Transition) error

func (f SinkFunc) Deliver(ctx context.Context, t model.Transition) error {
	return f(ctx, t)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, model.Transition) {}

// LogSink records each event as a structured log line.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Deliver(ctx context.Context, t model.Transition) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "rsvp notification",
		"rsvp_id", t.RSVPID,
		"concert_id", t.ConcertID,
		"fan_id", t.FanID,
		"from", t.From,
		"to", t.To,
		"occurred_at", t.OccurredAt,
	)
	return nil
}

// Multi delivers to every sink and joins their errors.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, t model.Transition) error {
		var errs []error
		for _, s := range sinks {
			if err := s.Deliver(ctx, t); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
