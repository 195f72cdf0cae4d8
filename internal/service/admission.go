package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Shivanand-hulikatti/concert-rsvp/internal/capacity"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/clock"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/model"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/notify"
)

const tracerName = "github.com/Shivanand-hulikatti/concert-rsvp/internal/service"

// AdmissionRepository is the storage surface the admission controller needs.
//
// WithConcertLock runs fn with every other WithConcertLock call for the
// same concert excluded, and commits fn's writes only if fn returns nil and
// ctx is still live. Lock contention past the store's timeout surfaces as
// model.ErrBusy.
type AdmissionRepository interface {
	WithConcertLock(ctx context.Context, concertID string, fn func(ctx context.Context) error) error
	GetConcert(ctx context.Context, id string) (model.Concert, error)
	GetRSVP(ctx context.Context, id string) (model.RSVP, error)
	ListRSVPs(ctx context.Context, filter model.RSVPFilter) ([]model.RSVP, error)
	ApplyTransition(ctx context.Context, t model.Transition) error
	ListTransitions(ctx context.Context, rsvpID string) ([]model.Transition, error)
}

// Invalidator drops derived data for a concert.
type Invalidator interface {
	Invalidate(concertID string)
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(string) {}

// AdmissionService applies host decisions to RSVPs without ever letting
// approved guests exceed a concert's capacity.
type AdmissionService struct {
	repo    AdmissionRepository
	clock   clock.Clock
	emitter notify.Emitter
	cache   Invalidator
	logger  *slog.Logger
	tracer  trace.Tracer
}

// AdmissionOption configures an AdmissionService.
type AdmissionOption func(*AdmissionService)

// WithEmitter sets where transition events go after commit.
func WithEmitter(e notify.Emitter) AdmissionOption {
	return func(s *AdmissionService) {
		if e != nil {
			s.emitter = e
		}
	}
}

// WithInvalidator sets the cache dropped on every successful transition.
func WithInvalidator(inv Invalidator) AdmissionOption {
	return func(s *AdmissionService) {
		if inv != nil {
			s.cache = inv
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) AdmissionOption {
	return func(s *AdmissionService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewAdmissionService constructs an AdmissionService. Without options it
// emits nothing and invalidates nothing.
func NewAdmissionService(repo AdmissionRepository, clk clock.Clock, opts ...AdmissionOption) *AdmissionService {
	s := &AdmissionService{
		repo:    repo,
		clock:   clk,
		emitter: notify.Nop{},
		cache:   nopInvalidator{},
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetRSVP returns one RSVP or model.ErrNotFound.
func (s *AdmissionService) GetRSVP(ctx context.Context, id string) (model.RSVP, error) {
	return s.repo.GetRSVP(ctx, id)
}

// ListRSVPs returns RSVPs matching filter, oldest request first.
func (s *AdmissionService) ListRSVPs(ctx context.Context, filter model.RSVPFilter) ([]model.RSVP, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &model.ValidationError{Field: "status", Reason: "unknown status " + string(filter.Status)}
	}
	return s.repo.ListRSVPs(ctx, filter)
}

// History returns the applied transitions of one RSVP, oldest first.
func (s *AdmissionService) History(ctx context.Context, rsvpID string) ([]model.Transition, error) {
	if _, err := s.repo.GetRSVP(ctx, rsvpID); err != nil {
		return nil, err
	}
	return s.repo.ListTransitions(ctx, rsvpID)
}

// Approve admits a PENDING or WAITLISTED RSVP if its guests fit.
func (s *AdmissionService) Approve(ctx context.Context, rsvpID string) (model.RSVP, error) {
	return s.transition(ctx, "approve", rsvpID, model.StatusApproved, "")
}

// Decline rejects a PENDING or WAITLISTED RSVP, optionally with a note of
// at most model.MaxHostResponseLength characters.
func (s *AdmissionService) Decline(ctx context.Context, rsvpID, hostResponse string) (model.RSVP, error) {
	return s.transition(ctx, "decline", rsvpID, model.StatusDeclined, hostResponse)
}

// Waitlist parks a PENDING RSVP. Capacity is not consulted.
func (s *AdmissionService) Waitlist(ctx context.Context, rsvpID string) (model.RSVP, error) {
	return s.transition(ctx, "waitlist", rsvpID, model.StatusWaitlisted, "")
}

func (s *AdmissionService) transition(ctx context.Context, op, rsvpID string, to model.RSVPStatus, hostResponse string) (model.RSVP, error) {
	ctx, span := s.tracer.Start(ctx, "admission."+op, trace.WithAttributes(
		attribute.String("rsvp.id", rsvpID),
		attribute.String("rsvp.to", string(to)),
	))
	defer span.End()

	fail := func(err error) (model.RSVP, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return model.RSVP{}, err
	}

	current, err := s.repo.GetRSVP(ctx, rsvpID)
	if err != nil {
		return fail(err)
	}
	if !model.CanTransition(current.Status, to) {
		return fail(&model.TransitionError{From: current.Status, To: to})
	}
	if err := model.ValidateHostResponse(hostResponse); err != nil {
		return fail(err)
	}
	span.SetAttributes(attribute.String("concert.id", current.ConcertID))

	var (
		applied model.Transition
		updated model.RSVP
	)
	err = s.repo.WithConcertLock(ctx, current.ConcertID, func(txCtx context.Context) error {
		// Re-read under the lock: another host action may have won while we waited.
		rsvp, err := s.repo.GetRSVP(txCtx, rsvpID)
		if err != nil {
			return err
		}
		if !model.CanTransition(rsvp.Status, to) {
			return &model.TransitionError{From: rsvp.Status, To: to}
		}

		if to == model.StatusApproved {
			if err := s.checkCapacity(txCtx, rsvp); err != nil {
				return err
			}
		}

		now := s.clock.Now()
		applied = model.Transition{
			ID:           uuid.NewString(),
			RSVPID:       rsvp.ID,
			ConcertID:    rsvp.ConcertID,
			FanID:        rsvp.FanID,
			From:         rsvp.Status,
			To:           to,
			HostResponse: hostResponse,
			OccurredAt:   now,
		}
		if err := s.repo.ApplyTransition(txCtx, applied); err != nil {
			return err
		}

		rsvp.Status = to
		rsvp.StatusUpdatedAt = now
		if hostResponse != "" {
			rsvp.HostResponse = hostResponse
		}
		updated = rsvp
		return nil
	})
	if err != nil {
		return fail(err)
	}

	s.cache.Invalidate(updated.ConcertID)
	// The transition is committed; the caller going away must not lose the event.
	s.emitter.Emit(context.WithoutCancel(ctx), applied)

	s.logger.InfoContext(ctx, "rsvp transition applied",
		"rsvp_id", updated.ID,
		"concert_id", updated.ConcertID,
		"from", applied.From,
		"to", applied.To,
		"guests", updated.GuestsCount,
	)
	return updated, nil
}

func (s *AdmissionService) checkCapacity(ctx context.Context, rsvp model.RSVP) error {
	concert, err := s.repo.GetConcert(ctx, rsvp.ConcertID)
	if err != nil {
		return fmt.Errorf("load concert: %w", err)
	}
	rsvps, err := s.repo.ListRSVPs(ctx, model.RSVPFilter{ConcertID: rsvp.ConcertID})
	if err != nil {
		return fmt.Errorf("list concert rsvps: %w", err)
	}

	approved := capacity.ApprovedGuestsExcluding(rsvps, rsvp.ID)
	available, ok := capacity.CanAdmit(concert.MaxCapacity, approved, rsvp.GuestsCount)
	if !ok {
		return &model.CapacityError{Requested: rsvp.GuestsCount, Available: available}
	}
	return nil
}
