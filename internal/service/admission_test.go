package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/concert-rsvp/internal/clock"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/model"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/repository/memory"
)

var now = time.Date(2026, 5, 2, 18, 0, 0, 0, time.UTC)

type recordingEmitter struct {
	mu     sync.Mutex
	events []model.Transition
}

func (e *recordingEmitter) Emit(_ context.Context, t model.Transition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, t)
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingInvalidator) Invalidate(concertID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[concertID]++
}

type fixture struct {
	store   *memory.Store
	svc     *AdmissionService
	emitter *recordingEmitter
	inval   *countingInvalidator
}

func newFixture(t *testing.T, maxCapacity int, rsvps ...model.RSVP) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New(memory.WithLockTimeout(time.Second))
	if err := store.CreateConcert(ctx, model.Concert{ID: "concert-1", HostID: "host-1", MaxCapacity: maxCapacity, Date: now}); err != nil {
		t.Fatalf("create concert: %v", err)
	}
	for i, r := range rsvps {
		r.ConcertID = "concert-1"
		if r.FanID == "" {
			r.FanID = "fan-" + r.ID
		}
		r.RSVPDate = now.Add(time.Duration(i) * time.Minute)
		if err := store.CreateRSVP(ctx, r); err != nil {
			t.Fatalf("create rsvp %s: %v", r.ID, err)
		}
	}

	emitter := &recordingEmitter{}
	inval := &countingInvalidator{}
	svc := NewAdmissionService(store, clock.NewFixed(now), WithEmitter(emitter), WithInvalidator(inval))
	return fixture{store: store, svc: svc, emitter: emitter, inval: inval}
}

func rsvp(id string, guests int, status model.RSVPStatus) model.RSVP {
	return model.RSVP{ID: id, GuestsCount: guests, Status: status}
}

func TestAdmissionService_Approve(t *testing.T) {
	t.Parallel()

	t.Run("approves when guests fit", func(t *testing.T) {
		f := newFixture(t, 20,
			rsvp("approved", 10, model.StatusApproved),
			rsvp("pending", 5, model.StatusPending),
		)

		got, err := f.svc.Approve(context.Background(), "pending")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Status != model.StatusApproved {
			t.Fatalf("expected APPROVED, got %s", got.Status)
		}
		if !got.StatusUpdatedAt.Equal(now) {
			t.Fatalf("expected status_updated_at %v, got %v", now, got.StatusUpdatedAt)
		}
		if f.emitter.count() != 1 {
			t.Fatalf("expected one event, got %d", f.emitter.count())
		}
		if f.inval.calls["concert-1"] != 1 {
			t.Fatalf("expected cache invalidated once, got %d", f.inval.calls["concert-1"])
		}
	})

	t.Run("exact fit is allowed", func(t *testing.T) {
		f := newFixture(t, 20,
			rsvp("approved", 18, model.StatusApproved),
			rsvp("pending", 2, model.StatusPending),
		)
		if _, err := f.svc.Approve(context.Background(), "pending"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("capacity exceeded carries shortfall", func(t *testing.T) {
		f := newFixture(t, 20,
			rsvp("approved", 18, model.StatusApproved),
			rsvp("pending", 3, model.StatusPending),
		)

		_, err := f.svc.Approve(context.Background(), "pending")
		var capErr *model.CapacityError
		if !errors.As(err, &capErr) {
			t.Fatalf("expected CapacityError, got %v", err)
		}
		if capErr.Requested != 3 || capErr.Available != 2 || capErr.Shortfall() != 1 {
			t.Fatalf("unexpected capacity error %+v", capErr)
		}

		got, _ := f.svc.GetRSVP(context.Background(), "pending")
		if got.Status != model.StatusPending {
			t.Fatalf("expected PENDING after rejection, got %s", got.Status)
		}
		if f.emitter.count() != 0 {
			t.Fatalf("expected no event, got %d", f.emitter.count())
		}
	})

	t.Run("waitlisted can be promoted", func(t *testing.T) {
		f := newFixture(t, 10, rsvp("waiting", 4, model.StatusWaitlisted))
		got, err := f.svc.Approve(context.Background(), "waiting")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Status != model.StatusApproved {
			t.Fatalf("expected APPROVED, got %s", got.Status)
		}
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t, 10)
		_, err := f.svc.Approve(context.Background(), "missing")
		if !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestAdmissionService_TerminalStates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status model.RSVPStatus
		call   func(*AdmissionService, string) (model.RSVP, error)
	}{
		{"approve approved", model.StatusApproved, func(s *AdmissionService, id string) (model.RSVP, error) { return s.Approve(context.Background(), id) }},
		{"decline approved", model.StatusApproved, func(s *AdmissionService, id string) (model.RSVP, error) { return s.Decline(context.Background(), id, "") }},
		{"waitlist approved", model.StatusApproved, func(s *AdmissionService, id string) (model.RSVP, error) { return s.Waitlist(context.Background(), id) }},
		{"approve declined", model.StatusDeclined, func(s *AdmissionService, id string) (model.RSVP, error) { return s.Approve(context.Background(), id) }},
		{"decline declined", model.StatusDeclined, func(s *AdmissionService, id string) (model.RSVP, error) { return s.Decline(context.Background(), id, "") }},
		{"waitlist declined", model.StatusDeclined, func(s *AdmissionService, id string) (model.RSVP, error) { return s.Waitlist(context.Background(), id) }},
		{"waitlist waitlisted", model.StatusWaitlisted, func(s *AdmissionService, id string) (model.RSVP, error) { return s.Waitlist(context.Background(), id) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, 50, rsvp("r", 2, tt.status))

			_, err := tt.call(f.svc, "r")
			var trErr *model.TransitionError
			if !errors.As(err, &trErr) {
				t.Fatalf("expected TransitionError, got %v", err)
			}
			if trErr.From != tt.status {
				t.Fatalf("expected from %s, got %s", tt.status, trErr.From)
			}

			got, _ := f.svc.GetRSVP(context.Background(), "r")
			if got.Status != tt.status {
				t.Fatalf("expected status unchanged, got %s", got.Status)
			}
			if f.emitter.count() != 0 {
				t.Fatalf("expected no event")
			}
		})
	}
}

func TestAdmissionService_Decline(t *testing.T) {
	t.Parallel()

	t.Run("stores host response", func(t *testing.T) {
		f := newFixture(t, 10, rsvp("r", 2, model.StatusPending))
		got, err := f.svc.Decline(context.Background(), "r", "Sorry, we're full")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Status != model.StatusDeclined || got.HostResponse != "Sorry, we're full" {
			t.Fatalf("unexpected rsvp %+v", got)
		}
		history, err := f.svc.History(context.Background(), "r")
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) != 1 || history[0].From != model.StatusPending || history[0].To != model.StatusDeclined {
			t.Fatalf("unexpected history %+v", history)
		}
	})

	t.Run("500 characters accepted", func(t *testing.T) {
		f := newFixture(t, 10, rsvp("r", 2, model.StatusWaitlisted))
		if _, err := f.svc.Decline(context.Background(), "r", strings.Repeat("a", 500)); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("501 characters rejected and nothing changes", func(t *testing.T) {
		f := newFixture(t, 10, rsvp("r", 2, model.StatusPending))
		_, err := f.svc.Decline(context.Background(), "r", strings.Repeat("a", 501))
		var vErr *model.ValidationError
		if !errors.As(err, &vErr) || vErr.Field != "host_response" {
			t.Fatalf("expected host_response ValidationError, got %v", err)
		}
		got, _ := f.svc.GetRSVP(context.Background(), "r")
		if got.Status != model.StatusPending {
			t.Fatalf("expected PENDING, got %s", got.Status)
		}
	})

	t.Run("invalid transition reported before validation", func(t *testing.T) {
		f := newFixture(t, 10, rsvp("r", 2, model.StatusApproved))
		_, err := f.svc.Decline(context.Background(), "r", strings.Repeat("a", 501))
		if !errors.Is(err, model.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})
}

func TestAdmissionService_Scenarios(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("A: mixed decisions on an empty concert", func(t *testing.T) {
		f := newFixture(t, 20,
			rsvp("r1", 5, model.StatusPending),
			rsvp("r2", 8, model.StatusPending),
			rsvp("r3", 10, model.StatusPending),
		)
		if _, err := f.svc.Approve(ctx, "r1"); err != nil {
			t.Fatalf("approve r1: %v", err)
		}
		if _, err := f.svc.Approve(ctx, "r2"); err != nil {
			t.Fatalf("approve r2: %v", err)
		}
		_, err := f.svc.Approve(ctx, "r3")
		var capErr *model.CapacityError
		if !errors.As(err, &capErr) || capErr.Available != 7 || capErr.Shortfall() != 3 {
			t.Fatalf("expected capacity error with 7 available, got %v", err)
		}
		if _, err := f.svc.Waitlist(ctx, "r3"); err != nil {
			t.Fatalf("waitlist r3: %v", err)
		}

		stats := NewStatsService(f.store, nil)
		snap, err := stats.ForConcert(ctx, "concert-1")
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if snap.ApprovedGuestsTotal != 13 || snap.AvailableSpaces != 7 || snap.WaitlistedCount != 1 {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	})

	t.Run("B: declining frees nothing, waitlisted fits later", func(t *testing.T) {
		f := newFixture(t, 10,
			rsvp("big", 6, model.StatusApproved),
			rsvp("w", 4, model.StatusWaitlisted),
			rsvp("p", 3, model.StatusPending),
		)
		if _, err := f.svc.Decline(ctx, "p", "no room"); err != nil {
			t.Fatalf("decline p: %v", err)
		}
		if _, err := f.svc.Approve(ctx, "w"); err != nil {
			t.Fatalf("approve w: %v", err)
		}

		snap, _ := NewStatsService(f.store, nil).ForConcert(ctx, "concert-1")
		if !snap.IsFull() {
			t.Fatalf("expected concert full, got %+v", snap)
		}
	})

	t.Run("C: full concert rejects even one guest", func(t *testing.T) {
		f := newFixture(t, 4,
			rsvp("full", 4, model.StatusApproved),
			rsvp("one", 1, model.StatusPending),
		)
		_, err := f.svc.Approve(ctx, "one")
		var capErr *model.CapacityError
		if !errors.As(err, &capErr) || capErr.Available != 0 || capErr.Shortfall() != 1 {
			t.Fatalf("expected shortfall 1, got %v", err)
		}
	})
}

func TestAdmissionService_ConcurrentApprovalsNeverOverbook(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 20,
		rsvp("seed", 18, model.StatusApproved),
		rsvp("a", 2, model.StatusPending),
		rsvp("b", 2, model.StatusPending),
	)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.Approve(context.Background(), id)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	var ok, full int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrCapacityExceeded):
			full++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 || full != 1 {
		t.Fatalf("expected one approval and one capacity error, got %d and %d", ok, full)
	}

	snap, _ := NewStatsService(f.store, nil).ForConcert(context.Background(), "concert-1")
	if snap.ApprovedGuestsTotal != 20 {
		t.Fatalf("expected 20 approved guests, got %d", snap.ApprovedGuestsTotal)
	}
}

func TestAdmissionService_ManyConcurrentDecisions(t *testing.T) {
	t.Parallel()

	var rsvps []model.RSVP
	for i := 0; i < 30; i++ {
		rsvps = append(rsvps, rsvp(string(rune('A'+i)), 1+i%3, model.StatusPending))
	}
	f := newFixture(t, 25, rsvps...)

	var wg sync.WaitGroup
	for _, r := range rsvps {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = f.svc.Approve(context.Background(), id)
		}(r.ID)
	}
	wg.Wait()

	snap, _ := NewStatsService(f.store, nil).ForConcert(context.Background(), "concert-1")
	if snap.ApprovedGuestsTotal > 25 {
		t.Fatalf("overbooked: %d approved guests for 25 seats", snap.ApprovedGuestsTotal)
	}
	if snap.ApprovedCount != f.emitter.count() {
		t.Fatalf("expected one event per approval, got %d approvals and %d events", snap.ApprovedCount, f.emitter.count())
	}
}

// cancellingRepo cancels the caller's context right after the transition is
// staged, before the store commits.
type cancellingRepo struct {
	AdmissionRepository
	cancel context.CancelFunc
}

func (r cancellingRepo) ApplyTransition(ctx context.Context, t model.Transition) error {
	if err := r.AdmissionRepository.ApplyTransition(ctx, t); err != nil {
		return err
	}
	r.cancel()
	return nil
}

func TestAdmissionService_CancelledBeforeCommitChangesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10, rsvp("r", 3, model.StatusPending))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	emitter := &recordingEmitter{}
	svc := NewAdmissionService(cancellingRepo{AdmissionRepository: f.store, cancel: cancel}, clock.NewFixed(now), WithEmitter(emitter))

	_, err := svc.Approve(ctx, "r")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	got, _ := f.store.GetRSVP(context.Background(), "r")
	if got.Status != model.StatusPending {
		t.Fatalf("expected PENDING, got %s", got.Status)
	}
	if emitter.count() != 0 {
		t.Fatalf("expected no event for a cancelled transition")
	}
}

func TestAdmissionService_BusyWhenLockHeld(t *testing.T) {
	t.Parallel()

	store := memory.New(memory.WithLockTimeout(10 * time.Millisecond))
	ctx := context.Background()
	_ = store.CreateConcert(ctx, model.Concert{ID: "concert-1", HostID: "host-1", MaxCapacity: 10})
	_ = store.CreateRSVP(ctx, model.RSVP{ID: "r", ConcertID: "concert-1", FanID: "fan", GuestsCount: 1, Status: model.StatusPending})
	svc := NewAdmissionService(store, clock.NewFixed(now))

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.WithConcertLock(ctx, "concert-1", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	_, err := svc.Approve(ctx, "r")
	close(release)
	if !errors.Is(err, model.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestAdmissionService_ListRSVPsRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)
	_, err := f.svc.ListRSVPs(context.Background(), model.RSVPFilter{Status: "MAYBE"})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
