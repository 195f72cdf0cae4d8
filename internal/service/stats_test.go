package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/concert-rsvp/internal/clock"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/model"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/repository/memory"
)

func TestStatsService_ForConcertMatchesAdmissions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 20,
		rsvp("r1", 4, model.StatusPending),
		rsvp("r2", 6, model.StatusPending),
		rsvp("r3", 3, model.StatusPending),
	)
	cache := NewStatsCache(0, clock.NewFixed(now))
	stats := NewStatsService(f.store, cache)
	svc := NewAdmissionService(f.store, clock.NewFixed(now), WithInvalidator(cache))
	ctx := context.Background()

	before, err := stats.ForConcert(ctx, "concert-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if before.PendingCount != 3 || before.AvailableSpaces != 20 || before.TotalGuests != 13 {
		t.Fatalf("unexpected snapshot %+v", before)
	}

	if _, err := svc.Approve(ctx, "r2"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := svc.Decline(ctx, "r3", ""); err != nil {
		t.Fatalf("decline: %v", err)
	}

	after, err := stats.ForConcert(ctx, "concert-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := model.Snapshot{
		MaxCapacity:         20,
		ApprovedGuestsTotal: 6,
		AvailableSpaces:     14,
		PendingCount:        1,
		ApprovedCount:       1,
		DeclinedCount:       1,
		Total:               3,
		TotalGuests:         13,
	}
	if after != want {
		t.Fatalf("expected %+v, got %+v", want, after)
	}
}

func TestStatsService_ForConcertNotFound(t *testing.T) {
	t.Parallel()

	stats := NewStatsService(memory.New(), nil)
	if _, err := stats.ForConcert(context.Background(), "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatsService_ForHost(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	concerts := []model.Concert{
		{ID: "c1", HostID: "host-1", MaxCapacity: 10},
		{ID: "c2", HostID: "host-1", MaxCapacity: 15},
		{ID: "c3", HostID: "host-2", MaxCapacity: 99},
	}
	for _, c := range concerts {
		if err := store.CreateConcert(ctx, c); err != nil {
			t.Fatalf("create concert: %v", err)
		}
	}
	rsvps := []model.RSVP{
		{ID: "a", ConcertID: "c1", FanID: "f1", GuestsCount: 4, Status: model.StatusApproved},
		{ID: "b", ConcertID: "c2", FanID: "f1", GuestsCount: 5, Status: model.StatusApproved},
		{ID: "c", ConcertID: "c2", FanID: "f2", GuestsCount: 2, Status: model.StatusWaitlisted},
		{ID: "d", ConcertID: "c3", FanID: "f3", GuestsCount: 9, Status: model.StatusApproved},
	}
	for _, r := range rsvps {
		if err := store.CreateRSVP(ctx, r); err != nil {
			t.Fatalf("create rsvp: %v", err)
		}
	}

	stats := NewStatsService(store, nil)
	got, err := stats.ForHost(ctx, "host-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.MaxCapacity != 25 || got.ApprovedGuestsTotal != 9 || got.AvailableSpaces != 16 || got.WaitlistedCount != 1 || got.Total != 3 {
		t.Fatalf("unexpected host snapshot %+v", got)
	}

	empty, err := stats.ForHost(ctx, "host-nobody")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if empty != (model.Snapshot{}) {
		t.Fatalf("expected zero snapshot, got %+v", empty)
	}
}

func TestStatsCache(t *testing.T) {
	t.Parallel()

	t.Run("serves cached value until invalidated", func(t *testing.T) {
		cache := NewStatsCache(0, clock.NewFixed(now))
		var loads int32
		load := func(context.Context, string) (model.Snapshot, error) {
			n := atomic.AddInt32(&loads, 1)
			return model.Snapshot{Total: int(n)}, nil
		}

		first, _ := cache.Get(context.Background(), "c", load)
		second, _ := cache.Get(context.Background(), "c", load)
		if first.Total != 1 || second.Total != 1 {
			t.Fatalf("expected cached value, got %d and %d", first.Total, second.Total)
		}

		cache.Invalidate("c")
		third, _ := cache.Get(context.Background(), "c", load)
		if third.Total != 2 {
			t.Fatalf("expected reload after invalidate, got %d", third.Total)
		}
	})

	t.Run("ttl expires entries", func(t *testing.T) {
		clk := clock.NewManual(now)
		cache := NewStatsCache(time.Minute, clk)
		var loads int32
		load := func(context.Context, string) (model.Snapshot, error) {
			atomic.AddInt32(&loads, 1)
			return model.Snapshot{}, nil
		}

		_, _ = cache.Get(context.Background(), "c", load)
		clk.Advance(30 * time.Second)
		_, _ = cache.Get(context.Background(), "c", load)
		clk.Advance(31 * time.Second)
		_, _ = cache.Get(context.Background(), "c", load)
		if got := atomic.LoadInt32(&loads); got != 2 {
			t.Fatalf("expected 2 loads, got %d", got)
		}
	})

	t.Run("load racing an invalidate is not stored", func(t *testing.T) {
		cache := NewStatsCache(0, clock.NewFixed(now))
		started := make(chan struct{})
		proceed := make(chan struct{})
		var loads int32
		load := func(context.Context, string) (model.Snapshot, error) {
			if atomic.AddInt32(&loads, 1) == 1 {
				close(started)
				<-proceed
				return model.Snapshot{Total: 1}, nil
			}
			return model.Snapshot{Total: 2}, nil
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cache.Get(context.Background(), "c", load)
		}()
		<-started
		cache.Invalidate("c")
		close(proceed)
		wg.Wait()

		got, _ := cache.Get(context.Background(), "c", load)
		if got.Total != 2 {
			t.Fatalf("expected stale load discarded, got %d", got.Total)
		}
	})

	t.Run("load errors are not cached", func(t *testing.T) {
		cache := NewStatsCache(0, clock.NewFixed(now))
		fail := true
		load := func(context.Context, string) (model.Snapshot, error) {
			if fail {
				return model.Snapshot{}, errors.New("db down")
			}
			return model.Snapshot{Total: 7}, nil
		}
		if _, err := cache.Get(context.Background(), "c", load); err == nil {
			t.Fatalf("expected error")
		}
		fail = false
		got, err := cache.Get(context.Background(), "c", load)
		if err != nil || got.Total != 7 {
			t.Fatalf("expected 7, got %d (%v)", got.Total, err)
		}
	})
	t.Run("cancelled caller does not fail others sharing the load", func(t *testing.T) {
		cache := NewStatsCache(0, clock.NewFixed(now))
		started := make(chan struct{})
		release := make(chan struct{})
		var loads int32
		load := func(ctx context.Context, _ string) (model.Snapshot, error) {
			atomic.AddInt32(&loads, 1)
			close(started)
			select {
			case <-ctx.Done():
				return model.Snapshot{}, ctx.Err()
			case <-release:
				return model.Snapshot{Total: 3}, nil
			}
		}

		firstCtx, cancel := context.WithCancel(context.Background())
		firstErr := make(chan error, 1)
		go func() {
			_, err := cache.Get(firstCtx, "c", load)
			firstErr <- err
		}()
		<-started

		type result struct {
			snap model.Snapshot
			err  error
		}
		second := make(chan result, 1)
		go func() {
			snap, err := cache.Get(context.Background(), "c", load)
			second <- result{snap, err}
		}()
		// Let the second caller join the in-flight load.
		time.Sleep(20 * time.Millisecond)

		cancel()
		if err := <-firstErr; !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancelled caller to get context.Canceled, got %v", err)
		}

		close(release)
		got := <-second
		if got.err != nil || got.snap.Total != 3 {
			t.Fatalf("expected live caller to get the snapshot, got %+v (%v)", got.snap, got.err)
		}
		if n := atomic.LoadInt32(&loads); n != 1 {
			t.Fatalf("expected one shared load, got %d", n)
		}
	})
}
