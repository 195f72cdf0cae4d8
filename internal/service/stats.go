package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Shivanand-hulikatti/concert-rsvp/internal/capacity"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/clock"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/model"
)

// StatsRepository is the read-only storage surface for dashboards.
type StatsRepository interface {
	GetConcert(ctx context.Context, id string) (model.Concert, error)
	ListConcertsByHost(ctx context.Context, hostID string) ([]model.Concert, error)
	ListRSVPs(ctx context.Context, filter model.RSVPFilter) ([]model.RSVP, error)
}

// StatsService derives request counts and capacity figures for host
// dashboards. It holds no authoritative state.
type StatsService struct {
	repo  StatsRepository
	cache *StatsCache
}

// NewStatsService builds a StatsService. cache may be nil.
func NewStatsService(repo StatsRepository, cache *StatsCache) *StatsService {
	return &StatsService{repo: repo, cache: cache}
}

// ForConcert returns the snapshot of one concert.
func (s *StatsService) ForConcert(ctx context.Context, concertID string) (model.Snapshot, error) {
	if s.cache == nil {
		return s.computeConcert(ctx, concertID)
	}
	return s.cache.Get(ctx, concertID, s.computeConcert)
}

// ForHost sums the snapshots of every concert the host owns. A host with no
// concerts gets a zero snapshot.
func (s *StatsService) ForHost(ctx context.Context, hostID string) (model.Snapshot, error) {
	concerts, err := s.repo.ListConcertsByHost(ctx, hostID)
	if err != nil {
		return model.Snapshot{}, err
	}
	rsvps, err := s.repo.ListRSVPs(ctx, model.RSVPFilter{HostID: hostID})
	if err != nil {
		return model.Snapshot{}, err
	}

	byConcert := make(map[string][]model.RSVP, len(concerts))
	for _, r := range rsvps {
		byConcert[r.ConcertID] = append(byConcert[r.ConcertID], r)
	}

	var total model.Snapshot
	for _, c := range concerts {
		total = capacity.Merge(total, capacity.Compute(c.MaxCapacity, byConcert[c.ID]))
	}
	return total, nil
}

func (s *StatsService) computeConcert(ctx context.Context, concertID string) (model.Snapshot, error) {
	concert, err := s.repo.GetConcert(ctx, concertID)
	if err != nil {
		return model.Snapshot{}, err
	}
	rsvps, err := s.repo.ListRSVPs(ctx, model.RSVPFilter{ConcertID: concertID})
	if err != nil {
		return model.Snapshot{}, err
	}
	return capacity.Compute(concert.MaxCapacity, rsvps), nil
}

// StatsCache keeps per-concert snapshots until the concert changes.
// Invalidate bumps a generation so a recompute that started before the
// change is returned to its callers but never stored.
type StatsCache struct {
	ttl   time.Duration
	clock clock.Clock
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cacheEntry
	gens    map[string]uint64
}

type cacheEntry struct {
	snap     model.Snapshot
	storedAt time.Time
}

// NewStatsCache returns an empty cache. ttl <= 0 keeps entries until
// invalidated.
func NewStatsCache(ttl time.Duration, clk clock.Clock) *StatsCache {
	return &StatsCache{
		ttl:     ttl,
		clock:   clk,
		entries: make(map[string]cacheEntry),
		gens:    make(map[string]uint64),
	}
}

// Get returns the cached snapshot or loads, stores and returns a fresh one.
// Concurrent misses for the same concert share one load. The load does not
// inherit any caller's cancellation; each caller stops waiting when its own
// ctx is done.
func (c *StatsCache) Get(ctx context.Context, concertID string, load func(context.Context, string) (model.Snapshot, error)) (model.Snapshot, error) {
	c.mu.Lock()
	if e, ok := c.entries[concertID]; ok && c.fresh(e) {
		c.mu.Unlock()
		return e.snap, nil
	}
	gen := c.gens[concertID]
	c.mu.Unlock()

	key := concertID + "#" + strconv.FormatUint(gen, 10)
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		snap, err := load(loadCtx, concertID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gens[concertID] == gen {
			c.entries[concertID] = cacheEntry{snap: snap, storedAt: c.clock.Now()}
		}
		c.mu.Unlock()
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return model.Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.Snapshot{}, res.Err
		}
		return res.Val.(model.Snapshot), nil
	}
}

// Invalidate drops the concert's snapshot.
func (c *StatsCache) Invalidate(concertID string) {
	c.mu.Lock()
	delete(c.entries, concertID)
	c.gens[concertID]++
	c.mu.Unlock()
}

func (c *StatsCache) fresh(e cacheEntry) bool {
	return c.ttl <= 0 || c.clock.Now().Sub(e.storedAt) < c.ttl
}
