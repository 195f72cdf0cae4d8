// Package memory is an in-process reservation store. It serialises writers
// per concert with a one-slot channel and stages writes until the locked
// function returns, so an abandoned call leaves nothing behind.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/concert-rsvp/internal/model"
)

const defaultLockTimeout = 2 * time.Second

type txKey struct{}

type memTx struct {
	concertID string
	staged    []model.Transition
}

// Store keeps concerts, RSVPs and their transition history in maps.
type Store struct {
	lockTimeout time.Duration

	mu          sync.RWMutex
	concerts    map[string]model.Concert
	rsvps       map[string]model.RSVP
	transitions map[string][]model.Transition

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long WithConcertLock waits before giving up
// with model.ErrBusy.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// New returns an empty store. The lock timeout defaults to two seconds.
func New(opts ...Option) *Store {
	s := &Store{
		lockTimeout: defaultLockTimeout,
		concerts:    make(map[string]model.Concert),
		rsvps:       make(map[string]model.RSVP),
		transitions: make(map[string][]model.Transition),
		locks:       make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithConcertLock runs fn while holding the concert's lock. Transitions
// staged by fn are applied only when fn succeeds and ctx is still live.
func (s *Store) WithConcertLock(ctx context.Context, concertID string, fn func(ctx context.Context) error) error {
	if tx := txFromContext(ctx); tx != nil {
		if tx.concertID != concertID {
			return fmt.Errorf("nested lock for concert %s inside concert %s", concertID, tx.concertID)
		}
		return fn(ctx)
	}

	lock := s.lockFor(concertID)
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
	case <-timer.C:
		return fmt.Errorf("lock concert %s: %w", concertID, model.ErrBusy)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("lock concert %s: %w", concertID, model.ErrBusy)
		}
		return ctx.Err()
	}
	defer func() { <-lock }()

	tx := &memTx{concertID: concertID}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tx.staged {
		r, ok := s.rsvps[t.RSVPID]
		if !ok {
			return &model.NotFoundError{Kind: "rsvp", ID: t.RSVPID}
		}
		if r.Status != t.From {
			return fmt.Errorf("rsvp %s changed to %s concurrently: %w", r.ID, r.Status, model.ErrBusy)
		}
	}
	for _, t := range tx.staged {
		s.applyLocked(t)
	}
	return nil
}

func (s *Store) applyLocked(t model.Transition) {
	r := s.rsvps[t.RSVPID]
	r.Status = t.To
	r.StatusUpdatedAt = t.OccurredAt
	if t.HostResponse != "" {
		r.HostResponse = t.HostResponse
	}
	s.rsvps[r.ID] = r
	s.transitions[r.ID] = append(s.transitions[r.ID], t)
}

func (s *Store) lockFor(concertID string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[concertID]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[concertID] = l
	}
	return l
}

func txFromContext(ctx context.Context) *memTx {
	tx, _ := ctx.Value(txKey{}).(*memTx)
	return tx
}

// CreateConcert stores c.
func (s *Store) CreateConcert(_ context.Context, c model.Concert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.concerts[c.ID]; ok {
		return fmt.Errorf("concert %s already exists", c.ID)
	}
	s.concerts[c.ID] = c
	return nil
}

// GetConcert returns a single concert or model.ErrNotFound.
func (s *Store) GetConcert(_ context.Context, id string) (model.Concert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.concerts[id]
	if !ok {
		return model.Concert{}, &model.NotFoundError{Kind: "concert", ID: id}
	}
	return c, nil
}

// ListConcertsByHost returns the host's concerts, earliest date first.
func (s *Store) ListConcertsByHost(_ context.Context, hostID string) ([]model.Concert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Concert
	for _, c := range s.concerts {
		if c.HostID == hostID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CreateRSVP stores r. A second request by the same fan for the same
// concert fails with model.ErrAlreadyRequested.
func (s *Store) CreateRSVP(_ context.Context, r model.RSVP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.concerts[r.ConcertID]; !ok {
		return &model.NotFoundError{Kind: "concert", ID: r.ConcertID}
	}
	for _, existing := range s.rsvps {
		if existing.ConcertID == r.ConcertID && existing.FanID == r.FanID {
			return model.ErrAlreadyRequested
		}
	}
	s.rsvps[r.ID] = r
	return nil
}

// GetRSVP returns one RSVP, including writes staged in the current lock.
func (s *Store) GetRSVP(ctx context.Context, id string) (model.RSVP, error) {
	s.mu.RLock()
	r, ok := s.rsvps[id]
	s.mu.RUnlock()
	if !ok {
		return model.RSVP{}, &model.NotFoundError{Kind: "rsvp", ID: id}
	}
	return overlay(txFromContext(ctx), r), nil
}

// ListRSVPs returns RSVPs matching filter, oldest request first.
func (s *Store) ListRSVPs(ctx context.Context, filter model.RSVPFilter) ([]model.RSVP, error) {
	tx := txFromContext(ctx)

	s.mu.RLock()
	out := make([]model.RSVP, 0)
	for _, r := range s.rsvps {
		r = overlay(tx, r)
		if filter.Matches(r, s.concerts[r.ConcertID].HostID) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].RSVPDate.Equal(out[j].RSVPDate) {
			return out[i].RSVPDate.Before(out[j].RSVPDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ApplyTransition moves an RSVP from t.From to t.To and records t. Inside
// WithConcertLock the move is staged until commit.
func (s *Store) ApplyTransition(ctx context.Context, t model.Transition) error {
	if tx := txFromContext(ctx); tx != nil {
		current, err := s.GetRSVP(ctx, t.RSVPID)
		if err != nil {
			return err
		}
		if current.ConcertID != tx.concertID {
			return fmt.Errorf("rsvp %s is not part of locked concert %s", t.RSVPID, tx.concertID)
		}
		if current.Status != t.From {
			return fmt.Errorf("rsvp %s is %s, not %s: %w", t.RSVPID, current.Status, t.From, model.ErrBusy)
		}
		tx.staged = append(tx.staged, t)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rsvps[t.RSVPID]
	if !ok {
		return &model.NotFoundError{Kind: "rsvp", ID: t.RSVPID}
	}
	if r.Status != t.From {
		return fmt.Errorf("rsvp %s is %s, not %s: %w", t.RSVPID, r.Status, t.From, model.ErrBusy)
	}
	s.applyLocked(t)
	return nil
}

// ListTransitions returns an RSVP's committed transitions, oldest first.
func (s *Store) ListTransitions(_ context.Context, rsvpID string) ([]model.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Transition(nil), s.transitions[rsvpID]...), nil
}

// overlay applies the transaction's staged transitions to r.
func overlay(tx *memTx, r model.RSVP) model.RSVP {
	if tx == nil {
		return r
	}
	for _, t := range tx.staged {
		if t.RSVPID != r.ID {
			continue
		}
		r.Status = t.To
		r.StatusUpdatedAt = t.OccurredAt
		if t.HostResponse != "" {
			r.HostResponse = t.HostResponse
		}
	}
	return r
}
