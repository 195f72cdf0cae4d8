// Package repository implements all database queries for the concert RSVP
// system on PostgreSQL. It uses pgx directly (no ORM) for transparency.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/concert-rsvp/internal/model"
)

const defaultLockTimeout = 2 * time.Second

// Store handles persistence for concerts, RSVPs and their transitions.
type Store struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewStore constructs a Store. lockTimeout bounds how long a host action
// waits for a concert row lock; zero means the default.
func NewStore(db *pgxpool.Pool, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &Store{db: db, lockTimeout: lockTimeout}
}

// WithConcertLock runs fn inside a transaction that holds the concert's row
// lock.
//
// Two hosts approving RSVPs for the same concert would otherwise both read
// the approved total before either writes, and both pass the capacity
// check. SELECT ... FOR UPDATE blocks the second transaction on the concert
// row until the first commits or rolls back, so the read-check-write runs
// one at a time per concert. Concerts do not block each other.
func (s *Store) WithConcertLock(ctx context.Context, concertID string, fn func(ctx context.Context) error) (err error) {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classifyLock(ctx, "begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	// SET does not take bind parameters.
	if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return classifyLock(ctx, "set lock timeout", err)
	}

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM concerts WHERE id = $1 FOR UPDATE`, concertID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return &model.NotFoundError{Kind: "concert", ID: concertID}
		}
		return classifyLock(ctx, "lock concert row", err)
	}

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return classifyLock(ctx, "commit transaction", err)
	}
	return nil
}

// CreateConcert inserts a new concert.
func (s *Store) CreateConcert(ctx context.Context, c model.Concert) error {
	_, err := s.exec(ctx,
		`INSERT INTO concerts (id, host_id, artist_id, date, start_time, max_capacity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.HostID, c.ArtistID, c.Date, c.StartTime, c.MaxCapacity, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert concert: %w", err)
	}
	return nil
}

const concertColumns = `id, host_id, artist_id, date, start_time, max_capacity, created_at`

func scanConcert(row pgx.Row) (model.Concert, error) {
	var c model.Concert
	err := row.Scan(&c.ID, &c.HostID, &c.ArtistID, &c.Date, &c.StartTime, &c.MaxCapacity, &c.CreatedAt)
	return c, err
}

// GetConcert returns a single concert or model.ErrNotFound.
func (s *Store) GetConcert(ctx context.Context, id string) (model.Concert, error) {
	c, err := scanConcert(s.queryRow(ctx, `SELECT `+concertColumns+` FROM concerts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return model.Concert{}, &model.NotFoundError{Kind: "concert", ID: id}
		}
		return model.Concert{}, fmt.Errorf("get concert: %w", err)
	}
	return c, nil
}

// ListConcertsByHost returns the host's concerts by date.
func (s *Store) ListConcertsByHost(ctx context.Context, hostID string) ([]model.Concert, error) {
	rows, err := s.query(ctx,
		`SELECT `+concertColumns+` FROM concerts WHERE host_id = $1 ORDER BY date ASC, id ASC`,
		hostID,
	)
	if err != nil {
		return nil, fmt.Errorf("list concerts: %w", err)
	}
	defer rows.Close()

	var concerts []model.Concert
	for rows.Next() {
		c, err := scanConcert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan concert: %w", err)
		}
		concerts = append(concerts, c)
	}
	return concerts, rows.Err()
}

// CreateRSVP inserts a PENDING request. A second request by the same fan for
// the same concert returns model.ErrAlreadyRequested.
func (s *Store) CreateRSVP(ctx context.Context, r model.RSVP) error {
	_, err := s.exec(ctx,
		`INSERT INTO rsvps (id, concert_id, fan_id, guests_count, special_requests, status, rsvp_date, status_updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.ConcertID, r.FanID, r.GuestsCount, r.SpecialRequests, r.Status, r.RSVPDate, r.StatusUpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrAlreadyRequested
		}
		if pgCode(err) == "23503" || isInvalidUUID(err) {
			return &model.NotFoundError{Kind: "concert", ID: r.ConcertID}
		}
		return fmt.Errorf("insert rsvp: %w", err)
	}
	return nil
}

const rsvpColumns = `r.id, r.concert_id, r.fan_id, r.guests_count, r.special_requests, r.status,
	r.rsvp_date, r.status_updated_at, COALESCE(r.host_response, '')`

func scanRSVP(row pgx.Row) (model.RSVP, error) {
	var r model.RSVP
	err := row.Scan(&r.ID, &r.ConcertID, &r.FanID, &r.GuestsCount, &r.SpecialRequests, &r.Status,
		&r.RSVPDate, &r.StatusUpdatedAt, &r.HostResponse)
	return r, err
}

// GetRSVP returns a single RSVP or model.ErrNotFound.
func (s *Store) GetRSVP(ctx context.Context, id string) (model.RSVP, error) {
	r, err := scanRSVP(s.queryRow(ctx, `SELECT `+rsvpColumns+` FROM rsvps r WHERE r.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return model.RSVP{}, &model.NotFoundError{Kind: "rsvp", ID: id}
		}
		return model.RSVP{}, fmt.Errorf("get rsvp: %w", err)
	}
	return r, nil
}

// ListRSVPs returns RSVPs matching filter, oldest request first.
func (s *Store) ListRSVPs(ctx context.Context, filter model.RSVPFilter) ([]model.RSVP, error) {
	var (
		where []string
		args  []any
	)
	if filter.ConcertID != "" {
		args = append(args, filter.ConcertID)
		where = append(where, fmt.Sprintf("r.concert_id = $%d", len(args)))
	}
	if filter.HostID != "" {
		args = append(args, filter.HostID)
		where = append(where, fmt.Sprintf("c.host_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("r.status = $%d", len(args)))
	}

	sql := `SELECT ` + rsvpColumns + ` FROM rsvps r JOIN concerts c ON c.id = r.concert_id`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY r.rsvp_date ASC, r.id ASC`

	rows, err := s.query(ctx, sql, args...)
	if err != nil {
		if isInvalidUUID(err) {
			return []model.RSVP{}, nil
		}
		return nil, fmt.Errorf("list rsvps: %w", err)
	}
	defer rows.Close()

	rsvps := make([]model.RSVP, 0)
	for rows.Next() {
		r, err := scanRSVP(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rsvp: %w", err)
		}
		rsvps = append(rsvps, r)
	}
	if err := rows.Err(); err != nil {
		if isInvalidUUID(err) {
			return []model.RSVP{}, nil
		}
		return nil, fmt.Errorf("list rsvps: %w", err)
	}
	return rsvps, nil
}

// ApplyTransition moves the RSVP from t.From to t.To and appends t to its
// history. The update only matches while the RSVP is still in t.From; a
// miss means someone else moved it and is reported as model.ErrBusy.
func (s *Store) ApplyTransition(ctx context.Context, t model.Transition) error {
	var hostResponse *string
	if t.HostResponse != "" {
		hostResponse = &t.HostResponse
	}

	tag, err := s.exec(ctx,
		`UPDATE rsvps
		 SET status = $3, status_updated_at = $4, host_response = COALESCE($5, host_response)
		 WHERE id = $1 AND status = $2`,
		t.RSVPID, t.From, t.To, t.OccurredAt, hostResponse,
	)
	if err != nil {
		return classify("update rsvp status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rsvp %s is no longer %s: %w", t.RSVPID, t.From, model.ErrBusy)
	}

	_, err = s.exec(ctx,
		`INSERT INTO rsvp_transitions (id, rsvp_id, concert_id, fan_id, from_status, to_status, host_response, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.RSVPID, t.ConcertID, t.FanID, t.From, t.To, hostResponse, t.OccurredAt,
	)
	if err != nil {
		return classify("insert transition", err)
	}
	return nil
}

// ListTransitions returns an RSVP's history, oldest first.
func (s *Store) ListTransitions(ctx context.Context, rsvpID string) ([]model.Transition, error) {
	rows, err := s.query(ctx,
		`SELECT id, rsvp_id, concert_id, fan_id, from_status, to_status, COALESCE(host_response, ''), occurred_at
		 FROM rsvp_transitions
		 WHERE rsvp_id = $1
		 ORDER BY occurred_at ASC, id ASC`,
		rsvpID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	transitions := make([]model.Transition, 0)
	for rows.Next() {
		var t model.Transition
		if err := rows.Scan(&t.ID, &t.RSVPID, &t.ConcertID, &t.FanID, &t.From, &t.To, &t.HostResponse, &t.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}
