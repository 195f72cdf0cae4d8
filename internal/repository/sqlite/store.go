// Package sqlite provides a SQLite-backed reservation store for single-node
// deployments. Every transaction begins IMMEDIATE, so writers are serialised
// database-wide and a host action's read-check-write cannot interleave with
// another.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Shivanand-hulikatti/concert-rsvp/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const dateLayout = "2006-01-02"

type txKey struct{}

// Store provides SQLite-backed persistence for concerts and RSVPs.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the store at path and applies pending migrations. busyTimeout
// is how long a writer waits for the database lock before failing with
// model.ErrBusy.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if busyTimeout <= 0 {
		busyTimeout = 2 * time.Second
	}

	dsn := fmt.Sprintf("%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		filepath.Clean(path), busyTimeout.Milliseconds())
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) migrate() error {
	if _, err := s.sqlDB.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		var applied bool
		if err := s.sqlDB.QueryRow(`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = ?)`, name).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		content, err := migrationFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		up := upSection(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}

		tx, err := s.sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, name, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// upSection returns the SQL between "-- +migrate Up" and "-- +migrate Down".
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	start := strings.Index(content, up)
	if start == -1 {
		return content
	}
	content = content[start+len(up):]
	if end := strings.Index(content, down); end != -1 {
		content = content[:end]
	}
	return content
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) conn(ctx context.Context) queryer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.sqlDB
}

func isBusy(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

func isConstraint(err error, codes ...int) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	for _, c := range codes {
		if sqliteErr.Code() == c {
			return true
		}
	}
	return false
}

func classify(op string, err error) error {
	if isBusy(err) {
		return fmt.Errorf("%s: %w", op, model.ErrBusy)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// classifyLock is classify for lock acquisition and commit: a ctx deadline
// reached while waiting on the write lock is contention too.
func classifyLock(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) ||
		(isInterrupt(err) && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return fmt.Errorf("%s: %w", op, model.ErrBusy)
	}
	return classify(op, err)
}

func isInterrupt(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3.SQLITE_INTERRUPT
}

// WithConcertLock runs fn in an IMMEDIATE transaction, which holds the
// database write lock for its whole duration.
func (s *Store) WithConcertLock(ctx context.Context, concertID string, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return classifyLock(ctx, "begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists bool
	if err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM concerts WHERE id = ?)`, concertID).Scan(&exists); err != nil {
		return classifyLock(ctx, "lock concert", err)
	}
	if !exists {
		return &model.NotFoundError{Kind: "concert", ID: concertID}
	}

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return classifyLock(ctx, "commit transaction", err)
	}
	return nil
}

// CreateConcert inserts a new concert.
func (s *Store) CreateConcert(ctx context.Context, c model.Concert) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO concerts (id, host_id, artist_id, date, start_time, max_capacity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.HostID, c.ArtistID, c.Date.Format(dateLayout), c.StartTime, c.MaxCapacity, toMillis(c.CreatedAt),
	)
	if err != nil {
		return classify("insert concert", err)
	}
	return nil
}

const concertColumns = `id, host_id, artist_id, date, start_time, max_capacity, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConcert(row rowScanner) (model.Concert, error) {
	var (
		c         model.Concert
		date      string
		createdAt int64
	)
	if err := row.Scan(&c.ID, &c.HostID, &c.ArtistID, &date, &c.StartTime, &c.MaxCapacity, &createdAt); err != nil {
		return model.Concert{}, err
	}
	parsed, err := time.Parse(dateLayout, date)
	if err != nil {
		return model.Concert{}, fmt.Errorf("parse concert date %q: %w", date, err)
	}
	c.Date = parsed
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}

// GetConcert returns a single concert or model.ErrNotFound.
func (s *Store) GetConcert(ctx context.Context, id string) (model.Concert, error) {
	c, err := scanConcert(s.conn(ctx).QueryRowContext(ctx, `SELECT `+concertColumns+` FROM concerts WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Concert{}, &model.NotFoundError{Kind: "concert", ID: id}
		}
		return model.Concert{}, classify("get concert", err)
	}
	return c, nil
}

// ListConcertsByHost returns the host's concerts, earliest date first.
func (s *Store) ListConcertsByHost(ctx context.Context, hostID string) ([]model.Concert, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+concertColumns+` FROM concerts WHERE host_id = ? ORDER BY date ASC, id ASC`, hostID)
	if err != nil {
		return nil, classify("list concerts", err)
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

// CreateRSVP inserts a PENDING request. The (concert, fan) unique index
// turns a repeat into model.ErrAlreadyRequested.
func (s *Store) CreateRSVP(ctx context.Context, r model.RSVP) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO rsvps (id, concert_id, fan_id, guests_count, special_requests, status, rsvp_date, status_updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ConcertID, r.FanID, r.GuestsCount, r.SpecialRequests, string(r.Status),
		toMillis(r.RSVPDate), toMillis(r.StatusUpdatedAt),
	)
	if err != nil {
		if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
			return model.ErrAlreadyRequested
		}
		if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY) {
			return &model.NotFoundError{Kind: "concert", ID: r.ConcertID}
		}
		return classify("insert rsvp", err)
	}
	return nil
}

const rsvpColumns = `r.id, r.concert_id, r.fan_id, r.guests_count, r.special_requests, r.status,
	r.rsvp_date, r.status_updated_at, COALESCE(r.host_response, '')`

func scanRSVP(row rowScanner) (model.RSVP, error) {
	var (
		r                   model.RSVP
		status              string
		rsvpDate, updatedAt int64
	)
	if err := row.Scan(&r.ID, &r.ConcertID, &r.FanID, &r.GuestsCount, &r.SpecialRequests, &status,
		&rsvpDate, &updatedAt, &r.HostResponse); err != nil {
		return model.RSVP{}, err
	}
	r.Status = model.RSVPStatus(status)
	r.RSVPDate = fromMillis(rsvpDate)
	r.StatusUpdatedAt = fromMillis(updatedAt)
	return r, nil
}

// GetRSVP returns one RSVP or model.ErrNotFound.
func (s *Store) GetRSVP(ctx context.Context, id string) (model.RSVP, error) {
	r, err := scanRSVP(s.conn(ctx).QueryRowContext(ctx, `SELECT `+rsvpColumns+` FROM rsvps r WHERE r.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RSVP{}, &model.NotFoundError{Kind: "rsvp", ID: id}
		}
		return model.RSVP{}, classify("get rsvp", err)
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
		where = append(where, "r.concert_id = ?")
		args = append(args, filter.ConcertID)
	}
	if filter.HostID != "" {
		where = append(where, "c.host_id = ?")
		args = append(args, filter.HostID)
	}
	if filter.Status != "" {
		where = append(where, "r.status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + rsvpColumns + ` FROM rsvps r JOIN concerts c ON c.id = r.concert_id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY r.rsvp_date ASC, r.id ASC`

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list rsvps", err)
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
	return rsvps, rows.Err()
}

// ApplyTransition moves the RSVP from t.From to t.To and records t. A
// status that no longer matches t.From is reported as model.ErrBusy.
func (s *Store) ApplyTransition(ctx context.Context, t model.Transition) error {
	var hostResponse sql.NullString
	if t.HostResponse != "" {
		hostResponse = sql.NullString{String: t.HostResponse, Valid: true}
	}

	q := s.conn(ctx)
	res, err := q.ExecContext(ctx,
		`UPDATE rsvps
		 SET status = ?, status_updated_at = ?, host_response = COALESCE(?, host_response)
		 WHERE id = ? AND status = ?`,
		string(t.To), toMillis(t.OccurredAt), hostResponse, t.RSVPID, string(t.From),
	)
	if err != nil {
		return classify("update rsvp status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rsvp status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("rsvp %s is no longer %s: %w", t.RSVPID, t.From, model.ErrBusy)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO rsvp_transitions (id, rsvp_id, concert_id, fan_id, from_status, to_status, host_response, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RSVPID, t.ConcertID, t.FanID, string(t.From), string(t.To), hostResponse, toMillis(t.OccurredAt),
	)
	if err != nil {
		return classify("insert transition", err)
	}
	return nil
}

// ListTransitions returns an RSVP's audit trail, oldest first.
func (s *Store) ListTransitions(ctx context.Context, rsvpID string) ([]model.Transition, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT id, rsvp_id, concert_id, fan_id, from_status, to_status, COALESCE(host_response, ''), occurred_at
		 FROM rsvp_transitions WHERE rsvp_id = ? ORDER BY occurred_at ASC, id ASC`, rsvpID)
	if err != nil {
		return nil, classify("list transitions", err)
	}
	defer rows.Close()

	transitions := make([]model.Transition, 0)
	for rows.Next() {
		var (
			t          model.Transition
			from, to   string
			occurredAt int64
		)
		if err := rows.Scan(&t.ID, &t.RSVPID, &t.ConcertID, &t.FanID, &from, &to, &t.HostResponse, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.From = model.RSVPStatus(from)
		t.To = model.RSVPStatus(to)
		t.OccurredAt = fromMillis(occurredAt)
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}
