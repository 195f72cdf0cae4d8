package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Shivanand-hulikatti/concert-rsvp/internal/model"
)

type txKey struct{}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return s.db.Exec(ctx, sql, args...)
}

func (s *Store) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return s.db.Query(ctx, sql, args...)
}

func (s *Store) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return s.db.QueryRow(ctx, sql, args...)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func isInvalidUUID(err error) bool {
	return pgCode(err) == "22P02"
}

// isContention covers lock_not_available, serialization_failure and
// deadlock_detected.
func isContention(err error) bool {
	switch pgCode(err) {
	case "55P03", "40001", "40P01":
		return true
	}
	return false
}

// classify turns contention into model.ErrBusy and wraps everything else.
func classify(op string, err error) error {
	if isContention(err) {
		return fmt.Errorf("%s: %w", op, model.ErrBusy)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// classifyLock is classify for lock acquisition and commit, where running
// out of ctx deadline while blocked on another transaction is contention too.
func classifyLock(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) ||
		(pgCode(err) == "57014" && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return fmt.Errorf("%s: %w", op, model.ErrBusy)
	}
	return classify(op, err)
}
