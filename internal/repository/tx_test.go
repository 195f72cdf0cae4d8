package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Shivanand-hulikatti/concert-rsvp/internal/model"
)

func TestClassifyLock(t *testing.T) {
	t.Parallel()

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()

	tests := []struct {
		name     string
		ctx      context.Context
		err      error
		wantBusy bool
	}{
		{name: "lock_not_available", ctx: context.Background(), err: &pgconn.PgError{Code: "55P03"}, wantBusy: true},
		{name: "deadlock", ctx: context.Background(), err: &pgconn.PgError{Code: "40P01"}, wantBusy: true},
		{name: "deadline while waiting", ctx: expired, err: fmt.Errorf("timeout: %w", context.DeadlineExceeded), wantBusy: true},
		{name: "query canceled after deadline", ctx: expired, err: &pgconn.PgError{Code: "57014"}, wantBusy: true},
		{name: "query canceled by caller", ctx: cancelled, err: &pgconn.PgError{Code: "57014"}, wantBusy: false},
		{name: "caller cancel", ctx: cancelled, err: context.Canceled, wantBusy: false},
		{name: "other failure", ctx: context.Background(), err: errors.New("connection reset"), wantBusy: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := classifyLock(tt.ctx, "lock concert row", tt.err)
			if errors.Is(got, model.ErrBusy) != tt.wantBusy {
				t.Fatalf("expected busy=%v, got %v", tt.wantBusy, got)
			}
			if !tt.wantBusy && !errors.Is(got, tt.err) {
				t.Fatalf("expected %v to stay wrapped, got %v", tt.err, got)
			}
		})
	}
}
