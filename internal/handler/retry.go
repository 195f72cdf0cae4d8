package handler

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Shivanand-hulikatti/concert-rsvp/internal/model"
)

// RetryPolicy bounds how often a host action is retried after
// model.ErrBusy. No other error is retried.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy makes three attempts over roughly a third of a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     400 * time.Millisecond,
	}
}

func retryBusy[T any](ctx context.Context, p RetryPolicy, op func() (T, error)) (T, error) {
	if p.MaxTries <= 1 {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		res, err := op()
		if err != nil && !errors.Is(err, model.ErrBusy) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.MaxTries))
}
