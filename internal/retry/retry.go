// Package retry runs outbound calls under a bounded policy: one timeout per
// attempt and at most one retry, with backoff, for transient failures.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/googleapi"
)

// StatusError is implemented by upstream errors that carry an HTTP status.
type StatusError interface {
	error
	HTTPStatus() int
}

// Policy bounds a single upstream call.
type Policy struct {
	// Timeout applies to each attempt separately.
	Timeout time.Duration
	// Backoff is the pause before the retry.
	Backoff time.Duration
	// MaxRetries is the number of extra attempts after the first one.
	MaxRetries int
	// OnRetry is called before every retry with the error that caused it.
	OnRetry func(err error)
}

// Default is one retry after 500ms with a 10s timeout per attempt.
func Default() Policy {
	return Policy{Timeout: 10 * time.Second, Backoff: 500 * time.Millisecond, MaxRetries: 1}
}

// Do runs call until it succeeds, fails permanently or runs out of retries.
func (p Policy) Do(ctx context.Context, call func(ctx context.Context) error) error {
	apiCall := func(ctx context.Context, _ gax.CallSettings) error {
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		return call(ctx)
	}

	return gax.Invoke(ctx, apiCall, gax.WithRetry(func() gax.Retryer {
		return &boundedRetryer{
			ctx:     ctx,
			backoff: gax.Backoff{Initial: p.Backoff, Max: p.Backoff * 4, Multiplier: 2},
			left:    p.MaxRetries,
			onRetry: p.OnRetry,
		}
	}))
}

type boundedRetryer struct {
	ctx     context.Context
	backoff gax.Backoff
	left    int
	onRetry func(err error)
}

func (r *boundedRetryer) Retry(err error) (time.Duration, bool) {
	if r.left <= 0 || r.ctx.Err() != nil || !IsTransient(err) {
		return 0, false
	}
	r.left--
	if r.onRetry != nil {
		r.onRetry(err)
	}
	// A zero gax.Backoff pauses for a full second by default.
	if r.backoff.Initial <= 0 {
		return 0, true
	}
	return r.backoff.Pause(), true
}

// IsTransient reports whether err is worth one more attempt: a 5xx from the
// upstream or a network-level failure. Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var serr StatusError
	if errors.As(err, &serr) {
		return serr.HTTPStatus() >= http.StatusInternalServerError
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code >= http.StatusInternalServerError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}
