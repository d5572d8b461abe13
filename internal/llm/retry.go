package llm

import (
	"context"
	"time"
)

// RetryPolicy bounds the retry/backoff behaviour a Backend wraps its HTTP
// calls in. Backoff honours any Retry-After the error carries and
// otherwise doubles from InitialDelay.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy matches the teacher's provider defaults: three
// attempts, starting at 500ms, capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// Do runs fn up to MaxAttempts times, retrying only on errors IsRetryable
// reports true for, honouring ctx cancellation between attempts.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) (*Response, error)) (*Response, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	delay := p.InitialDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, NewError(KindCancelled, err.Error())
		}

		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt == p.MaxAttempts || !IsRetryable(err) {
			return nil, err
		}

		wait := delay
		var e *Error
		if errAs(err, &e) && e.RateLimit != nil && e.RateLimit.RetryAfter > 0 {
			wait = e.RateLimit.RetryAfter
		}
		if p.MaxDelay > 0 && wait > p.MaxDelay {
			wait = p.MaxDelay
		}

		select {
		case <-ctx.Done():
			return nil, NewError(KindCancelled, ctx.Err().Error())
		case <-time.After(wait):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return nil, lastErr
}

// errAs is a small errors.As wrapper kept local to avoid importing errors
// twice across files for a one-line use.
func errAs(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
