package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
)

// Policy bounds how often and how patiently an operation is retried.
// The same policy is shared by the sink and the startup database connect.
type Policy struct {
	// MaxAttempts counts the first call; 1 disables retries
	MaxAttempts int
	// Backoff yields the delay before each retry
	Backoff wait.Backoff
	Clock   clock.Clock
	// Notify, if set, is called before every wait
	Notify func(attempt int, err error, delay time.Duration)
}

// NewPolicy returns an exponential policy doubling from base up to max
// with 10% jitter
func NewPolicy(maxAttempts int, base, max time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Backoff: wait.Backoff{
			Duration: base,
			Factor:   2.0,
			Jitter:   0.1,
			Steps:    maxAttempts,
			Cap:      max,
		},
		Clock: clock.RealClock{},
	}
}

// Validate rejects policies that could never succeed or never stop
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.Backoff.Duration < 0 || p.Backoff.Cap < 0 {
		return fmt.Errorf("backoff delays must not be negative")
	}
	if p.Backoff.Cap > 0 && p.Backoff.Duration > p.Backoff.Cap {
		return fmt.Errorf("base delay %s exceeds max delay %s", p.Backoff.Duration, p.Backoff.Cap)
	}
	return nil
}

// ExhaustedError reports an operation that failed on every attempt, or was
// interrupted by its context while waiting for the next one.
type ExhaustedError struct {
	Attempts int
	Err      error
	// Interrupted is the context error that cut the retries short
	Interrupted error
}

func (e *ExhaustedError) Error() string {
	if e.Interrupted != nil {
		return fmt.Sprintf("gave up after %d attempts (%v): %v", e.Attempts, e.Interrupted, e.Err)
	}
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Interrupted != nil {
		return []error{e.Err, e.Interrupted}
	}
	return []error{e.Err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, the attempts
// run out or ctx is done. Failures come back as *ExhaustedError.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	clk := p.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := p.Backoff

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if attempt >= maxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := backoff.Step()
		if p.Notify != nil {
			p.Notify(attempt, err, delay)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &ExhaustedError{Attempts: attempt, Err: err, Interrupted: ctxErr}
		}
		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return &ExhaustedError{Attempts: attempt, Err: err, Interrupted: ctx.Err()}
		case <-clk.After(delay):
		}
	}
}
