package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"aprslink/pkg/config"
)

// Backoff is an additive backoff: Min, Min+Step, ... capped at Max. Safe for
// concurrent use.
type Backoff struct {
	Min  time.Duration
	Max  time.Duration
	Step time.Duration

	mu  sync.Mutex
	cur time.Duration
}

// NewBackoff returns a Backoff positioned at min.
func NewBackoff(min, max, step time.Duration) *Backoff {
	if min <= 0 {
		min = time.Second
	}
	if max < min {
		max = min
	}
	if step <= 0 {
		step = min
	}
	return &Backoff{Min: min, Max: max, Step: step, cur: min}
}

// Current returns the delay the next failure would wait.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur
}

// Fail returns the delay to wait after a failure and advances the backoff.
func (b *Backoff) Fail() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.cur
	b.cur += b.Step
	if b.cur > b.Max {
		b.cur = b.Max
	}
	return d
}

// Reset moves the backoff back to Min after a successful connect.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.cur = b.Min
	b.mu.Unlock()
}

// RetryPolicy bounds inline connect retries.
type RetryPolicy struct {
	Attempts int
	Backoff  *Backoff
}

// PolicyFromConfig builds the policy described by connect.* settings.
func PolicyFromConfig(c config.ConnectConfig) RetryPolicy {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return RetryPolicy{
		Attempts: c.Attempts,
		Backoff:  NewBackoff(ms(c.BackoffMinMS), ms(c.BackoffMaxMS), ms(c.BackoffStepMS)),
	}
}

// Retry runs dial up to p.Attempts times. Authentication failures and
// context cancellation return at once; other errors wait the backoff and
// retry. Exhaustion yields a *ConnectError. The backoff resets on success.
// The backoff only paces attempts within one connect; the client's
// reconnect limiter paces connects across driver instances.
func Retry(ctx context.Context, kind Kind, p RetryPolicy, log *zap.Logger, dial func(context.Context) error) error {
	if log == nil {
		log = zap.NewNop()
	}
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Backoff == nil {
		p.Backoff = NewBackoff(time.Second, 5*time.Second, time.Second)
	}
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err := dial(ctx)
		if err == nil {
			p.Backoff.Reset()
			return nil
		}
		if IsAuthFailure(err) {
			return err
		}
		if ctx.Err() != nil {
			return errors.Join(ctx.Err(), err)
		}
		lastErr = err
		if attempt == p.Attempts {
			break
		}
		wait := p.Backoff.Fail()
		log.Warn("connect failed",
			zap.Stringer("transport", kind),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), err)
		case <-timer.C:
		}
	}
	return &ConnectError{Kind: kind, Attempts: p.Attempts, Err: lastErr}
}
