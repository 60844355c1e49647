package debrid

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
)

// ErrPollPending is returned by a poll check that has not reached a final state yet.
// PollUntil returns it when the attempts run out.
var ErrPollPending = errors.New("poll pending")

// PollPolicy bounds a polling loop.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	// Timer replaces wall-clock waiting; nil uses real time.
	Timer retry.Timer
}

// MaxWait is the total time the policy spends waiting between checks.
func (p PollPolicy) MaxWait() time.Duration {
	return time.Duration(p.MaxAttempts) * p.Interval
}

type realTimer struct{}

func (realTimer) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// StopPolling marks err as terminal so PollUntil returns it without further attempts.
func StopPolling(err error) error {
	return retry.Unrecoverable(err)
}

// PollUntil waits one interval, then runs check up to MaxAttempts times with the interval
// between attempts. check returns nil when done, ErrPollPending to keep waiting, or an
// error wrapped with StopPolling to abort.
func PollUntil(ctx context.Context, policy PollPolicy, check func(ctx context.Context, attempt int) error) error {
	if policy.MaxAttempts <= 0 {
		return ErrPollPending
	}
	timer := policy.Timer
	if timer == nil {
		timer = realTimer{}
	}

	select {
	case <-timer.After(policy.Interval):
	case <-ctx.Done():
		return ctx.Err()
	}

	attempt := 0
	return retry.Do(
		func() error {
			attempt++
			return check(ctx, attempt)
		},
		retry.Context(ctx),
		retry.Attempts(uint(policy.MaxAttempts)),
		retry.Delay(policy.Interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.WithTimer(timer),
	)
}
