package syncengine

import "time"

// RetryState names the scheduler's position in its cycle.
type RetryState int

const (
	StateIdle RetryState = iota
	StateInFlight
	StateBackoff
)

// String implements fmt.Stringer for log output.
func (s RetryState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInFlight:
		return "in-flight"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// DefaultMaxAttempts is how many consecutive failures a sync cycle absorbs
// before giving up until the next external trigger.
const DefaultMaxAttempts = 5

const maxBackoff = 30 * time.Second

// RetryScheduler owns the single-flight guard and the exponential-backoff
// state for outbound sync attempts. Modeling the guard as named states keeps
// a forgotten flag reset on some error path from deadlocking the engine.
// Not safe for concurrent use; the engine's actor owns it.
type RetryScheduler struct {
	state       RetryState
	attempts    int
	maxAttempts int
}

// NewRetryScheduler constructs a scheduler. maxAttempts <= 0 selects the default.
func NewRetryScheduler(maxAttempts int) *RetryScheduler {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &RetryScheduler{maxAttempts: maxAttempts}
}

// Begin claims the single-flight slot for a fresh attempt. Returns false
// while another attempt is in flight.
func (r *RetryScheduler) Begin() bool {
	if r.state == StateInFlight {
		return false
	}
	r.state = StateInFlight
	return true
}

// Retry re-arms the slot when a scheduled backoff delay elapses. Returns
// false if the cycle was resolved some other way in the meantime.
func (r *RetryScheduler) Retry() bool {
	if r.state != StateBackoff {
		return false
	}
	r.state = StateInFlight
	return true
}

// Abort releases the slot without touching the failure counter. Used when
// the peer is unreachable: a known steady state, not an error.
func (r *RetryScheduler) Abort() {
	if r.state == StateInFlight {
		r.state = StateIdle
	}
}

// Succeed resolves the in-flight attempt and resets the failure counter.
func (r *RetryScheduler) Succeed() {
	r.state = StateIdle
	r.attempts = 0
}

// Fail records a failed attempt. When the attempt budget is exhausted it
// reports giveUp and resets, so the next externally-triggered cycle starts
// fresh; otherwise it returns the backoff delay before the next try.
func (r *RetryScheduler) Fail() (delay time.Duration, giveUp bool) {
	r.attempts++
	if r.attempts >= r.maxAttempts {
		r.attempts = 0
		r.state = StateIdle
		return 0, true
	}
	r.state = StateBackoff
	return BackoffDelay(r.attempts), false
}

// State reports the current scheduler state.
func (r *RetryScheduler) State() RetryState {
	return r.state
}

// Attempts reports the consecutive-failure count of the current cycle.
func (r *RetryScheduler) Attempts() int {
	return r.attempts
}

// BackoffDelay returns min(2^attempt, 30) seconds.
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 5 {
		// 2^5 already exceeds the cap; avoid shifting into overflow.
		return maxBackoff
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}
