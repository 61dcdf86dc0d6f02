package syncengine

import "time"

// DefaultStaleAfter is the last-sync age beyond which the catalog view is
// considered stale for health purposes.
const DefaultStaleAfter = 5 * time.Minute

const (
	penaltyNotActivated = 0.5
	penaltyNotReachable = 0.3
	penaltyPerFailure   = 0.1
	maxFailurePenalty   = 0.5
	penaltyStale        = 0.2
)

// HealthInputs is everything the score derives from.
type HealthInputs struct {
	Activated           bool
	Reachable           bool
	ConsecutiveFailures int
	// LastSuccess is the time of the most recent successful sync exchange;
	// zero means no sync has ever succeeded.
	LastSuccess time.Time
}

// HealthScorer derives a 0-1 connectivity-health score from channel state,
// recent failures, and staleness of the last successful sync.
type HealthScorer struct {
	staleAfter time.Duration
}

// NewHealthScorer constructs a scorer. staleAfter <= 0 selects the default.
func NewHealthScorer(staleAfter time.Duration) *HealthScorer {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &HealthScorer{staleAfter: staleAfter}
}

// Score accumulates penalties and clamps the result into [0,1].
func (h *HealthScorer) Score(now time.Time, in HealthInputs) float64 {
	penalty := 0.0
	if !in.Activated {
		penalty += penaltyNotActivated
	}
	if !in.Reachable {
		penalty += penaltyNotReachable
	}

	failurePenalty := penaltyPerFailure * float64(in.ConsecutiveFailures)
	if failurePenalty > maxFailurePenalty {
		failurePenalty = maxFailurePenalty
	}
	penalty += failurePenalty

	if in.LastSuccess.IsZero() || now.Sub(in.LastSuccess) > h.staleAfter {
		penalty += penaltyStale
	}

	score := 1.0 - penalty
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
