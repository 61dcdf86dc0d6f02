// Package activity turns the noisy motion-classification signal of a workout
// into a clean, non-overlapping sequence of timed activity segments.
package activity

import (
	"time"

	"github.com/google/uuid"

	"github.com/muzaparoff/shuttlx-sub002/internal/domain"
)

// DefaultDwellThreshold is how long a candidate activity must persist before
// it is committed as a real transition.
const DefaultDwellThreshold = 5 * time.Second

// DebouncerOption configures optional behaviour for the Debouncer.
type DebouncerOption func(*Debouncer)

// WithDwellThreshold overrides the minimum dwell time for a transition.
func WithDwellThreshold(d time.Duration) DebouncerOption {
	return func(deb *Debouncer) {
		deb.dwell = d
	}
}

type candidate struct {
	kind  domain.ActivityKind
	since time.Time
}

// Debouncer consumes instantaneous activity samples and commits transitions
// only after the candidate kind has persisted for the dwell threshold.
// Commits are backdated to when the candidate first appeared, keeping the
// segment sequence contiguous. It is not safe for concurrent use; the caller
// owns serialization.
type Debouncer struct {
	dwell     time.Duration
	committed domain.ActivityKind
	candidate *candidate
	segments  []domain.ActivitySegment
	stopped   bool
}

// NewDebouncer opens the first segment eagerly as unknown at workout start,
// so the segment list is never empty.
func NewDebouncer(start time.Time, opts ...DebouncerOption) *Debouncer {
	deb := &Debouncer{
		dwell:     DefaultDwellThreshold,
		committed: domain.ActivityUnknown,
		segments: []domain.ActivitySegment{{
			ID:    uuid.NewString(),
			Kind:  domain.ActivityUnknown,
			Start: start.UTC(),
		}},
	}
	for _, opt := range opts {
		opt(deb)
	}
	return deb
}

// Observe feeds one raw classified sample. Samples matching the committed
// kind clear any candidate; samples matching the current candidate leave its
// dwell timer running; anything else replaces the candidate and restarts the
// timer at the sample time.
func (deb *Debouncer) Observe(kind domain.ActivityKind, at time.Time) {
	if deb.stopped {
		return
	}
	switch {
	case kind == deb.committed:
		deb.candidate = nil
	case deb.candidate != nil && deb.candidate.kind == kind:
		// Still accumulating dwell time.
	default:
		deb.candidate = &candidate{kind: kind, since: at.UTC()}
	}
}

// Tick checks whether the pending candidate has dwelled long enough and, if
// so, commits the transition. The open segment is closed at the candidate's
// start, not at now.
func (deb *Debouncer) Tick(now time.Time) {
	if deb.stopped || deb.candidate == nil {
		return
	}
	if now.Sub(deb.candidate.since) < deb.dwell {
		return
	}

	transition := deb.candidate.since
	deb.closeOpenSegment(transition)
	deb.segments = append(deb.segments, domain.ActivitySegment{
		ID:    uuid.NewString(),
		Kind:  deb.candidate.kind,
		Start: transition,
	})
	deb.committed = deb.candidate.kind
	deb.candidate = nil
}

// Stop force-closes the open segment at the given time regardless of
// debounce state. Further samples and ticks are ignored.
func (deb *Debouncer) Stop(at time.Time) {
	if deb.stopped {
		return
	}
	deb.closeOpenSegment(at.UTC())
	deb.candidate = nil
	deb.stopped = true
}

// Committed reports the currently committed activity kind.
func (deb *Debouncer) Committed() domain.ActivityKind {
	return deb.committed
}

// Segments returns a copy of the segment sequence accumulated so far.
func (deb *Debouncer) Segments() []domain.ActivitySegment {
	out := make([]domain.ActivitySegment, len(deb.segments))
	copy(out, deb.segments)
	return out
}

func (deb *Debouncer) closeOpenSegment(at time.Time) {
	last := &deb.segments[len(deb.segments)-1]
	if last.End == nil {
		end := at
		last.End = &end
	}
}
