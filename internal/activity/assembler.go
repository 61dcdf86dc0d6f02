package activity

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/muzaparoff/shuttlx-sub002/internal/domain"
)

// ErrFinalized is returned when Finalize is called on an assembler that has
// already produced its session. Assemblers are single-use; a new workout
// creates a new assembler.
var ErrFinalized = errors.New("session already finalized")

// Assembler accumulates everything that belongs to one workout: the
// debounced segment sequence plus heart-rate, calorie, distance and step
// counters. Like the Debouncer it is serialized by its caller.
type Assembler struct {
	start     time.Time
	debouncer *Debouncer

	heartRates  []float64
	calories    float64
	hasCalories bool
	distance    float64
	hasDistance bool
	steps       int
	hasSteps    bool

	finalized bool
}

// NewAssembler starts a workout at the given time.
func NewAssembler(start time.Time, opts ...DebouncerOption) *Assembler {
	return &Assembler{
		start:     start.UTC(),
		debouncer: NewDebouncer(start, opts...),
	}
}

// ObserveActivity feeds a raw activity sample into the debouncer.
func (a *Assembler) ObserveActivity(kind domain.ActivityKind, at time.Time) {
	if a.finalized {
		return
	}
	a.debouncer.Observe(kind, at)
}

// Tick advances the debounce clock.
func (a *Assembler) Tick(now time.Time) {
	if a.finalized {
		return
	}
	a.debouncer.Tick(now)
}

// AddHeartRate records one heart-rate sample in beats per minute.
func (a *Assembler) AddHeartRate(bpm float64) {
	if a.finalized {
		return
	}
	a.heartRates = append(a.heartRates, bpm)
}

// UpdateCalories records the latest cumulative calorie total.
func (a *Assembler) UpdateCalories(total float64) {
	if a.finalized {
		return
	}
	a.calories = total
	a.hasCalories = true
}

// UpdateDistance records the latest cumulative distance in meters.
func (a *Assembler) UpdateDistance(meters float64) {
	if a.finalized {
		return
	}
	a.distance = meters
	a.hasDistance = true
}

// UpdateSteps records the latest cumulative step count.
func (a *Assembler) UpdateSteps(count int) {
	if a.finalized {
		return
	}
	a.steps = count
	a.hasSteps = true
}

// Segments exposes the committed segment sequence accumulated so far.
func (a *Assembler) Segments() []domain.ActivitySegment {
	return a.debouncer.Segments()
}

// Finalize force-closes the open segment at end, computes the aggregates and
// returns the immutable session record. Aggregates with no samples stay
// absent rather than zero. A second call returns ErrFinalized.
func (a *Assembler) Finalize(end time.Time) (domain.Session, error) {
	if a.finalized {
		return domain.Session{}, ErrFinalized
	}
	a.finalized = true

	end = end.UTC()
	a.debouncer.Stop(end)

	session := domain.Session{
		ID:          uuid.NewString(),
		Start:       a.start,
		End:         end,
		DurationSec: end.Sub(a.start).Seconds(),
		Segments:    a.debouncer.Segments(),
	}

	if len(a.heartRates) > 0 {
		sum := 0.0
		max := a.heartRates[0]
		for _, bpm := range a.heartRates {
			sum += bpm
			if bpm > max {
				max = bpm
			}
		}
		avg := sum / float64(len(a.heartRates))
		session.AvgHeartRate = &avg
		session.MaxHeartRate = &max
	}
	if a.hasCalories {
		calories := a.calories
		session.Calories = &calories
	}
	if a.hasDistance {
		distance := a.distance
		session.DistanceMeters = &distance
	}
	if a.hasSteps {
		steps := a.steps
		session.Steps = &steps
	}

	return session, nil
}
