// Package domain defines the training catalog and session history records
// shared between the phone and the wrist device.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Phase labels one step of an interval program.
type Phase string

const (
	PhaseWork Phase = "work"
	PhaseRest Phase = "rest"
)

// Interval is a single timed step of a training program.
type Interval struct {
	Phase       Phase  `json:"phase"`
	DurationSec int    `json:"duration_sec"`
	Intensity   string `json:"intensity"`
}

// Program is one entry of the shared training catalog. IDs are assigned once
// and stay stable across devices; ModifiedAt strictly increases on every
// content change. A program with no intervals is valid but inert.
type Program struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Intervals  []Interval `json:"intervals"`
	MaxPulse   int        `json:"max_pulse"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt time.Time  `json:"modified_at"`
}

// NewProgram constructs a Program with a fresh stable ID.
func NewProgram(name string, intervals []Interval, maxPulse int) Program {
	now := time.Now().UTC()
	return Program{
		ID:         uuid.NewString(),
		Name:       name,
		Intervals:  intervals,
		MaxPulse:   maxPulse,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// Touch bumps the modification timestamp. The timestamp must strictly
// increase even when the wall clock has not advanced past the previous edit.
func (p *Program) Touch(now time.Time) {
	now = now.UTC()
	if !now.After(p.ModifiedAt) {
		now = p.ModifiedAt.Add(time.Millisecond)
	}
	p.ModifiedAt = now
}

// TotalDuration sums the interval durations of the program.
func (p Program) TotalDuration() time.Duration {
	total := 0
	for _, interval := range p.Intervals {
		total += interval.DurationSec
	}
	return time.Duration(total) * time.Second
}

// LatestModification returns the newest ModifiedAt across the catalog, or the
// zero time for an empty catalog.
func LatestModification(catalog []Program) time.Time {
	var latest time.Time
	for _, program := range catalog {
		if program.ModifiedAt.After(latest) {
			latest = program.ModifiedAt
		}
	}
	return latest
}

// DefaultPrograms returns the built-in seed catalog used when neither store
// location yields a readable document.
func DefaultPrograms() []Program {
	return []Program{
		NewProgram("Beginner Run/Walk", []Interval{
			{Phase: PhaseWork, DurationSec: 60, Intensity: "moderate"},
			{Phase: PhaseRest, DurationSec: 120, Intensity: "easy"},
			{Phase: PhaseWork, DurationSec: 60, Intensity: "moderate"},
			{Phase: PhaseRest, DurationSec: 120, Intensity: "easy"},
			{Phase: PhaseWork, DurationSec: 60, Intensity: "moderate"},
		}, 160),
		NewProgram("Pyramid Intervals", []Interval{
			{Phase: PhaseWork, DurationSec: 30, Intensity: "hard"},
			{Phase: PhaseRest, DurationSec: 60, Intensity: "easy"},
			{Phase: PhaseWork, DurationSec: 60, Intensity: "hard"},
			{Phase: PhaseRest, DurationSec: 60, Intensity: "easy"},
			{Phase: PhaseWork, DurationSec: 90, Intensity: "hard"},
			{Phase: PhaseRest, DurationSec: 90, Intensity: "easy"},
			{Phase: PhaseWork, DurationSec: 60, Intensity: "hard"},
			{Phase: PhaseRest, DurationSec: 60, Intensity: "easy"},
			{Phase: PhaseWork, DurationSec: 30, Intensity: "hard"},
		}, 175),
	}
}
