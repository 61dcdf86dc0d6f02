package domain

import (
	"fmt"
	"time"
)

// ActivityKind classifies what the wearer was doing during a segment.
type ActivityKind string

const (
	ActivityRunning    ActivityKind = "running"
	ActivityWalking    ActivityKind = "walking"
	ActivityStationary ActivityKind = "stationary"
	ActivityUnknown    ActivityKind = "unknown"
)

// ActivitySegment is a contiguous stretch of one activity kind inside a
// workout. End is nil while the segment is still open; only the last segment
// of a session may be open.
type ActivitySegment struct {
	ID             string       `json:"id"`
	Kind           ActivityKind `json:"kind"`
	Start          time.Time    `json:"start"`
	End            *time.Time   `json:"end,omitempty"`
	Steps          *int         `json:"steps,omitempty"`
	DistanceMeters *float64     `json:"distance_meters,omitempty"`
}

// Session is one completed workout. It is created exactly once on the device
// that ran the workout and never edited afterwards; the ID is the sole
// deduplication key across sync exchanges.
type Session struct {
	ID             string            `json:"id"`
	Start          time.Time         `json:"start"`
	End            time.Time         `json:"end"`
	DurationSec    float64           `json:"duration_sec"`
	AvgHeartRate   *float64          `json:"avg_heart_rate,omitempty"`
	MaxHeartRate   *float64          `json:"max_heart_rate,omitempty"`
	Calories       *float64          `json:"calories,omitempty"`
	DistanceMeters *float64          `json:"distance_meters,omitempty"`
	Steps          *int              `json:"steps,omitempty"`
	Segments       []ActivitySegment `json:"segments"`
}

// ValidateSegments checks the contiguity invariant: segment n's end equals
// segment n+1's start, and only the final segment may be open.
func ValidateSegments(segments []ActivitySegment) error {
	for i, segment := range segments {
		last := i == len(segments)-1
		if segment.End == nil {
			if !last {
				return fmt.Errorf("segment %d (%s) is open but not last", i, segment.Kind)
			}
			continue
		}
		if segment.End.Before(segment.Start) {
			return fmt.Errorf("segment %d (%s) ends before it starts", i, segment.Kind)
		}
		if !last {
			next := segments[i+1]
			if !segment.End.Equal(next.Start) {
				return fmt.Errorf("segment %d ends at %s but segment %d starts at %s",
					i, segment.End.Format(time.RFC3339Nano), i+1, next.Start.Format(time.RFC3339Nano))
			}
		}
	}
	return nil
}

// MergeSessions appends sessions from incoming that are not yet present in
// history, keyed by ID. Existing entries are never touched, so replaying the
// same push is a no-op. Returns the merged history and the number of sessions
// actually added.
func MergeSessions(history []Session, incoming ...Session) ([]Session, int) {
	seen := make(map[string]struct{}, len(history))
	for _, session := range history {
		seen[session.ID] = struct{}{}
	}

	added := 0
	for _, session := range incoming {
		if _, ok := seen[session.ID]; ok {
			continue
		}
		seen[session.ID] = struct{}{}
		history = append(history, session)
		added++
	}
	return history, added
}
