package syncengine

import (
	"fmt"
	"time"
)

// Status is a read-only snapshot of the engine for observers. No field of it
// feeds back into engine behaviour.
type Status struct {
	LastSync        time.Time
	PendingSessions int
	Health          float64
	InFlight        bool
}

// HealthPercent renders the health score as a whole percentage.
func (s Status) HealthPercent() int {
	return int(s.Health*100 + 0.5)
}

// Description is the human-readable status line shown in the UI.
func (s Status) Description() string {
	var state string
	switch {
	case s.InFlight:
		state = "syncing with peer"
	case s.PendingSessions == 1:
		state = "1 session waiting for peer"
	case s.PendingSessions > 1:
		state = fmt.Sprintf("%d sessions waiting for peer", s.PendingSessions)
	case s.LastSync.IsZero():
		state = "not synced yet"
	default:
		state = fmt.Sprintf("synced at %s", s.LastSync.Local().Format("15:04"))
	}
	return fmt.Sprintf("%s, connectivity %d%%", state, s.HealthPercent())
}
