package syncengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusDescription(t *testing.T) {
	cases := []struct {
		name   string
		status Status
		want   string
	}{
		{
			name:   "never synced",
			status: Status{Health: 0.5},
			want:   "not synced yet, connectivity 50%",
		},
		{
			name:   "in flight wins over pending",
			status: Status{InFlight: true, PendingSessions: 2, Health: 1},
			want:   "syncing with peer, connectivity 100%",
		},
		{
			name:   "single pending session",
			status: Status{PendingSessions: 1, Health: 0.7},
			want:   "1 session waiting for peer, connectivity 70%",
		},
		{
			name:   "several pending sessions",
			status: Status{PendingSessions: 3, Health: 0.2},
			want:   "3 sessions waiting for peer, connectivity 20%",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.status.Description())
		})
	}
}

func TestStatusDescriptionSyncedAt(t *testing.T) {
	at := time.Date(2026, 3, 14, 7, 5, 0, 0, time.Local)
	s := Status{LastSync: at, Health: 1}
	require.Equal(t, "synced at 07:05, connectivity 100%", s.Description())
}

func TestHealthPercentRounds(t *testing.T) {
	require.Equal(t, 67, Status{Health: 0.666}.HealthPercent())
	require.Equal(t, 0, Status{}.HealthPercent())
	require.Equal(t, 100, Status{Health: 1}.HealthPercent())
}
