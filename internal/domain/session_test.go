package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMergeSessionsIsIdempotent(t *testing.T) {
	base := time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)
	history := []Session{sessionAt("a", base), sessionAt("b", base.Add(time.Hour))}
	incoming := sessionAt("c", base.Add(2*time.Hour))

	merged, added := MergeSessions(history, incoming)
	require.Equal(t, 1, added)
	require.Len(t, merged, 3)

	again, added := MergeSessions(merged, incoming)
	require.Zero(t, added)
	require.Len(t, again, 3)
	require.Equal(t, merged, again)
}

func TestMergeSessionsPreservesFirstSeenOrder(t *testing.T) {
	base := time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)
	merged, added := MergeSessions(nil, sessionAt("x", base), sessionAt("y", base), sessionAt("x", base))
	require.Equal(t, 2, added)
	require.Equal(t, "x", merged[0].ID)
	require.Equal(t, "y", merged[1].ID)
}

func TestValidateSegmentsContiguity(t *testing.T) {
	start := time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)
	mid := start.Add(2 * time.Minute)
	end := start.Add(5 * time.Minute)

	good := []ActivitySegment{
		{ID: "1", Kind: ActivityUnknown, Start: start, End: &mid},
		{ID: "2", Kind: ActivityRunning, Start: mid, End: &end},
	}
	require.NoError(t, ValidateSegments(good))

	gap := start.Add(3 * time.Minute)
	bad := []ActivitySegment{
		{ID: "1", Kind: ActivityUnknown, Start: start, End: &mid},
		{ID: "2", Kind: ActivityRunning, Start: gap, End: &end},
	}
	require.Error(t, ValidateSegments(bad))
}

func TestValidateSegmentsOpenSegmentMustBeLast(t *testing.T) {
	start := time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)
	mid := start.Add(time.Minute)

	require.NoError(t, ValidateSegments([]ActivitySegment{
		{ID: "1", Kind: ActivityUnknown, Start: start, End: &mid},
		{ID: "2", Kind: ActivityWalking, Start: mid},
	}))

	require.Error(t, ValidateSegments([]ActivitySegment{
		{ID: "1", Kind: ActivityUnknown, Start: start},
		{ID: "2", Kind: ActivityWalking, Start: mid},
	}))
}

func TestProgramTouchStrictlyIncreases(t *testing.T) {
	program := NewProgram("Tempo", []Interval{{Phase: PhaseWork, DurationSec: 300, Intensity: "hard"}}, 170)
	before := program.ModifiedAt

	program.Touch(before)
	require.True(t, program.ModifiedAt.After(before))

	previous := program.ModifiedAt
	program.Touch(before.Add(-time.Hour))
	require.True(t, program.ModifiedAt.After(previous))
}

func TestDefaultProgramsAreUsable(t *testing.T) {
	catalog := DefaultPrograms()
	require.NotEmpty(t, catalog)

	ids := make(map[string]struct{})
	for _, program := range catalog {
		require.NotEmpty(t, program.ID)
		require.NotEmpty(t, program.Intervals)
		require.Positive(t, program.TotalDuration())
		_, dup := ids[program.ID]
		require.False(t, dup, "duplicate program id %s", program.ID)
		ids[program.ID] = struct{}{}
	}
}

func sessionAt(id string, start time.Time) Session {
	end := start.Add(30 * time.Minute)
	closed := end
	return Session{
		ID:          id,
		Start:       start,
		End:         end,
		DurationSec: end.Sub(start).Seconds(),
		Segments: []ActivitySegment{
			{ID: id + "-seg", Kind: ActivityRunning, Start: start, End: &closed},
		},
	}
}
