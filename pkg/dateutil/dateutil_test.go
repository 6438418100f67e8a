package dateutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddMonthsSameDay(t *testing.T) {
	base := time.Date(2026, time.January, 7, 12, 30, 0, 0, time.Local)
	next := AddMonthsSameDay(base, 1)
	require.Equal(t, time.Date(2026, time.February, 7, 12, 30, 0, 0, time.Local), next)

	// Round trip for a day that exists in both months.
	require.Equal(t, base, AddMonthsSameDay(next, -1))
}

func TestAddMonthsSameDayClampsToMonthEnd(t *testing.T) {
	jan31 := time.Date(2026, time.January, 31, 9, 0, 0, 0, time.Local)
	require.Equal(t, time.Date(2026, time.February, 28, 9, 0, 0, 0, time.Local), AddMonthsSameDay(jan31, 1))

	leap := time.Date(2024, time.January, 31, 9, 0, 0, 0, time.Local)
	require.Equal(t, time.Date(2024, time.February, 29, 9, 0, 0, 0, time.Local), AddMonthsSameDay(leap, 1))

	// Crossing a year boundary.
	dec15 := time.Date(2025, time.December, 15, 0, 0, 0, 0, time.Local)
	require.Equal(t, time.Date(2026, time.January, 15, 0, 0, 0, 0, time.Local), AddMonthsSameDay(dec15, 1))
}

func TestAddMonthsSameDayZero(t *testing.T) {
	now := time.Now()
	require.Equal(t, now, AddMonthsSameDay(now, 0))
}

func TestParseDatetimeLoose(t *testing.T) {
	spaceSeparated, err := ParseDatetimeLoose("2026-01-07 12:00:00")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, time.January, 7, 12, 0, 0, 0, time.Local), spaceSeparated)

	iso, err := ParseDatetimeLoose("2026-01-07T12:00:00Z")
	require.NoError(t, err)
	want := time.Date(2026, time.January, 7, 12, 0, 0, 0, time.UTC).Local()
	require.True(t, iso.Equal(want), "got %v want %v", iso, want)
	require.Equal(t, time.Local.String(), iso.Location().String())
}

func TestParseDatetimeLooseOffsetsAndFractions(t *testing.T) {
	withOffset, err := ParseDatetimeLoose("2026-01-07T20:00:00+08:00")
	require.NoError(t, err)
	require.True(t, withOffset.Equal(time.Date(2026, time.January, 7, 12, 0, 0, 0, time.UTC)))

	withFraction, err := ParseDatetimeLoose("2026-01-07T12:00:00.123456Z")
	require.NoError(t, err)
	require.Equal(t, 0, withFraction.Nanosecond())

	dateOnly, err := ParseDatetimeLoose("2026-01-07")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, time.January, 7, 0, 0, 0, 0, time.Local), dateOnly)
}

func TestParseDatetimeLooseRejectsGarbage(t *testing.T) {
	_, err := ParseDatetimeLoose("")
	require.ErrorIs(t, err, ErrUnparsableTime)

	_, err = ParseDatetimeLoose("not a time")
	require.ErrorIs(t, err, ErrUnparsableTime)
}

func TestNextAttemptTime(t *testing.T) {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	require.Equal(t, now.Add(5*time.Minute), NextAttemptTime(now, 0))
	require.Equal(t, now.Add(10*time.Minute), NextAttemptTime(now, 1))
	require.Equal(t, now.Add(40*time.Minute), NextAttemptTime(now, 3))

	// Monotone and capped at 24h.
	prev := NextAttemptTime(now, 0)
	for attempts := 1; attempts < 20; attempts++ {
		next := NextAttemptTime(now, attempts)
		require.False(t, next.Before(prev), "attempts=%d", attempts)
		require.False(t, next.After(now.Add(24*time.Hour)))
		prev = next
	}
	require.Equal(t, now.Add(24*time.Hour), NextAttemptTime(now, 12))
	require.Equal(t, now.Add(24*time.Hour), NextAttemptTime(now, 99))
	require.Equal(t, now.Add(5*time.Minute), NextAttemptTime(now, -3))
}
