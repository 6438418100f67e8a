package dateutil

import (
	"errors"
	"strings"
	"time"
)

// AddMonthsSameDay advances dt by the given number of calendar months while
// keeping the same day of month. When the target month is shorter than the
// source day (e.g. Jan 31 + 1 month), the result clamps to the last day of
// the target month instead of spilling into the following month.
func AddMonthsSameDay(dt time.Time, months int) time.Time {
	if months == 0 {
		return dt
	}

	idx := int(dt.Month()) - 1 + months
	year := dt.Year() + idx/12
	idx %= 12
	if idx < 0 {
		idx += 12
		year--
	}
	month := time.Month(idx + 1)

	day := dt.Day()
	if last := lastDayOfMonth(year, month); day > last {
		day = last
	}

	return time.Date(year, month, day, dt.Hour(), dt.Minute(), dt.Second(), 0, dt.Location())
}

func lastDayOfMonth(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

var looseLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ErrUnparsableTime reports that none of the accepted datetime layouts matched.
var ErrUnparsableTime = errors.New("dateutil: unparsable time string")

// ParseDatetimeLoose parses timestamps as the upstream API emits them: ISO
// 8601 with or without fractional seconds, a space instead of the "T"
// separator, and a trailing "Z" or numeric offset. Zoned inputs are converted
// to local time; the result is always location-naive in the sense that its
// wall clock reflects local time.
func ParseDatetimeLoose(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, ErrUnparsableTime
	}

	for _, layout := range looseLayouts {
		// ParseInLocation keeps zoneless inputs in local time; inputs that
		// carry an offset keep it and are converted below.
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err != nil {
			continue
		}
		local := t.Local()
		return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), local.Second(), 0, time.Local), nil
	}

	return time.Time{}, ErrUnparsableTime
}

// NextAttemptTime computes the retry gate for a lease that just failed its
// n-th transfer attempt: five minutes doubling per attempt, capped at one day.
func NextAttemptTime(now time.Time, attempts int) time.Time {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 12 {
		attempts = 12
	}
	backoff := 5 * time.Minute << uint(attempts)
	if backoff > 24*time.Hour {
		backoff = 24 * time.Hour
	}
	return now.Add(backoff)
}
