package utils

import "time"

// DateOf returns the calendar date of t in loc, as midnight UTC.
// Two instants on the same local day always map to the same value.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}

	y, m, d := t.In(loc).Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateKey formats a calendar date as YYYY-MM-DD.
func DateKey(date time.Time) string {
	return date.Format(time.DateOnly)
}

// SameDate reports whether two calendar dates fall on the same day.
// Both values are compared by their year, month and day only.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()

	return ay == by && am == bm && ad == bd
}

// NormalizeDate strips the time of day from a stored date, keeping its own year, month and day.
func NormalizeDate(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
