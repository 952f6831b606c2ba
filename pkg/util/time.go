package util

import "time"

// Timestamp normalizes t to UTC microseconds, the resolution every supported
// database keeps. Chain keys compare on this value.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// After returns the earliest timestamp strictly after prev that is not before now.
func After(prev, now time.Time) time.Time {
	now = Timestamp(now)
	if prev.IsZero() || now.After(prev) {
		return now
	}
	return Timestamp(prev).Add(time.Microsecond)
}
