package services

import "time"

type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// daysRemaining is the whole number of days left before end, never negative.
func daysRemaining(end, now time.Time) int {
	left := end.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / (24 * time.Hour))
}

func daysToDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
