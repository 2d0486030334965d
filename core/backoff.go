package core

import "time"

// LinearBackoff returns base scaled by the number of failed attempts, with
// attempts clamped to at least one.
func LinearBackoff(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempts < 1 {
		attempts = 1
	}
	return base * time.Duration(attempts)
}
