package worker

import "time"

const maxBackoff = time.Hour

// Backoff is the delay before retrying after the given attempt:
// base, 2*base, 4*base and so on, capped at one hour.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
