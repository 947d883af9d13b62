package connection

import "time"

// Delay computes the reconnect delay for the given zero-based attempt:
// min(base * 2^attempt, cap). The attempt counter resets on every successful
// connect, so the first retry after a drop always waits the base delay.
func Delay(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if cap < base {
		cap = base
	}
	if attempt < 0 {
		attempt = 0
	}
	// Beyond 62 doublings the shift would overflow; the cap applies anyway.
	if attempt > 62 {
		return cap
	}
	d := base << uint(attempt)
	if d <= 0 || d > cap {
		return cap
	}
	return d
}
