package engine

import "time"

// backoffDelay returns the delay before retry number attempt (0-based),
// growing as base × 2^attempt up to limit. A zero or negative base
// disables the delay; a zero or negative limit leaves growth uncapped.
func backoffDelay(base time.Duration, attempt int, limit time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if limit > 0 && delay >= limit {
			return limit
		}
	}
	if limit > 0 && delay > limit {
		return limit
	}
	return delay
}
