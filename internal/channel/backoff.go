package channel

import "time"

// BackoffDelay returns the reconnect delay for attempt N (1-based): a pure
// power-of-two progression of the base delay, capped at maxDelay when
// maxDelay is positive. No jitter; the retry bound is on attempt count, not
// delay value.
func BackoffDelay(base time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	if base <= 0 || attempt < 1 {
		return 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if maxDelay > 0 && delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}
