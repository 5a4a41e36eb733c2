package master

import "time"

// Payout retry schedule: min(5s * 2^(n-1), 5min) for attempt n.
func payoutBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := 5 * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return d
}

// Insufficient-funds schedule is slower: min(10s * 2^n, 10min). Gas
// topping up takes human time.
func fundsBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := 10 * time.Second
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return d
}
