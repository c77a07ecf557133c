package analytics

import (
	"math"
	"time"

	"tradedash/internal/dashboard/memorystore"
)

// TickRate is the number of ticks stamped within (now-window, now] divided by the window in seconds.
func TickRate(ticks []memorystore.Tick, now time.Time, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	cutoff := now.Add(-window)
	n := 0
	for i := len(ticks) - 1; i >= 0; i-- {
		ts := ticks[i].Timestamp
		if !ts.After(cutoff) {
			continue
		}
		if ts.After(now) {
			continue
		}
		n++
	}
	return float64(n) / window.Seconds()
}

// PriceVolatility is the population standard deviation of the last n prices.
// It reports false with fewer than two prices.
func PriceVolatility(ticks []memorystore.Tick, n int) (float64, bool) {
	if n > 0 && len(ticks) > n {
		ticks = ticks[len(ticks)-n:]
	}
	if len(ticks) < 2 {
		return 0, false
	}

	var sum float64
	for _, t := range ticks {
		sum += t.Price
	}
	mean := sum / float64(len(ticks))

	var sq float64
	for _, t := range ticks {
		d := t.Price - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(ticks))), true
}
