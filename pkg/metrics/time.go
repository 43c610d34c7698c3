package metrics

import "time"

// MillisecondsSince returns the elapsed time since start in milliseconds,
// matching the unit of HistogramBuckets.
func MillisecondsSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
