package bench

import (
	"slices"
	"time"
)

// Percentiles summarizes a latency distribution.
type Percentiles struct {
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	P50   time.Duration `json:"p50"`
	P75   time.Duration `json:"p75"`
	P90   time.Duration `json:"p90"`
	P99   time.Duration `json:"p99"`
	P999  time.Duration `json:"p99_9"`
	P9999 time.Duration `json:"p99_99"`
}

// Summarize sorts samples in place and reads the percentiles off them.
func Summarize(samples []time.Duration) Percentiles {
	if len(samples) == 0 {
		return Percentiles{}
	}
	slices.Sort(samples)

	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	return Percentiles{
		Avg:   sum / time.Duration(len(samples)),
		Min:   samples[0],
		Max:   samples[len(samples)-1],
		P50:   quantile(samples, 50),
		P75:   quantile(samples, 75),
		P90:   quantile(samples, 90),
		P99:   quantile(samples, 99),
		P999:  quantile(samples, 99.9),
		P9999: quantile(samples, 99.99),
	}
}

// quantile returns the nearest-rank sample at percent p of sorted.
func quantile(sorted []time.Duration, p float64) time.Duration {
	i := int(float64(len(sorted)) * p / 100)
	return sorted[min(max(i, 0), len(sorted)-1)]
}
