package strategy

import "math"

// rollingStats keeps a fixed-size window of closes and exposes mean and
// standard deviation over it. Not safe for concurrent use; each strategy
// instance owns its trackers.
type rollingStats struct {
	window []float64
	size   int
	next   int
	filled bool
}

func newRollingStats(size int) *rollingStats {
	if size < 2 {
		size = 2
	}
	return &rollingStats{
		window: make([]float64, size),
		size:   size,
	}
}

func (r *rollingStats) Add(v float64) {
	r.window[r.next] = v
	r.next = (r.next + 1) % r.size
	if r.next == 0 {
		r.filled = true
	}
}

func (r *rollingStats) Ready() bool { return r.filled }

func (r *rollingStats) Len() int {
	if r.filled {
		return r.size
	}
	return r.next
}

func (r *rollingStats) Mean() float64 {
	n := r.Len()
	if n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += r.window[i]
	}
	return sum / float64(n)
}

func (r *rollingStats) StdDev() float64 {
	n := r.Len()
	if n < 2 {
		return 0
	}
	mean := r.Mean()
	sum := 0.0
	for i := 0; i < n; i++ {
		d := r.window[i] - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(n-1))
}

// ZScore returns how many standard deviations v sits from the window mean.
// Zero when the window has no spread yet.
func (r *rollingStats) ZScore(v float64) float64 {
	sd := r.StdDev()
	if sd == 0 {
		return 0
	}
	return (v - r.Mean()) / sd
}

// emaState is an incremental exponential moving average.
type emaState struct {
	period int
	alpha  float64
	value  float64
	warmup int
}

func newEMA(period int) emaState {
	if period <= 1 {
		period = 1
	}
	return emaState{
		period: period,
		alpha:  2.0 / (float64(period) + 1),
	}
}

func (e *emaState) Update(price float64) {
	if e.warmup == 0 {
		e.value = price
		e.warmup = 1
		return
	}
	e.value = e.alpha*price + (1-e.alpha)*e.value
	if e.warmup < e.period {
		e.warmup++
	}
}

func (e *emaState) Ready() bool    { return e.warmup >= e.period }
func (e *emaState) Value() float64 { return e.value }
