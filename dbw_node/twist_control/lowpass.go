package control

// LowPassFilter is a first-order IIR smoother. Each signal gets its own
// instance; filters must never be shared between signals.
type LowPassFilter struct {
	a, b float64

	last  float64
	ready bool
}

// NewLowPassFilter builds a filter with time constant tau sampled every ts
// seconds.
func NewLowPassFilter(tau, ts float64) *LowPassFilter {
	ratio := tau / ts
	return &LowPassFilter{
		a: 1.0 / (ratio + 1.0),
		b: ratio / (ratio + 1.0),
	}
}

// Filter feeds one raw sample and returns the smoothed value.
// The first sample primes the filter and is returned unchanged.
func (f *LowPassFilter) Filter(v float64) float64 {
	if f.ready {
		v = f.a*v + f.b*f.last
	} else {
		f.ready = true
	}
	f.last = v
	return v
}

// Value returns the last smoothed value.
func (f *LowPassFilter) Value() float64 { return f.last }

// Ready reports whether the filter has seen at least one sample.
func (f *LowPassFilter) Ready() bool { return f.ready }

// Reset forgets history; the next sample primes the filter again.
func (f *LowPassFilter) Reset() {
	f.last = 0
	f.ready = false
}
