// Package kalman implements the one-dimensional recursive filter used to
// smooth per-beacon distance estimates. One filter instance per beacon
// identity; instances share no state.
package kalman

// Filter is a scalar predict/update filter over a single state value.
// The process noise q models how fast the true distance can drift
// between samples, the measurement noise r models the RSSI-induced
// scatter of individual estimates.
type Filter struct {
	q float64
	r float64

	x float64 // state estimate
	p float64 // estimate covariance

	seeded bool
}

func New(processNoise, measurementNoise float64) *Filter {
	if processNoise <= 0 {
		processNoise = 0.065
	}
	if measurementNoise <= 0 {
		measurementNoise = 1.4
	}
	return &Filter{q: processNoise, r: measurementNoise}
}

// Update feeds one raw measurement and returns the new smoothed value.
// The first measurement seeds the state directly. Output is clamped at
// zero since a distance can never be negative.
func (f *Filter) Update(measurement float64) float64 {
	if measurement < 0 {
		measurement = 0
	}
	if !f.seeded {
		f.x = measurement
		f.p = f.r
		f.seeded = true
		return f.x
	}

	// Predict: state carries over, uncertainty grows by process noise.
	p := f.p + f.q

	// Update: blend prediction and measurement by the Kalman gain.
	k := p / (p + f.r)
	f.x = f.x + k*(measurement-f.x)
	f.p = (1 - k) * p

	if f.x < 0 {
		f.x = 0
	}
	return f.x
}

// Value returns the current smoothed estimate.
func (f *Filter) Value() float64 {
	return f.x
}

// Seeded reports whether the filter has consumed at least one sample.
func (f *Filter) Seeded() bool {
	return f.seeded
}
