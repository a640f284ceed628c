package kalman

import (
	"math"
	"testing"
)

func TestDeterministicForSameInput(t *testing.T) {
	inputs := []float64{3.2, 4.8, 2.9, 6.1, 5.5, 5.2, 4.9, 7.3, 5.0}
	a := New(0.065, 1.4)
	b := New(0.065, 1.4)
	for _, v := range inputs {
		got, want := a.Update(v), b.Update(v)
		if got != want {
			t.Fatalf("filters diverged: %f vs %f", got, want)
		}
	}
}

func TestSeedsOnFirstSample(t *testing.T) {
	f := New(0.065, 1.4)
	if f.Seeded() {
		t.Fatalf("fresh filter reports seeded")
	}
	if got := f.Update(4.2); got != 4.2 {
		t.Fatalf("first sample should seed directly, got %f", got)
	}
	if !f.Seeded() {
		t.Fatalf("filter not seeded after first sample")
	}
}

func TestConvergesTowardConstantInput(t *testing.T) {
	f := New(0.065, 1.4)
	f.Update(1.0)
	var got float64
	for i := 0; i < 50; i++ {
		got = f.Update(8.0)
	}
	if math.Abs(got-8.0) > 0.1 {
		t.Fatalf("filter did not converge: %f", got)
	}
}

func TestSmoothsNoisyInput(t *testing.T) {
	// Alternating measurements around 5m must land strictly between the
	// extremes, not track them.
	f := New(0.065, 1.4)
	f.Update(5.0)
	var got float64
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			got = f.Update(7.0)
		} else {
			got = f.Update(3.0)
		}
	}
	if got <= 3.5 || got >= 6.5 {
		t.Fatalf("output not damped: %f", got)
	}
}

func TestNeverNegative(t *testing.T) {
	f := New(0.065, 1.4)
	for _, v := range []float64{0.5, -2.0, 0.0, -1.0, 0.2} {
		if got := f.Update(v); got < 0 {
			t.Fatalf("negative output: %f", got)
		}
	}
}
