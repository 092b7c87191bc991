package opt

import (
	"math"
	"testing"
)

// Shifted sphere with a different optimum per dimension
func shiftedSphere(x []float64) float64 {
	centers := []float64{1.5, -2, 0.25}
	var sum float64
	for i, v := range x {
		d := v - centers[i]
		sum += d * d
	}
	return sum
}

func TestMayflyAdapterPerDimensionBounds(t *testing.T) {
	optimizer := NewMayfly(100, 20, 42)

	lower := []float64{0, -5, -1}
	upper := []float64{3, 0, 1}

	best, cost, err := optimizer.Minimize(shiftedSphere, lower, upper)
	if err != nil {
		t.Fatalf("Minimize failed: %v", err)
	}
	if len(best) != 3 {
		t.Fatalf("Expected 3 parameters, got %d", len(best))
	}
	if cost > 0.1 {
		t.Errorf("Expected cost near 0, got %f", cost)
	}

	for i, v := range best {
		if v < lower[i] || v > upper[i] {
			t.Errorf("Parameter %d = %f outside [%f, %f]", i, v, lower[i], upper[i])
		}
	}
	if math.Abs(best[1]+2) > 0.5 {
		t.Errorf("Parameter 1 = %f, expected near -2", best[1])
	}
}

func TestMayflyAdapterDeterministic(t *testing.T) {
	lower := []float64{-5, -5}
	upper := []float64{5, 5}

	_, cost1, err := NewMayfly(50, 20, 123).Minimize(shiftedSphere, lower, upper)
	if err != nil {
		t.Fatalf("Minimize failed: %v", err)
	}
	_, cost2, err := NewMayfly(50, 20, 123).Minimize(shiftedSphere, lower, upper)
	if err != nil {
		t.Fatalf("Minimize failed: %v", err)
	}

	if cost1 != cost2 {
		t.Errorf("Non-deterministic: cost1=%f, cost2=%f", cost1, cost2)
	}
}

func TestMayflyAdapterRejectsBadBounds(t *testing.T) {
	opt := NewMayfly(10, 20, 1)

	if _, _, err := opt.Minimize(shiftedSphere, []float64{0}, []float64{0, 1}); err == nil {
		t.Error("Expected error for mismatched bounds")
	}
	if _, _, err := opt.Minimize(shiftedSphere, []float64{1}, []float64{1}); err == nil {
		t.Error("Expected error for empty range")
	}
}
