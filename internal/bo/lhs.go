package bo

import (
	"math"
	"math/rand"
)

// latinHypercube draws n indices from [0, size) with one uniform draw in each of n equal-width
// strata, shuffled. Draws are rounded to the nearest index and clamped to size-1, so repeats
// are possible when n exceeds size.
func latinHypercube(n, size int, seed int64) []int {
	rng := rand.New(rand.NewSource(seed))

	points := make([]float64, n)
	for i := range points {
		points[i] = (float64(i) + rng.Float64()) / float64(n) * float64(size)
	}
	rng.Shuffle(n, func(i, j int) {
		points[i], points[j] = points[j], points[i]
	})

	indices := make([]int, n)
	for i, p := range points {
		indices[i] = min(int(math.Round(p)), size-1)
	}
	return indices
}
