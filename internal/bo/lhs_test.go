package bo

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatinHypercubeStratified(t *testing.T) {
	tests := []struct {
		n, size int
	}{
		{n: 5, size: 21},
		{n: 10, size: 100},
		{n: 7, size: 7},
		{n: 1, size: 3},
	}

	for _, tt := range tests {
		idx := latinHypercube(tt.n, tt.size, 42)
		require.Len(t, idx, tt.n)

		sorted := append([]int(nil), idx...)
		sort.Ints(sorted)
		width := float64(tt.size) / float64(tt.n)
		for i, v := range sorted {
			assert.GreaterOrEqual(t, v, int(math.Floor(float64(i)*width)), "n=%d size=%d stratum %d", tt.n, tt.size, i)
			assert.LessOrEqual(t, v, min(int(math.Ceil(float64(i+1)*width)), tt.size-1), "n=%d size=%d stratum %d", tt.n, tt.size, i)
		}
	}
}

func TestLatinHypercubeReproducible(t *testing.T) {
	a := latinHypercube(8, 50, 3)
	b := latinHypercube(8, 50, 3)
	assert.Equal(t, a, b)
}

func TestLatinHypercubeMoreDrawsThanCandidates(t *testing.T) {
	idx := latinHypercube(10, 3, 0)
	require.Len(t, idx, 10)
	for _, v := range idx {
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, 3)
	}
}
