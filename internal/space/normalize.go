package space

// Normalize applies per-axis min-max normalization and returns the normalized points together
// with the per-axis bounds used. An axis with zero span maps to 0.
func Normalize(raw []Candidate) (norm []Candidate, lower, upper Candidate) {
	norm = make([]Candidate, len(raw))
	if len(raw) == 0 {
		return norm, lower, upper
	}

	lower, upper = raw[0], raw[0]
	for _, c := range raw[1:] {
		for d := range c {
			if c[d] < lower[d] {
				lower[d] = c[d]
			}
			if c[d] > upper[d] {
				upper[d] = c[d]
			}
		}
	}

	for i, c := range raw {
		norm[i] = Scale(c, lower, upper)
	}
	return norm, lower, upper
}

// Scale maps c into the unit box defined by lower and upper.
func Scale(c, lower, upper Candidate) Candidate {
	var out Candidate
	for d := range c {
		span := upper[d] - lower[d]
		if span > 0 {
			out[d] = (c[d] - lower[d]) / span
		}
	}
	return out
}

// Slices converts candidates to row vectors for the surrogate.
func Slices(cs []Candidate) [][]float64 {
	out := make([][]float64, len(cs))
	for i := range cs {
		out[i] = []float64{cs[i][0], cs[i][1]}
	}
	return out
}
