package synthetic

import (
	"context"
	"fmt"
	"sort"

	"github.com/cwbudde/latentbo/internal/space"
)

// Objective matches the controller's objective contract.
type Objective interface {
	Evaluate(ctx context.Context, schedule []float64, index int) (float64, error)
}

// Problem pairs a decoder with the objective that scores its schedules.
type Problem struct {
	Decoder   space.Decoder
	Objective Objective
}

var problems = map[string]func(seed int64) Problem{
	// Admissible only on the diagonal of [0,1]^2; optimum at (0.5, 0.5)
	"diagonal": func(int64) Problem {
		return Problem{
			Decoder:   Band{Shift: 1, Width: 0.01},
			Objective: NegDistance{Target: space.Candidate{0.5, 0.5}, Shift: 1},
		}
	},
	// Every point of [-3,3]^2 admissible; optimum at (1, -1)
	"distance": func(int64) Problem {
		return Problem{
			Decoder:   Shifted{Shift: 4},
			Objective: NegDistance{Target: space.Candidate{1, -1}, Shift: 4},
		}
	},
	// Ramp schedules with a noisy similarity score
	"ramp": func(seed int64) Problem {
		return Problem{
			Decoder:   LinearRamp{Length: 24},
			Objective: NewRampScore(1.2, 2.0, 0.01, seed),
		}
	},
}

// NewProblem returns the named problem. seed drives any objective noise.
func NewProblem(name string, seed int64) (Problem, error) {
	build, ok := problems[name]
	if !ok {
		return Problem{}, fmt.Errorf("unknown synthetic problem %q (available: %v)", name, ProblemNames())
	}
	return build(seed), nil
}

// ProblemNames lists the available problems in sorted order.
func ProblemNames() []string {
	names := make([]string, 0, len(problems))
	for name := range problems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
