// Package backend builds the decoder and objective a run optimizes against: an in-process
// synthetic problem or a remote model service.
package backend

import (
	"fmt"
	"time"

	"github.com/cwbudde/latentbo/internal/bo"
	"github.com/cwbudde/latentbo/internal/remote"
	"github.com/cwbudde/latentbo/internal/space"
	"github.com/cwbudde/latentbo/internal/synthetic"
)

// Backend kinds
const (
	Synthetic = "synthetic"
	Remote    = "remote"
)

// EvaluateTimeout bounds one remote request. An evaluation trains a model, so it is generous.
const EvaluateTimeout = 10 * time.Minute

// Spec selects a backend. Problem applies to Synthetic, the rest to Remote.
type Spec struct {
	Kind     string
	Problem  string
	ModelURL string
	Dataset  string
	Params   map[string]any
}

// New builds the decoder and objective described by spec. seed drives any synthetic
// objective noise.
func New(spec Spec, seed int64) (space.Decoder, bo.Objective, error) {
	switch spec.Kind {
	case Synthetic:
		p, err := synthetic.NewProblem(spec.Problem, seed)
		if err != nil {
			return nil, nil, err
		}
		return p.Decoder, p.Objective, nil
	case Remote:
		c, err := remote.NewClient(spec.ModelURL, remote.Options{
			Timeout: EvaluateTimeout,
			Dataset: spec.Dataset,
			Params:  spec.Params,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend: %s", spec.Kind)
	}
}
