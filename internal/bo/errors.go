package bo

import (
	"fmt"

	"github.com/cwbudde/latentbo/internal/space"
)

// ObjectiveError reports an evaluation that kept failing, or kept returning a non-finite value,
// after every allowed retry. It ends the run; the last checkpoint stays resumable.
type ObjectiveError struct {
	Evaluation int
	Candidate  space.Candidate
	Attempts   int
	Err        error
}

func (e *ObjectiveError) Error() string {
	return fmt.Sprintf("objective evaluation %d at z=%v failed after %d attempts: %v",
		e.Evaluation, e.Candidate, e.Attempts, e.Err)
}

func (e *ObjectiveError) Unwrap() error {
	return e.Err
}
