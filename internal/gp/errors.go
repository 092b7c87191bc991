package gp

import "fmt"

// FitError reports a surrogate fit that produced non-finite values or a covariance matrix that
// could not be factorized.
type FitError struct {
	Epoch     int
	Restarted bool
	Err       error
}

func (e *FitError) Error() string {
	if e.Restarted {
		return fmt.Sprintf("gp fit failed after restart at epoch %d: %v", e.Epoch, e.Err)
	}
	return fmt.Sprintf("gp fit failed at epoch %d: %v", e.Epoch, e.Err)
}

func (e *FitError) Unwrap() error {
	return e.Err
}
