package trainer

import (
	"errors"
	"fmt"
)

// ErrNumericDivergence is matched by every *NumericDivergenceError.
var ErrNumericDivergence = errors.New("training diverged")

// NumericDivergenceError reports a loss that became NaN or infinite.
type NumericDivergenceError struct {
	Epoch int // 1-based
	Index int // example index within the epoch
	Loss  float64
}

func (e *NumericDivergenceError) Error() string {
	return fmt.Sprintf("training diverged at epoch %d, example %d: loss %v", e.Epoch, e.Index, e.Loss)
}

func (e *NumericDivergenceError) Unwrap() error { return ErrNumericDivergence }
