package tensor

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is matched by every *ShapeMismatchError.
var ErrShapeMismatch = errors.New("shape mismatch")

// ShapeMismatchError reports a dimension that disagrees between two
// components, e.g. an adapter output width against the decoder width.
type ShapeMismatchError struct {
	Op   string
	What string
	Want int
	Got  int
}

func (e *ShapeMismatchError) Error() string {
	what := e.What
	if what == "" {
		what = "width"
	}
	return fmt.Sprintf("%s: %s mismatch: want %d, got %d", e.Op, what, e.Want, e.Got)
}

func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

// CheckWidth returns a *ShapeMismatchError when got != want.
func CheckWidth(op string, want, got int) error {
	if want != got {
		return &ShapeMismatchError{Op: op, What: "width", Want: want, Got: got}
	}
	return nil
}
