package native

import (
	"errors"
	"fmt"
)

// codeMemoryAllocation is cudaErrorMemoryAllocation, the runtime status for
// an exhausted device heap. The simulated driver reports the same code so
// out-of-memory classification is uniform across drivers.
const codeMemoryAllocation = 2

// Error is a failed driver call.
type Error struct {
	Op   string
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (code %d)", e.Op, e.Msg, e.Code)
}

// IsOOM reports whether err is the driver's out-of-memory status.
func IsOOM(err error) bool {
	var ne *Error
	return errors.As(err, &ne) && ne.Code == codeMemoryAllocation
}

func oomError(op string) *Error {
	return &Error{Op: op, Code: codeMemoryAllocation, Msg: "out of memory"}
}
