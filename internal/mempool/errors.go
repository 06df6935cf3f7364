package mempool

import (
	"errors"
	"fmt"
)

// ErrHostUnregistered reports a use of a pinned host buffer whose
// registration has already been released.
var ErrHostUnregistered = errors.New("mempool: host buffer is unregistered")

// OutOfMemoryError reports that a device allocation failed even after the
// full reclamation ladder ran. It is the only recoverable failure the pool
// produces: calling Alloc again with the same size restarts the ladder.
type OutOfMemoryError struct {
	// Bytes is the size of the allocation that could not be satisfied.
	Bytes int64
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("device out of memory allocating %d bytes", e.Bytes)
}

// IsOOM reports whether err is an exhausted-ladder allocation failure.
func IsOOM(err error) bool {
	var oom *OutOfMemoryError
	return errors.As(err, &oom)
}
