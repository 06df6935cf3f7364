//go:build !unix

package native

import (
	"errors"
	"unsafe"
)

var errNoMlock = errors.New("page locking not supported on this platform")

func lockHost(ptr unsafe.Pointer, bytes int64) error { return errNoMlock }

func unlockHost(ptr unsafe.Pointer, bytes int64) error { return nil }
