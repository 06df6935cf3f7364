//go:build unix

package native

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func lockHost(ptr unsafe.Pointer, bytes int64) error {
	return unix.Mlock(unsafe.Slice((*byte)(ptr), bytes))
}

func unlockHost(ptr unsafe.Pointer, bytes int64) error {
	return unix.Munlock(unsafe.Slice((*byte)(ptr), bytes))
}
