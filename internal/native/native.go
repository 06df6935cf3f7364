// Package native is the boundary to the device driver. It exposes the small
// set of primitives the rest of strata consumes: device memory allocation and
// release, pinned registration of host buffers, streams, and asynchronous
// copies between host and device.
//
// Two drivers implement the boundary: the CUDA runtime (available when built
// with the cuda tag) and a host-simulated driver that backs device memory
// with process memory and models stream asynchrony by deferring copies until
// the stream is synchronized. The simulated driver is what tests and
// CUDA-less builds run against.
package native

import "unsafe"

// Stream is an opaque handle to an ordered queue of device work. The zero
// Stream is the driver's default stream; copies issued on it complete before
// the call returns.
type Stream struct {
	h unsafe.Pointer
}

// Valid reports whether the stream refers to a created stream.
func (s Stream) Valid() bool { return s.h != nil }

// DeviceBuffer is a handle to one device-memory region.
type DeviceBuffer struct {
	ptr unsafe.Pointer
}

// Ptr returns the raw device address.
func (b DeviceBuffer) Ptr() unsafe.Pointer { return b.ptr }

// IsNil reports whether the buffer holds no allocation.
func (b DeviceBuffer) IsNil() bool { return b.ptr == nil }

// Driver is the set of native primitives strata consumes. Implementations
// must be safe for use from multiple goroutines; Free, UnregisterHost and the
// copy entry points in particular are reached from finalizer and transfer
// goroutines.
type Driver interface {
	Name() string

	DeviceCount() (int, error)
	SetDevice(id int) error
	// MemInfo returns free and total device memory in bytes.
	MemInfo() (free, total int64, err error)

	NewStream() (Stream, error)
	DestroyStream(s Stream) error
	// Synchronize blocks until all work queued on s has completed.
	Synchronize(s Stream) error

	Alloc(bytes int64) (DeviceBuffer, error)
	Free(b DeviceBuffer) error

	// RegisterHost pins an existing host region for fast transfer.
	RegisterHost(ptr unsafe.Pointer, bytes int64) error
	UnregisterHost(ptr unsafe.Pointer) error

	MemcpyH2DAsync(dst DeviceBuffer, src unsafe.Pointer, bytes int64, s Stream) error
	MemcpyD2HAsync(dst unsafe.Pointer, src DeviceBuffer, bytes int64, s Stream) error
}

// HasCUDA reports whether the CUDA driver was compiled into this binary.
func HasCUDA() bool { return cudaBuilt }
