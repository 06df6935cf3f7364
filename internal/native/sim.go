package native

import (
	"fmt"
	"sync"
	"unsafe"
)

// DefaultSimBytes is the simulated device heap size when none is configured.
const DefaultSimBytes = 1 << 30

// SimConfig tunes the simulated driver.
type SimConfig struct {
	// DeviceBytes caps the simulated device heap. Allocations beyond the
	// cap fail with the driver's out-of-memory status, which is how the
	// allocator's reclamation ladder is exercised without hardware.
	DeviceBytes int64
}

// Sim is a host-backed stand-in for the CUDA driver. Device buffers live in
// process memory, streams queue their copies and run them when synchronized,
// and pinned registration is tracked (and mlocked where the platform allows).
type Sim struct {
	mu       sync.Mutex
	capacity int64
	used     int64
	buffers  map[unsafe.Pointer][]byte
	pinned   map[unsafe.Pointer]hostPin
}

type hostPin struct {
	bytes  int64
	locked bool
}

type simStream struct {
	mu  sync.Mutex
	ops []func()
}

// NewSim returns a simulated driver with the configured heap size.
func NewSim(cfg SimConfig) *Sim {
	capacity := cfg.DeviceBytes
	if capacity <= 0 {
		capacity = DefaultSimBytes
	}
	return &Sim{
		capacity: capacity,
		buffers:  make(map[unsafe.Pointer][]byte),
		pinned:   make(map[unsafe.Pointer]hostPin),
	}
}

func (*Sim) Name() string { return "sim" }

func (*Sim) DeviceCount() (int, error) { return 1, nil }

func (*Sim) SetDevice(id int) error {
	if id != 0 {
		return fmt.Errorf("sim driver has a single device, got id %d", id)
	}
	return nil
}

func (d *Sim) MemInfo() (int64, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capacity - d.used, d.capacity, nil
}

func (*Sim) NewStream() (Stream, error) {
	return Stream{h: unsafe.Pointer(&simStream{})}, nil
}

func (d *Sim) DestroyStream(s Stream) error {
	// Pending work completes before the stream goes away, matching the
	// runtime's stream-destroy semantics.
	return d.Synchronize(s)
}

func (d *Sim) Synchronize(s Stream) error {
	if s.h == nil {
		return nil
	}
	st := (*simStream)(s.h)
	st.mu.Lock()
	ops := st.ops
	st.ops = nil
	st.mu.Unlock()
	for _, op := range ops {
		op()
	}
	return nil
}

func (d *Sim) Alloc(bytes int64) (DeviceBuffer, error) {
	if bytes <= 0 {
		return DeviceBuffer{}, fmt.Errorf("device alloc size must be > 0")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.used+bytes > d.capacity {
		return DeviceBuffer{}, oomError("simMalloc")
	}
	backing := make([]byte, bytes)
	ptr := unsafe.Pointer(&backing[0])
	d.buffers[ptr] = backing
	d.used += bytes
	return DeviceBuffer{ptr: ptr}, nil
}

func (d *Sim) Free(b DeviceBuffer) error {
	if b.ptr == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	backing, ok := d.buffers[b.ptr]
	if !ok {
		return &Error{Op: "simFree", Code: 1, Msg: "invalid device pointer"}
	}
	delete(d.buffers, b.ptr)
	d.used -= int64(len(backing))
	return nil
}

func (d *Sim) RegisterHost(ptr unsafe.Pointer, bytes int64) error {
	if bytes <= 0 {
		return fmt.Errorf("host register size must be > 0")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pinned[ptr]; ok {
		return &Error{Op: "simHostRegister", Code: 1, Msg: "host memory already registered"}
	}
	// Registration bookkeeping is what the allocator relies on; the mlock
	// itself is best effort since locked-memory limits vary by environment.
	locked := lockHost(ptr, bytes) == nil
	d.pinned[ptr] = hostPin{bytes: bytes, locked: locked}
	return nil
}

func (d *Sim) UnregisterHost(ptr unsafe.Pointer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pin, ok := d.pinned[ptr]
	if !ok {
		return &Error{Op: "simHostUnregister", Code: 1, Msg: "host memory not registered"}
	}
	delete(d.pinned, ptr)
	if pin.locked {
		return unlockHost(ptr, pin.bytes)
	}
	return nil
}

func (d *Sim) MemcpyH2DAsync(dst DeviceBuffer, src unsafe.Pointer, bytes int64, s Stream) error {
	if bytes <= 0 {
		return nil
	}
	d.mu.Lock()
	backing, ok := d.buffers[dst.ptr]
	d.mu.Unlock()
	if !ok || int64(len(backing)) < bytes {
		return &Error{Op: "simMemcpyH2D", Code: 1, Msg: "invalid device destination"}
	}
	srcView := unsafe.Slice((*byte)(src), bytes)
	return enqueue(s, func() {
		copy(backing[:bytes], srcView)
	})
}

func (d *Sim) MemcpyD2HAsync(dst unsafe.Pointer, src DeviceBuffer, bytes int64, s Stream) error {
	if bytes <= 0 {
		return nil
	}
	d.mu.Lock()
	backing, ok := d.buffers[src.ptr]
	d.mu.Unlock()
	if !ok || int64(len(backing)) < bytes {
		return &Error{Op: "simMemcpyD2H", Code: 1, Msg: "invalid device source"}
	}
	dstView := unsafe.Slice((*byte)(dst), bytes)
	return enqueue(s, func() {
		copy(dstView, backing[:bytes])
	})
}

// enqueue defers op onto the stream, or runs it immediately on the default
// stream, which is synchronous.
func enqueue(s Stream, op func()) error {
	if s.h == nil {
		op()
		return nil
	}
	st := (*simStream)(s.h)
	st.mu.Lock()
	st.ops = append(st.ops, op)
	st.mu.Unlock()
	return nil
}
